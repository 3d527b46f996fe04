// Package endpoint implements the originator and responder actors. Each
// role has exactly one implementation.
package endpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/najoast/netsim/core"
	"github.com/najoast/netsim/topology"
)

const (
	KindOriginator = "originator"
	KindResponder  = "responder"
)

// base holds what both endpoint roles share: the loop, the neighbor table
// and reply routing.
type base struct {
	*core.Loop

	kind      string
	neighbors map[topology.NodeID]core.Sender[core.Packet]
}

func newBase(spec core.Spec, kind string) (base, error) {
	if len(spec.Outbound) == 0 {
		return base{}, fmt.Errorf("%s %d has no neighbors", kind, spec.ID)
	}
	neighbors := make(map[topology.NodeID]core.Sender[core.Packet], len(spec.Outbound))
	for id, s := range spec.Outbound {
		neighbors[id] = s
	}
	return base{Loop: core.NewLoop(spec), kind: kind, neighbors: neighbors}, nil
}

// Kind returns the implementation identifier.
func (b *base) Kind() string { return b.kind }

// Configure rejects every option; endpoints have none.
func (b *base) Configure(opts core.Options) error {
	if len(opts) > 0 {
		return fmt.Errorf("%w: %s takes no options", core.ErrUnsupportedOption, b.kind)
	}
	return nil
}

// neighborCommand applies the commands both roles understand. handled is
// false for anything else.
func (b *base) neighborCommand(cmd core.Command) (stop, handled bool) {
	switch c := cmd.(type) {
	case core.Shutdown:
		return true, true
	case core.AddNeighbor:
		if c.ID == b.ID() || !c.Sender.Connected() {
			b.reject(cmd, "invalid neighbor")
		} else {
			b.neighbors[c.ID] = c.Sender
		}
		return false, true
	case core.RemoveNeighbor:
		if _, ok := b.neighbors[c.ID]; !ok {
			b.reject(cmd, fmt.Sprintf("%d is not a neighbor", c.ID))
		} else {
			delete(b.neighbors, c.ID)
		}
		return false, true
	}
	return false, false
}

func (b *base) send(pkt core.Packet) error {
	next, ok := pkt.Next()
	if !ok {
		return fmt.Errorf("packet %s has no next hop", pkt)
	}
	s, ok := b.neighbors[next]
	if !ok {
		return fmt.Errorf("next hop %d is not a neighbor", next)
	}
	pkt.Hop++
	if err := s.Send(pkt); err != nil {
		return err
	}
	b.Metrics().PacketForwarded(b.ID(), pkt.Kind)
	b.Emit(core.PacketSent{Node: b.ID(), Packet: pkt})
	return nil
}

// reply sends an Ack or Nack back along the reversed route, falling back to
// the supervisor when the first hop is not reachable.
func (b *base) reply(pkt core.Packet, kind core.PacketKind, reason core.NackReason) {
	back := pkt.Reply(kind, reason)
	back.Route[0] = b.ID()
	back.Source = b.ID()
	if err := b.send(back); err != nil {
		b.Logger().Debug("reply shortcut to supervisor", slog.String("packet", back.String()), slog.Any("reason", err))
		b.Emit(core.ControllerShortcut{Node: b.ID(), Packet: back})
	}
}

func (b *base) reject(cmd core.Command, reason string) {
	b.Logger().Warn("command rejected", slog.String("command", core.CommandName(cmd)), slog.String("reason", reason))
	b.Emit(core.CommandRejected{Node: b.ID(), Command: core.CommandName(cmd), Reason: reason})
}

// addressedToMe reports whether pkt has reached its last hop here.
func (b *base) addressedToMe(pkt core.Packet) bool {
	dst, ok := pkt.Destination()
	return ok && dst == b.ID() && pkt.Hop == len(pkt.Route)-1
}

// Originator injects fragments on request and reports their outcome.
type Originator struct {
	base
}

// NewOriginator builds the originator actor.
func NewOriginator(spec core.Spec) (core.Actor, error) {
	b, err := newBase(spec, KindOriginator)
	if err != nil {
		return nil, err
	}
	return &Originator{base: b}, nil
}

// Run executes the originator loop.
func (o *Originator) Run(ctx context.Context) error {
	return o.Loop.Run(ctx, o)
}

// HandleCommand handles SendPayload plus the shared neighbor commands.
func (o *Originator) HandleCommand(_ context.Context, cmd core.Command) (bool, error) {
	if stop, handled := o.neighborCommand(cmd); handled {
		return stop, nil
	}

	c, ok := cmd.(core.SendPayload)
	if !ok {
		o.reject(cmd, "not supported by originators")
		return false, nil
	}
	if len(c.Route) < 2 || c.Route[0] != o.ID() {
		o.reject(cmd, fmt.Sprintf("route %v does not start at %d", c.Route, o.ID()))
		return false, nil
	}

	route := make([]topology.NodeID, len(c.Route))
	copy(route, c.Route)
	pkt := core.Packet{
		Kind:    core.PacketFragment,
		Route:   route,
		Session: c.Session,
		Source:  o.ID(),
		Payload: c.Payload,
	}
	if err := o.send(pkt); err != nil {
		o.reject(cmd, err.Error())
	}
	return false, nil
}

// HandlePacket reports Acks and Nacks addressed to this originator.
func (o *Originator) HandlePacket(_ context.Context, pkt core.Packet) error {
	if !o.addressedToMe(pkt) {
		if pkt.Kind == core.PacketFragment && len(pkt.Route) > 0 {
			o.reply(pkt, core.PacketNack, core.NackUnexpectedRecipient)
		}
		return nil
	}

	switch pkt.Kind {
	case core.PacketAck:
		o.Emit(core.Delivered{Node: o.ID(), Session: pkt.Session})
	case core.PacketNack:
		o.Emit(core.Undeliverable{Node: o.ID(), Session: pkt.Session, Reason: pkt.Reason})
	default:
		o.reply(pkt, core.PacketNack, core.NackUnexpectedRecipient)
	}
	return nil
}

// Responder acknowledges fragments addressed to it.
type Responder struct {
	base
}

// NewResponder builds the responder actor.
func NewResponder(spec core.Spec) (core.Actor, error) {
	b, err := newBase(spec, KindResponder)
	if err != nil {
		return nil, err
	}
	return &Responder{base: b}, nil
}

// Run executes the responder loop.
func (r *Responder) Run(ctx context.Context) error {
	return r.Loop.Run(ctx, r)
}

// HandleCommand handles the shared neighbor commands.
func (r *Responder) HandleCommand(_ context.Context, cmd core.Command) (bool, error) {
	if stop, handled := r.neighborCommand(cmd); handled {
		return stop, nil
	}
	r.reject(cmd, "not supported by responders")
	return false, nil
}

// HandlePacket acknowledges fragments and discards everything else.
func (r *Responder) HandlePacket(_ context.Context, pkt core.Packet) error {
	if pkt.Kind != core.PacketFragment || len(pkt.Route) == 0 {
		r.Logger().Debug("discarding", slog.String("packet", pkt.String()))
		return nil
	}
	if !r.addressedToMe(pkt) {
		r.reply(pkt, core.PacketNack, core.NackUnexpectedRecipient)
		return nil
	}

	r.Emit(core.Received{Node: r.ID(), From: pkt.Route[0], Session: pkt.Session, Payload: pkt.Payload})
	r.reply(pkt, core.PacketAck, core.NackNone)
	return nil
}
