// Package relay implements the relay actors of the simulated network.
//
// Two implementations exist. "standard" answers a dropped fragment with a
// Nack along the reversed route; "quiet" only reports the drop to the
// supervisor. Both forward by source route and hand Acks and Nacks they
// cannot route to the supervisor as a controller shortcut.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/najoast/netsim/core"
	"github.com/najoast/netsim/topology"
)

const (
	// KindStandard is the default relay implementation
	KindStandard = "standard"

	// KindQuiet drops without sending a Nack
	KindQuiet = "quiet"

	// OptionSeed seeds the drop decision RNG
	OptionSeed = "seed"
)

var (
	errNoNextHop       = errors.New("no next hop")
	errUnknownNeighbor = errors.New("next hop is not a neighbor")
)

// Relay forwards packets between neighbors and drops fragments with its
// drop probability.
type Relay struct {
	*core.Loop

	kind      string
	nackDrops bool
	pdr       float64
	neighbors map[topology.NodeID]core.Sender[core.Packet]
	rng       *rand.Rand
	crashed   bool
}

// NewStandard builds a standard relay.
func NewStandard(spec core.Spec) (core.Actor, error) {
	return newRelay(spec, KindStandard, true)
}

// NewQuiet builds a quiet relay.
func NewQuiet(spec core.Spec) (core.Actor, error) {
	return newRelay(spec, KindQuiet, false)
}

func newRelay(spec core.Spec, kind string, nackDrops bool) (*Relay, error) {
	if !(spec.DropProbability >= 0 && spec.DropProbability <= 1) {
		return nil, fmt.Errorf("drop probability %v out of range", spec.DropProbability)
	}
	neighbors := spec.Outbound
	if neighbors == nil {
		neighbors = make(map[topology.NodeID]core.Sender[core.Packet])
	}
	return &Relay{
		Loop:      core.NewLoop(spec),
		kind:      kind,
		nackDrops: nackDrops,
		pdr:       spec.DropProbability,
		neighbors: neighbors,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(spec.ID))),
	}, nil
}

// Constructors maps every relay kind to its constructor.
func Constructors() map[string]core.Constructor {
	return map[string]core.Constructor{
		KindStandard: NewStandard,
		KindQuiet:    NewQuiet,
	}
}

// Register adds the given kinds to reg in order, each with opts.
func Register(reg *core.Registry, kinds []string, opts core.Options) error {
	ctors := Constructors()
	for _, kind := range kinds {
		ctor, ok := ctors[kind]
		if !ok {
			return fmt.Errorf("unknown relay kind %q", kind)
		}
		if err := reg.Register(kind, ctor, opts); err != nil {
			return err
		}
	}
	return nil
}

// Kind returns the implementation identifier.
func (r *Relay) Kind() string { return r.kind }

// Configure accepts the seed option.
func (r *Relay) Configure(opts core.Options) error {
	for key, value := range opts {
		switch key {
		case OptionSeed:
			seed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", OptionSeed, value, err)
			}
			r.rng = rand.New(rand.NewSource(seed + int64(r.ID())))
		default:
			return fmt.Errorf("%w: %s", core.ErrUnsupportedOption, key)
		}
	}
	return nil
}

// Run executes the relay loop.
func (r *Relay) Run(ctx context.Context) error {
	r.Logger().Debug("relay started", slog.String("kind", r.kind), slog.Float64("pdr", r.pdr))
	return r.Loop.Run(ctx, r)
}

// DropProbability returns the current drop probability.
func (r *Relay) DropProbability() float64 { return r.pdr }

// HandleCommand applies a supervisor command.
func (r *Relay) HandleCommand(ctx context.Context, cmd core.Command) (bool, error) {
	switch c := cmd.(type) {
	case core.Shutdown:
		return true, nil

	case core.Crash:
		r.crashed = true
		r.SetState(core.ActorStateCrashed)
		r.Logger().Info("relay crashing")
		inbox := r.Inbox()
		for inbox.Len() > 0 {
			select {
			case pkt, ok := <-inbox.C():
				if !ok {
					return true, nil
				}
				if err := r.HandlePacket(ctx, pkt); err != nil {
					return true, err
				}
			case <-ctx.Done():
				return true, nil
			}
		}
		return true, nil

	case core.SetDropProbability:
		if !(c.Probability >= 0 && c.Probability <= 1) {
			r.reject(cmd, fmt.Sprintf("drop probability %v out of range", c.Probability))
			return false, nil
		}
		r.pdr = c.Probability

	case core.AddNeighbor:
		if c.ID == r.ID() || !c.Sender.Connected() {
			r.reject(cmd, "invalid neighbor")
			return false, nil
		}
		r.neighbors[c.ID] = c.Sender

	case core.RemoveNeighbor:
		if _, ok := r.neighbors[c.ID]; !ok {
			r.reject(cmd, fmt.Sprintf("%d is not a neighbor", c.ID))
			return false, nil
		}
		delete(r.neighbors, c.ID)

	default:
		r.reject(cmd, "not supported by relays")
	}
	return false, nil
}

// HandlePacket routes one packet.
func (r *Relay) HandlePacket(_ context.Context, pkt core.Packet) error {
	if len(pkt.Route) == 0 {
		r.Logger().Warn("packet without route discarded", slog.Uint64("session", pkt.Session))
		return nil
	}

	if cur, ok := pkt.Current(); !ok || cur != r.ID() {
		r.refuse(pkt, core.NackUnexpectedRecipient)
		return nil
	}

	if pkt.Kind != core.PacketFragment {
		if err := r.forward(pkt); err != nil {
			r.Logger().Debug("shortcut to supervisor", slog.String("packet", pkt.String()), slog.Any("reason", err))
			r.Emit(core.ControllerShortcut{Node: r.ID(), Packet: pkt})
		}
		return nil
	}

	if r.crashed {
		r.refuse(pkt, core.NackErrorInRouting)
		return nil
	}
	if _, ok := pkt.Next(); !ok {
		r.refuse(pkt, core.NackDestinationIsRelay)
		return nil
	}
	if _, ok := r.neighbors[pkt.Route[pkt.Hop+1]]; !ok {
		r.refuse(pkt, core.NackErrorInRouting)
		return nil
	}

	if r.rng.Float64() < r.pdr {
		r.Metrics().PacketDropped(r.ID())
		r.Emit(core.PacketDropped{Node: r.ID(), Packet: pkt})
		if r.nackDrops {
			r.refuse(pkt, core.NackDropped)
		}
		return nil
	}

	if err := r.forward(pkt); err != nil {
		r.refuse(pkt, core.NackErrorInRouting)
	}
	return nil
}

// forward hands pkt to the next hop of its route.
func (r *Relay) forward(pkt core.Packet) error {
	next, ok := pkt.Next()
	if !ok {
		return errNoNextHop
	}
	s, ok := r.neighbors[next]
	if !ok {
		return fmt.Errorf("%w: %d", errUnknownNeighbor, next)
	}
	pkt.Hop++
	if err := s.Send(pkt); err != nil {
		return err
	}
	r.Metrics().PacketForwarded(r.ID(), pkt.Kind)
	r.Emit(core.PacketSent{Node: r.ID(), Packet: pkt})
	return nil
}

// refuse answers a fragment with a Nack. Acks and Nacks are never answered;
// they go to the supervisor instead.
func (r *Relay) refuse(pkt core.Packet, reason core.NackReason) {
	if pkt.Kind != core.PacketFragment {
		r.Emit(core.ControllerShortcut{Node: r.ID(), Packet: pkt})
		return
	}

	nack := pkt.Reply(core.PacketNack, reason)
	nack.Route[0] = r.ID()
	nack.Source = r.ID()
	if err := r.forward(nack); err != nil {
		r.Emit(core.ControllerShortcut{Node: r.ID(), Packet: nack})
	}
}

func (r *Relay) reject(cmd core.Command, reason string) {
	r.Logger().Warn("command rejected", slog.String("command", core.CommandName(cmd)), slog.String("reason", reason))
	r.Emit(core.CommandRejected{Node: r.ID(), Command: core.CommandName(cmd), Reason: reason})
}
