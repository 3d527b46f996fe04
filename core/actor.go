package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/najoast/netsim/topology"
)

// Handler is the per-implementation part of an actor. Loop calls it from a
// single goroutine, so implementations need no locking.
type Handler interface {
	// HandleCommand processes one control command. Returning stop ends the loop.
	HandleCommand(ctx context.Context, cmd Command) (stop bool, err error)

	// HandlePacket processes one data packet.
	HandlePacket(ctx context.Context, pkt Packet) error
}

// ActorStats contains runtime statistics for an actor.
type ActorStats struct {
	ID               topology.NodeID
	State            ActorState
	PacketsProcessed uint64
	InboxDepth       int
}

// Loop is the shared actor run loop. Relays and endpoints embed it and
// supply a Handler.
type Loop struct {
	id       topology.NodeID
	commands Receiver[Command]
	events   Sender[Event]
	inbox    Receiver[Packet]

	log     *slog.Logger
	metrics Metrics

	started   atomic.Bool
	state     atomic.Uint32 // ActorState
	processed atomic.Uint64
}

// NewLoop takes the control and data endpoints out of spec.
func NewLoop(spec Spec) *Loop {
	log := spec.Logger
	if log == nil {
		log = slog.Default()
	}
	m := spec.Metrics
	if m == nil {
		m = NopMetrics()
	}
	return &Loop{
		id:       spec.ID,
		commands: spec.Commands,
		events:   spec.Events,
		inbox:    spec.Inbox,
		log:      log.With(slog.Int("node", int(spec.ID))),
		metrics:  m,
	}
}

// ID returns the node id.
func (l *Loop) ID() topology.NodeID { return l.id }

// Logger returns the actor logger.
func (l *Loop) Logger() *slog.Logger { return l.log }

// Metrics returns the metrics sink.
func (l *Loop) Metrics() Metrics { return l.metrics }

// Inbox returns the data receiver, used when draining.
func (l *Loop) Inbox() Receiver[Packet] { return l.inbox }

// SetState records the actor state.
func (l *Loop) SetState(s ActorState) { l.state.Store(uint32(s)) }

// State returns the actor state.
func (l *Loop) State() ActorState { return ActorState(l.state.Load()) }

// Emit sends an event to the supervisor. A closed event mailbox only means
// the supervisor is gone, so the failure is logged and ignored.
func (l *Loop) Emit(e Event) {
	if err := l.events.Send(e); err != nil {
		l.log.Debug("event dropped", slog.String("event", e.Type()), slog.Any("error", err))
	}
}

// Stats returns current runtime statistics.
func (l *Loop) Stats() ActorStats {
	return ActorStats{
		ID:               l.id,
		State:            l.State(),
		PacketsProcessed: l.processed.Load(),
		InboxDepth:       l.inbox.Len(),
	}
}

// Run drives h until a command stops it, ctx is done, or a handler fails.
// Pending commands are served before the next packet.
func (l *Loop) Run(ctx context.Context, h Handler) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("actor %d is already started (state: %s)", l.id, l.State())
	}
	if !l.commands.Connected() || !l.inbox.Connected() {
		return fmt.Errorf("actor %d has no control or data receiver", l.id)
	}

	l.SetState(ActorStateRunning)
	defer func() {
		l.SetState(ActorStateStopped)
		l.Emit(Stopped{Node: l.id})
	}()

	for {
		select {
		case cmd, ok := <-l.commands.C():
			if done, err := l.command(ctx, h, cmd, ok); done {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil

		case cmd, ok := <-l.commands.C():
			if done, err := l.command(ctx, h, cmd, ok); done {
				return err
			}

		case pkt, ok := <-l.inbox.C():
			if !ok {
				return nil
			}
			l.processed.Add(1)
			l.metrics.MailboxDepth(l.id, l.inbox.Len())
			if err := h.HandlePacket(ctx, pkt); err != nil {
				return fmt.Errorf("actor %d: %w", l.id, err)
			}
		}
	}
}

func (l *Loop) command(ctx context.Context, h Handler, cmd Command, ok bool) (bool, error) {
	if !ok {
		// supervisor side closed
		return true, nil
	}
	stop, err := h.HandleCommand(ctx, cmd)
	if err != nil {
		return true, fmt.Errorf("actor %d: %s: %w", l.id, CommandName(cmd), err)
	}
	return stop, nil
}
