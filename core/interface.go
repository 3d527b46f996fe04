package core

import (
	"context"
	"errors"
	"log/slog"

	"github.com/najoast/netsim/topology"
)

// ErrUnsupportedOption is returned by Configure for options an
// implementation does not know.
var ErrUnsupportedOption = errors.New("unsupported option")

// Actor is a running unit of the simulated network. Every relay and
// endpoint implementation satisfies it, so heterogeneous implementations
// are handled through this interface alone.
type Actor interface {
	// ID returns the node this actor runs.
	ID() topology.NodeID

	// Run executes the actor loop. It returns nil after a Shutdown command
	// or when ctx is done, and an error if the loop cannot continue.
	Run(ctx context.Context) error

	// Kind returns the implementation identifier.
	Kind() string

	// Configure applies implementation-specific options. It must be called
	// before Run.
	Configure(opts Options) error
}

// Options are implementation-specific settings passed to Configure.
type Options map[string]string

// Spec is everything a constructor receives to build one actor. The channel
// endpoints in it are moved into the actor; the caller keeps no copy.
type Spec struct {
	// ID of the node
	ID topology.NodeID

	// Commands from the supervisor
	Commands Receiver[Command]

	// Events to the supervisor
	Events Sender[Event]

	// Inbox is this node's data mailbox
	Inbox Receiver[Packet]

	// Outbound holds one sender per declared neighbor
	Outbound map[topology.NodeID]Sender[Packet]

	// DropProbability is meaningful for relays only
	DropProbability float64

	// Logger for the actor, nil means slog.Default()
	Logger *slog.Logger

	// Metrics sink, nil means NopMetrics()
	Metrics Metrics
}

// Constructor builds an actor from a Spec.
type Constructor func(spec Spec) (Actor, error)

// Metrics receives simulation measurements.
type Metrics interface {
	PacketForwarded(node topology.NodeID, kind PacketKind)
	PacketDropped(node topology.NodeID)
	MailboxDepth(node topology.NodeID, depth int)
	ActorSpawned(role topology.Role, kind string)
	PhaseReached(phase string)
	EventObserved(eventType string)
}

type nopMetrics struct{}

func (nopMetrics) PacketForwarded(topology.NodeID, PacketKind) {}
func (nopMetrics) PacketDropped(topology.NodeID)               {}
func (nopMetrics) MailboxDepth(topology.NodeID, int)           {}
func (nopMetrics) ActorSpawned(topology.Role, string)          {}
func (nopMetrics) PhaseReached(string)                         {}
func (nopMetrics) EventObserved(string)                        {}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }
