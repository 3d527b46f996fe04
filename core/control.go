package core

import (
	"fmt"

	"github.com/najoast/netsim/topology"
)

// Command is a supervisor-to-actor control message.
type Command interface {
	commandName() string
}

// Shutdown asks an actor to leave its loop.
type Shutdown struct{}

// Crash makes a relay stop accepting fragments, drain its inbox and exit.
type Crash struct{}

// SetDropProbability changes a relay's drop probability.
type SetDropProbability struct {
	Probability float64
}

// AddNeighbor gives an actor a sender into a new neighbor's mailbox.
type AddNeighbor struct {
	ID     topology.NodeID
	Sender Sender[Packet]
}

// RemoveNeighbor drops the sender towards a neighbor.
type RemoveNeighbor struct {
	ID topology.NodeID
}

// SendPayload asks an originator to send a fragment along Route.
type SendPayload struct {
	Session uint64
	Route   []topology.NodeID
	Payload []byte
}

func (Shutdown) commandName() string           { return "shutdown" }
func (Crash) commandName() string              { return "crash" }
func (SetDropProbability) commandName() string { return "set_drop_probability" }
func (AddNeighbor) commandName() string        { return "add_neighbor" }
func (RemoveNeighbor) commandName() string     { return "remove_neighbor" }
func (SendPayload) commandName() string        { return "send_payload" }

// CommandName returns the wire name of c.
func CommandName(c Command) string {
	if c == nil {
		return "nil"
	}
	return c.commandName()
}

// Event is an actor-to-supervisor control message.
type Event interface {
	// Origin is the actor that emitted the event
	Origin() topology.NodeID

	// Type is a short event name used in logs and metrics
	Type() string
}

// PacketSent reports a packet handed to a neighbor.
type PacketSent struct {
	Node   topology.NodeID
	Packet Packet
}

// PacketDropped reports a fragment discarded by a relay.
type PacketDropped struct {
	Node   topology.NodeID
	Packet Packet
}

// ControllerShortcut hands an Ack or Nack to the supervisor when the relay
// cannot route it.
type ControllerShortcut struct {
	Node   topology.NodeID
	Packet Packet
}

// Received reports a fragment that reached its responder.
type Received struct {
	Node    topology.NodeID
	From    topology.NodeID
	Session uint64
	Payload []byte
}

// Delivered reports an Ack that reached its originator.
type Delivered struct {
	Node    topology.NodeID
	Session uint64
}

// Undeliverable reports a Nack that reached its originator.
type Undeliverable struct {
	Node    topology.NodeID
	Session uint64
	Reason  NackReason
}

// CommandRejected reports a command the actor does not understand or cannot apply.
type CommandRejected struct {
	Node    topology.NodeID
	Command string
	Reason  string
}

// Stopped reports that an actor's loop returned.
type Stopped struct {
	Node topology.NodeID
}

func (e PacketSent) Origin() topology.NodeID         { return e.Node }
func (e PacketDropped) Origin() topology.NodeID      { return e.Node }
func (e ControllerShortcut) Origin() topology.NodeID { return e.Node }
func (e Received) Origin() topology.NodeID           { return e.Node }
func (e Delivered) Origin() topology.NodeID          { return e.Node }
func (e Undeliverable) Origin() topology.NodeID      { return e.Node }
func (e CommandRejected) Origin() topology.NodeID    { return e.Node }
func (e Stopped) Origin() topology.NodeID            { return e.Node }

func (PacketSent) Type() string         { return "packet_sent" }
func (PacketDropped) Type() string      { return "packet_dropped" }
func (ControllerShortcut) Type() string { return "controller_shortcut" }
func (Received) Type() string           { return "received" }
func (Delivered) Type() string          { return "delivered" }
func (Undeliverable) Type() string      { return "undeliverable" }
func (CommandRejected) Type() string    { return "command_rejected" }
func (Stopped) Type() string            { return "stopped" }

// String returns a short description of the rejection.
func (e CommandRejected) String() string {
	return fmt.Sprintf("node %d rejected %s: %s", e.Node, e.Command, e.Reason)
}

// SupervisorSide is the supervisor's end of one actor's control pair.
type SupervisorSide struct {
	Commands Sender[Command]
	Events   Receiver[Event]
}

// ActorSide is the actor's end of its control pair.
type ActorSide struct {
	Commands Receiver[Command]
	Events   Sender[Event]
}

// NewControlPair allocates the two control mailboxes for one actor.
func NewControlPair() (SupervisorSide, ActorSide) {
	commands := NewMailbox[Command]()
	events := NewMailbox[Event]()
	return SupervisorSide{Commands: commands.Sender(), Events: events.Receiver()},
		ActorSide{Commands: commands.Receiver(), Events: events.Sender()}
}
