package core

import (
	"fmt"

	"github.com/najoast/netsim/topology"
)

// PacketKind defines the type of a data-plane packet.
type PacketKind uint8

const (
	// PacketFragment carries application payload
	PacketFragment PacketKind = iota

	// PacketAck acknowledges a delivered fragment
	PacketAck

	// PacketNack reports a fragment that could not be delivered
	PacketNack
)

// String returns the string representation of PacketKind.
func (k PacketKind) String() string {
	switch k {
	case PacketFragment:
		return "fragment"
	case PacketAck:
		return "ack"
	case PacketNack:
		return "nack"
	default:
		return "unknown"
	}
}

// NackReason explains why a fragment was not delivered.
type NackReason uint8

const (
	NackNone NackReason = iota
	NackDropped
	NackErrorInRouting
	NackDestinationIsRelay
	NackUnexpectedRecipient
)

// String returns the string representation of NackReason.
func (r NackReason) String() string {
	switch r {
	case NackNone:
		return "none"
	case NackDropped:
		return "dropped"
	case NackErrorInRouting:
		return "error_in_routing"
	case NackDestinationIsRelay:
		return "destination_is_relay"
	case NackUnexpectedRecipient:
		return "unexpected_recipient"
	default:
		return "unknown"
	}
}

// Packet is the data-plane message. Routing is by source route: Route[Hop]
// is the node currently holding the packet.
type Packet struct {
	// Kind of packet
	Kind PacketKind

	// Route from the originator to the destination
	Route []topology.NodeID

	// Hop indexes the current holder in Route
	Hop int

	// Session correlates a fragment with its Ack or Nack
	Session uint64

	// Source is the node that created the packet
	Source topology.NodeID

	// Payload of a fragment
	Payload []byte

	// Reason is set on Nack packets
	Reason NackReason
}

// Current returns the node the packet should be at.
func (p Packet) Current() (topology.NodeID, bool) {
	if p.Hop < 0 || p.Hop >= len(p.Route) {
		return 0, false
	}
	return p.Route[p.Hop], true
}

// Next returns the node after the current hop.
func (p Packet) Next() (topology.NodeID, bool) {
	if p.Hop+1 < 0 || p.Hop+1 >= len(p.Route) {
		return 0, false
	}
	return p.Route[p.Hop+1], true
}

// Destination returns the last node of the route.
func (p Packet) Destination() (topology.NodeID, bool) {
	if len(p.Route) == 0 {
		return 0, false
	}
	return p.Route[len(p.Route)-1], true
}

// Reply builds an Ack or Nack travelling back from the current hop to the
// route origin. The route must not be empty.
func (p Packet) Reply(kind PacketKind, reason NackReason) Packet {
	hop := p.Hop
	if hop >= len(p.Route) {
		hop = len(p.Route) - 1
	}
	if hop < 0 {
		hop = 0
	}
	back := make([]topology.NodeID, 0, hop+1)
	for i := hop; i >= 0; i-- {
		back = append(back, p.Route[i])
	}
	return Packet{
		Kind:    kind,
		Route:   back,
		Hop:     0,
		Session: p.Session,
		Source:  back[0],
		Reason:  reason,
	}
}

// String returns a short description of the packet.
func (p Packet) String() string {
	return fmt.Sprintf("%s(session=%d hop=%d route=%v)", p.Kind, p.Session, p.Hop, p.Route)
}

// ActorState represents the current state of an actor.
type ActorState uint8

const (
	// ActorStateIdle means the actor has not started yet
	ActorStateIdle ActorState = iota

	// ActorStateRunning means the actor loop is running
	ActorStateRunning

	// ActorStateCrashed means the actor stopped accepting fragments
	ActorStateCrashed

	// ActorStateStopped means the actor loop has returned
	ActorStateStopped
)

// String returns the string representation of ActorState.
func (s ActorState) String() string {
	switch s {
	case ActorStateIdle:
		return "idle"
	case ActorStateRunning:
		return "running"
	case ActorStateCrashed:
		return "crashed"
	case ActorStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
