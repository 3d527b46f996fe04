// Package wiring turns a validated topology into data mailboxes, neighbor
// send-maps and supervisor control pairs, and hands each endpoint to exactly
// one owner.
package wiring

import (
	"errors"
	"fmt"
	"sort"

	"github.com/najoast/netsim/core"
	"github.com/najoast/netsim/topology"
)

var (
	// ErrInconsistentWiring means a declared neighbor has no mailbox. It can
	// only happen if validation and wiring disagree.
	ErrInconsistentWiring = errors.New("inconsistent wiring")

	// ErrAlreadyTaken is returned when an endpoint is moved out twice
	ErrAlreadyTaken = errors.New("endpoints already taken")

	// ErrUnknownNode is returned for ids the plan does not contain
	ErrUnknownNode = errors.New("unknown node")
)

// NodeWiring is everything one actor owns once it is spawned.
type NodeWiring struct {
	ID   topology.NodeID
	Role topology.Role

	// Inbox is the node's own data mailbox
	Inbox core.Receiver[core.Packet]

	// Outbound has exactly one sender per declared neighbor
	Outbound map[topology.NodeID]core.Sender[core.Packet]

	// Control is the actor side of the node's control pair
	Control core.ActorSide

	// DropProbability is set for relays
	DropProbability float64
}

// SupervisorWiring is everything the supervisor owns.
type SupervisorWiring struct {
	// NodeSenders holds one sender into every node mailbox
	NodeSenders map[topology.NodeID]core.Sender[core.Packet]

	RelayControls      map[topology.NodeID]core.SupervisorSide
	OriginatorControls map[topology.NodeID]core.SupervisorSide
	ResponderControls  map[topology.NodeID]core.SupervisorSide
}

// Plan holds all allocated endpoints until they are taken.
type Plan struct {
	nodes      map[topology.NodeID]*NodeWiring
	supervisor *SupervisorWiring

	// mailboxes are kept so Close can stop every pump
	mailboxes []*core.Mailbox[core.Packet]
	controls  []core.Receiver[core.Command]
	events    []core.Receiver[core.Event]

	// outboundIDs records the wired neighbor set of every node
	outboundIDs map[topology.NodeID][]topology.NodeID
}

// Build allocates one data mailbox per node, a send-map per node covering
// exactly its declared neighbors, and one control pair per actor. t must
// already have passed topology.Validate.
func Build(t *topology.Topology) (*Plan, error) {
	nodes := t.Nodes()

	p := &Plan{
		nodes:       make(map[topology.NodeID]*NodeWiring, len(nodes)),
		outboundIDs: make(map[topology.NodeID][]topology.NodeID, len(nodes)),
		supervisor: &SupervisorWiring{
			NodeSenders:        make(map[topology.NodeID]core.Sender[core.Packet], len(nodes)),
			RelayControls:      make(map[topology.NodeID]core.SupervisorSide, len(t.Relays)),
			OriginatorControls: make(map[topology.NodeID]core.SupervisorSide, len(t.Originators)),
			ResponderControls:  make(map[topology.NodeID]core.SupervisorSide, len(t.Responders)),
		},
	}

	// Data mailboxes first, so every neighbor lookup below can resolve.
	inboxes := make(map[topology.NodeID]core.Receiver[core.Packet], len(nodes))
	for _, n := range nodes {
		if _, dup := inboxes[n.ID]; dup {
			p.Close()
			return nil, fmt.Errorf("%w: node %d allocated twice", ErrInconsistentWiring, n.ID)
		}
		m := core.NewMailbox[core.Packet]()
		p.mailboxes = append(p.mailboxes, m)
		inboxes[n.ID] = m.Receiver()
		p.supervisor.NodeSenders[n.ID] = m.Sender()
	}

	for _, n := range nodes {
		outbound := make(map[topology.NodeID]core.Sender[core.Packet], len(n.Neighbors))
		for _, peer := range n.Neighbors {
			sender, ok := p.supervisor.NodeSenders[peer]
			if !ok {
				p.Close()
				return nil, fmt.Errorf("%w: node %d lists %d, which has no mailbox", ErrInconsistentWiring, n.ID, peer)
			}
			outbound[peer] = sender
		}
		if len(outbound) != len(n.Neighbors) {
			p.Close()
			return nil, fmt.Errorf("%w: node %d has %d neighbors but %d senders", ErrInconsistentWiring, n.ID, len(n.Neighbors), len(outbound))
		}

		supSide, actSide := core.NewControlPair()
		p.controls = append(p.controls, actSide.Commands)
		p.events = append(p.events, supSide.Events)
		switch n.Role {
		case topology.RoleRelay:
			p.supervisor.RelayControls[n.ID] = supSide
		case topology.RoleOriginator:
			p.supervisor.OriginatorControls[n.ID] = supSide
		case topology.RoleResponder:
			p.supervisor.ResponderControls[n.ID] = supSide
		}

		w := &NodeWiring{
			ID:       n.ID,
			Role:     n.Role,
			Inbox:    inboxes[n.ID],
			Outbound: outbound,
			Control:  actSide,
		}
		if n.Role == topology.RoleRelay {
			spec, _ := t.Relay(n.ID)
			w.DropProbability = spec.DropProbability
		}
		p.nodes[n.ID] = w
		p.outboundIDs[n.ID] = sortedKeys(outbound)
	}

	return p, nil
}

// TakeNode moves a node's endpoints out of the plan. Each node can be taken once.
func (p *Plan) TakeNode(id topology.NodeID) (*NodeWiring, error) {
	w, ok := p.nodes[id]
	if !ok {
		if _, known := p.outboundIDs[id]; known {
			return nil, fmt.Errorf("%w: node %d", ErrAlreadyTaken, id)
		}
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	delete(p.nodes, id)
	return w, nil
}

// TakeSupervisorSide moves the supervisor endpoints out of the plan. It can be
// called once.
func (p *Plan) TakeSupervisorSide() (*SupervisorWiring, error) {
	if p.supervisor == nil {
		return nil, fmt.Errorf("%w: supervisor", ErrAlreadyTaken)
	}
	s := p.supervisor
	p.supervisor = nil
	return s, nil
}

// Remaining lists nodes whose endpoints have not been taken, ascending.
func (p *Plan) Remaining() []topology.NodeID {
	ids := make([]topology.NodeID, 0, len(p.nodes))
	for id := range p.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OutboundIDs returns the neighbor ids a node was wired to, ascending.
func (p *Plan) OutboundIDs(id topology.NodeID) ([]topology.NodeID, bool) {
	ids, ok := p.outboundIDs[id]
	if !ok {
		return nil, false
	}
	out := make([]topology.NodeID, len(ids))
	copy(out, ids)
	return out, true
}

// Close stops every data and control mailbox allocated by the plan, taken or
// not. Call it once no actor or supervisor uses its endpoints anymore.
func (p *Plan) Close() {
	for _, m := range p.mailboxes {
		m.Close()
	}
	for _, r := range p.controls {
		r.Close()
	}
	for _, r := range p.events {
		r.Close()
	}
}

func sortedKeys(m map[topology.NodeID]core.Sender[core.Packet]) []topology.NodeID {
	ids := make([]topology.NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
