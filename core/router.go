package core

import (
	"fmt"
	"sort"

	"github.com/najoast/netsim/topology"
)

// Router delivers packets straight into node mailboxes, bypassing the
// topology. The supervisor uses it for controller shortcuts and injection.
type Router struct {
	senders map[topology.NodeID]Sender[Packet]
}

// NewRouter creates a router over a node sender table. The table is owned
// by the router afterwards.
func NewRouter(senders map[topology.NodeID]Sender[Packet]) *Router {
	if senders == nil {
		senders = make(map[topology.NodeID]Sender[Packet])
	}
	return &Router{senders: senders}
}

// Lookup finds the sender of a node.
func (r *Router) Lookup(id topology.NodeID) (Sender[Packet], bool) {
	s, ok := r.senders[id]
	return s, ok
}

// Deliver sends pkt to node id.
func (r *Router) Deliver(id topology.NodeID, pkt Packet) error {
	s, ok := r.senders[id]
	if !ok {
		return fmt.Errorf("target node %d not found", id)
	}
	return s.Send(pkt)
}

// Route delivers pkt to the last node of its route and marks it as arrived.
func (r *Router) Route(pkt Packet) error {
	dst, ok := pkt.Destination()
	if !ok {
		return fmt.Errorf("cannot route packet with empty route")
	}
	pkt.Hop = len(pkt.Route) - 1
	return r.Deliver(dst, pkt)
}

// List returns all reachable node ids in ascending order.
func (r *Router) List() []topology.NodeID {
	ids := make([]topology.NodeID, 0, len(r.senders))
	for id := range r.senders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
