// Package topology describes the declared graph of a simulated network and
// checks it before anything is wired or launched.
package topology

import (
	"fmt"
	"sort"
	"strconv"
)

// NodeID identifies a node. Relays, originators and responders share one id space.
type NodeID uint8

// MarshalJSON writes the id as a number. Without it encoding/json would
// treat []NodeID as a byte slice and emit base64.
func (id NodeID) MarshalJSON() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(id), 10), nil
}

// Role is the fixed role a node is declared with.
type Role uint8

const (
	// RoleRelay forwards packets with a configured drop probability
	RoleRelay Role = iota

	// RoleOriginator initiates application exchanges
	RoleOriginator

	// RoleResponder answers application exchanges
	RoleResponder
)

// String returns the string representation of Role.
func (r Role) String() string {
	switch r {
	case RoleRelay:
		return "relay"
	case RoleOriginator:
		return "originator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// RelaySpec declares one relay.
type RelaySpec struct {
	// ID of the relay
	ID NodeID `yaml:"id" json:"id" toml:"id"`

	// Neighbors in declaration order
	Neighbors []NodeID `yaml:"connected_node_ids" json:"connected_node_ids" toml:"connected_node_ids"`

	// DropProbability is the packet drop rate, in [0,1]
	DropProbability float64 `yaml:"pdr" json:"pdr" toml:"pdr"`
}

// EndpointSpec declares one originator or responder.
type EndpointSpec struct {
	// ID of the endpoint
	ID NodeID `yaml:"id" json:"id" toml:"id"`

	// Neighbors are the relays the endpoint is attached to
	Neighbors []NodeID `yaml:"connected_relay_ids" json:"connected_relay_ids" toml:"connected_relay_ids"`
}

// Topology is the full declared network. It is built once from configuration
// and treated as read-only afterwards.
type Topology struct {
	Relays      []RelaySpec    `yaml:"relay" json:"relay" toml:"relay"`
	Responders  []EndpointSpec `yaml:"responder" json:"responder" toml:"responder"`
	Originators []EndpointSpec `yaml:"originator" json:"originator" toml:"originator"`
}

// Node is a role-agnostic view of a declared node.
type Node struct {
	ID        NodeID
	Role      Role
	Neighbors []NodeID
}

// Nodes returns every declared node: relays, then responders, then
// originators, each in file order. Neighbor slices are copies.
func (t *Topology) Nodes() []Node {
	nodes := make([]Node, 0, t.Len())
	for _, r := range t.Relays {
		nodes = append(nodes, Node{ID: r.ID, Role: RoleRelay, Neighbors: cloneIDs(r.Neighbors)})
	}
	for _, s := range t.Responders {
		nodes = append(nodes, Node{ID: s.ID, Role: RoleResponder, Neighbors: cloneIDs(s.Neighbors)})
	}
	for _, c := range t.Originators {
		nodes = append(nodes, Node{ID: c.ID, Role: RoleOriginator, Neighbors: cloneIDs(c.Neighbors)})
	}
	return nodes
}

// Len returns the number of declared nodes.
func (t *Topology) Len() int {
	return len(t.Relays) + len(t.Responders) + len(t.Originators)
}

// IDs returns every declared id in ascending order.
func (t *Topology) IDs() []NodeID {
	ids := make([]NodeID, 0, t.Len())
	for _, n := range t.Nodes() {
		ids = append(ids, n.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RoleOf reports the role of id.
func (t *Topology) RoleOf(id NodeID) (Role, bool) {
	for _, n := range t.Nodes() {
		if n.ID == id {
			return n.Role, true
		}
	}
	return 0, false
}

// NeighborsOf returns a copy of the declared neighbors of id.
func (t *Topology) NeighborsOf(id NodeID) ([]NodeID, bool) {
	for _, n := range t.Nodes() {
		if n.ID == id {
			return n.Neighbors, true
		}
	}
	return nil, false
}

// Relay returns the declaration of relay id.
func (t *Topology) Relay(id NodeID) (RelaySpec, bool) {
	for _, r := range t.Relays {
		if r.ID == id {
			return RelaySpec{ID: r.ID, Neighbors: cloneIDs(r.Neighbors), DropProbability: r.DropProbability}, true
		}
	}
	return RelaySpec{}, false
}

// Clone returns a deep copy, used to hand out snapshots.
func (t *Topology) Clone() *Topology {
	c := &Topology{
		Relays:      make([]RelaySpec, len(t.Relays)),
		Responders:  make([]EndpointSpec, len(t.Responders)),
		Originators: make([]EndpointSpec, len(t.Originators)),
	}
	for i, r := range t.Relays {
		c.Relays[i] = RelaySpec{ID: r.ID, Neighbors: cloneIDs(r.Neighbors), DropProbability: r.DropProbability}
	}
	for i, s := range t.Responders {
		c.Responders[i] = EndpointSpec{ID: s.ID, Neighbors: cloneIDs(s.Neighbors)}
	}
	for i, o := range t.Originators {
		c.Originators[i] = EndpointSpec{ID: o.ID, Neighbors: cloneIDs(o.Neighbors)}
	}
	return c
}

// String summarizes the topology.
func (t *Topology) String() string {
	return fmt.Sprintf("topology(relays=%d responders=%d originators=%d)",
		len(t.Relays), len(t.Responders), len(t.Originators))
}

func cloneIDs(ids []NodeID) []NodeID {
	if ids == nil {
		return nil
	}
	out := make([]NodeID, len(ids))
	copy(out, ids)
	return out
}
