package topology

// Validate runs the topology checks in a fixed order and returns the first
// violation as a *ValidationError, or nil when the topology can be wired.
//
// Order: id uniqueness, relays, responders, originators, then edge symmetry
// and referential integrity across the whole graph.
func Validate(t *Topology) error {
	if err := checkUniqueIDs(t); err != nil {
		return err
	}
	if err := checkRelays(t); err != nil {
		return err
	}
	if err := checkResponders(t); err != nil {
		return err
	}
	if err := checkOriginators(t); err != nil {
		return err
	}
	return checkEdges(t)
}

func checkUniqueIDs(t *Topology) error {
	seen := make(map[NodeID]struct{}, t.Len())
	for _, n := range t.Nodes() {
		if _, dup := seen[n.ID]; dup {
			return &ValidationError{Kind: ErrDuplicateID, Role: n.Role, Node: n.ID}
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

func checkRelays(t *Topology) error {
	for _, r := range t.Relays {
		if err := checkNeighborList(RoleRelay, r.ID, r.Neighbors); err != nil {
			return err
		}
		// written as a negated range so NaN is rejected too
		if !(r.DropProbability >= 0 && r.DropProbability <= 1) {
			return &ValidationError{
				Kind:  ErrDropProbabilityOutOfRange,
				Role:  RoleRelay,
				Node:  r.ID,
				Value: r.DropProbability,
			}
		}
	}
	return nil
}

func checkResponders(t *Topology) error {
	for _, s := range t.Responders {
		if err := checkNeighborList(RoleResponder, s.ID, s.Neighbors); err != nil {
			return err
		}
		if len(s.Neighbors) < 2 {
			return &ValidationError{
				Kind:  ErrDegreeViolation,
				Role:  RoleResponder,
				Node:  s.ID,
				Value: float64(len(s.Neighbors)),
			}
		}
	}
	return nil
}

func checkOriginators(t *Topology) error {
	for _, c := range t.Originators {
		if err := checkNeighborList(RoleOriginator, c.ID, c.Neighbors); err != nil {
			return err
		}
		if len(c.Neighbors) < 1 || len(c.Neighbors) > 2 {
			return &ValidationError{
				Kind:  ErrDegreeViolation,
				Role:  RoleOriginator,
				Node:  c.ID,
				Value: float64(len(c.Neighbors)),
			}
		}
	}
	return nil
}

// checkNeighborList rejects self references and repeated entries. Each entry
// is tested for self reference before duplication.
func checkNeighborList(role Role, id NodeID, neighbors []NodeID) error {
	seen := make(map[NodeID]struct{}, len(neighbors))
	for _, n := range neighbors {
		if n == id {
			return &ValidationError{Kind: ErrSelfReference, Role: role, Node: id, Peer: n}
		}
		if _, dup := seen[n]; dup {
			return &ValidationError{Kind: ErrDuplicateNeighbor, Role: role, Node: id, Peer: n}
		}
		seen[n] = struct{}{}
	}
	return nil
}

func checkEdges(t *Topology) error {
	nodes := t.Nodes()
	adjacency := make(map[NodeID]map[NodeID]struct{}, len(nodes))
	for _, n := range nodes {
		set := make(map[NodeID]struct{}, len(n.Neighbors))
		for _, peer := range n.Neighbors {
			set[peer] = struct{}{}
		}
		adjacency[n.ID] = set
	}

	for _, n := range nodes {
		for _, peer := range n.Neighbors {
			back, exists := adjacency[peer]
			if !exists {
				return &ValidationError{Kind: ErrDanglingReference, Role: n.Role, Node: n.ID, Peer: peer}
			}
			if _, ok := back[n.ID]; !ok {
				return &ValidationError{Kind: ErrAsymmetricEdge, Role: n.Role, Node: n.ID, Peer: peer}
			}
		}
	}
	return nil
}
