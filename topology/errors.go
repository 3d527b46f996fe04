package topology

import (
	"errors"
	"fmt"
)

// Validation error kinds. A *ValidationError matches exactly one of these
// through errors.Is.
var (
	ErrDuplicateID               = errors.New("duplicate id")
	ErrSelfReference             = errors.New("self reference")
	ErrDuplicateNeighbor         = errors.New("duplicate neighbor")
	ErrDropProbabilityOutOfRange = errors.New("drop probability out of range")
	ErrDegreeViolation           = errors.New("degree violation")
	ErrDanglingReference         = errors.New("dangling reference")
	ErrAsymmetricEdge            = errors.New("asymmetric edge")
)

// ValidationError reports the first invariant a topology violates.
type ValidationError struct {
	// Kind is one of the Err* sentinels above
	Kind error

	// Role of the offending node
	Role Role

	// Node is the offending node
	Node NodeID

	// Peer is the other end of the offending edge, if any
	Peer NodeID

	// Value carries the offending drop probability or neighbor count
	Value float64
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ErrDuplicateID:
		return fmt.Sprintf("multiple nodes declared with id %d", e.Node)
	case ErrSelfReference:
		return fmt.Sprintf("%s %d has itself as a neighbor", e.Role, e.Node)
	case ErrDuplicateNeighbor:
		return fmt.Sprintf("%s %d lists neighbor %d more than once", e.Role, e.Node, e.Peer)
	case ErrDropProbabilityOutOfRange:
		return fmt.Sprintf("drop probability %v of relay %d is outside [0, 1]", e.Value, e.Node)
	case ErrDegreeViolation:
		if e.Role == RoleResponder {
			return fmt.Sprintf("responder %d has %d neighbors, need at least 2", e.Node, int(e.Value))
		}
		return fmt.Sprintf("originator %d has %d neighbors, need 1 or 2", e.Node, int(e.Value))
	case ErrDanglingReference:
		return fmt.Sprintf("connection to undeclared node: from %d to %d", e.Node, e.Peer)
	case ErrAsymmetricEdge:
		return fmt.Sprintf("one-sided connection: %d lists %d but %d does not list %d", e.Node, e.Peer, e.Peer, e.Node)
	default:
		return fmt.Sprintf("invalid topology at node %d", e.Node)
	}
}

// Is matches the error against its kind sentinel.
func (e *ValidationError) Is(target error) bool {
	return e.Kind == target
}

// Unwrap returns the kind sentinel.
func (e *ValidationError) Unwrap() error {
	return e.Kind
}
