package topology

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ring returns a valid topology: relays 1..4 in a ring, responder 10 on
// relays 1 and 3, originator 20 on relay 2.
func ring() *Topology {
	return &Topology{
		Relays: []RelaySpec{
			{ID: 1, Neighbors: []NodeID{2, 4, 10}, DropProbability: 0.1},
			{ID: 2, Neighbors: []NodeID{1, 3, 20}, DropProbability: 0},
			{ID: 3, Neighbors: []NodeID{2, 4, 10}, DropProbability: 1},
			{ID: 4, Neighbors: []NodeID{3, 1}, DropProbability: 0.5},
		},
		Responders:  []EndpointSpec{{ID: 10, Neighbors: []NodeID{1, 3}}},
		Originators: []EndpointSpec{{ID: 20, Neighbors: []NodeID{2}}},
	}
}

func TestValidateAcceptsWellFormedTopology(t *testing.T) {
	require.NoError(t, Validate(ring()))
	require.NoError(t, Validate(&Topology{}))
}

func TestValidateFirstViolation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Topology)
		kind   error
		node   NodeID
		peer   NodeID
	}{
		{
			name: "duplicate id across roles",
			mutate: func(tp *Topology) {
				tp.Originators = append(tp.Originators, EndpointSpec{ID: 3, Neighbors: []NodeID{2}})
			},
			kind: ErrDuplicateID,
			node: 3,
		},
		{
			name: "duplicate relay id",
			mutate: func(tp *Topology) {
				tp.Relays[3].ID = 1
			},
			kind: ErrDuplicateID,
			node: 1,
		},
		{
			name: "relay lists itself",
			mutate: func(tp *Topology) {
				tp.Relays[0].Neighbors = append(tp.Relays[0].Neighbors, 1)
			},
			kind: ErrSelfReference,
			node: 1,
			peer: 1,
		},
		{
			name: "relay lists neighbor twice",
			mutate: func(tp *Topology) {
				tp.Relays[1].Neighbors = append(tp.Relays[1].Neighbors, 3)
			},
			kind: ErrDuplicateNeighbor,
			node: 2,
			peer: 3,
		},
		{
			name: "self reference reported before later duplicate",
			mutate: func(tp *Topology) {
				tp.Relays[1].Neighbors = []NodeID{1, 2, 1, 3, 20}
			},
			kind: ErrSelfReference,
			node: 2,
			peer: 2,
		},
		{
			name: "drop probability above one",
			mutate: func(tp *Topology) {
				tp.Relays[2].DropProbability = 1.5
			},
			kind: ErrDropProbabilityOutOfRange,
			node: 3,
		},
		{
			name: "negative drop probability",
			mutate: func(tp *Topology) {
				tp.Relays[0].DropProbability = -0.01
			},
			kind: ErrDropProbabilityOutOfRange,
			node: 1,
		},
		{
			name: "nan drop probability",
			mutate: func(tp *Topology) {
				tp.Relays[0].DropProbability = math.NaN()
			},
			kind: ErrDropProbabilityOutOfRange,
			node: 1,
		},
		{
			name: "responder with one neighbor",
			mutate: func(tp *Topology) {
				tp.Responders[0].Neighbors = []NodeID{1}
			},
			kind: ErrDegreeViolation,
			node: 10,
		},
		{
			name: "responder lists itself",
			mutate: func(tp *Topology) {
				tp.Responders[0].Neighbors = []NodeID{1, 10}
			},
			kind: ErrSelfReference,
			node: 10,
			peer: 10,
		},
		{
			name: "originator with three neighbors",
			mutate: func(tp *Topology) {
				tp.Originators[0].Neighbors = []NodeID{1, 2, 3}
			},
			kind: ErrDegreeViolation,
			node: 20,
		},
		{
			name: "originator with no neighbors",
			mutate: func(tp *Topology) {
				tp.Originators[0].Neighbors = nil
			},
			kind: ErrDegreeViolation,
			node: 20,
		},
		{
			name: "originator lists relay twice",
			mutate: func(tp *Topology) {
				tp.Originators[0].Neighbors = []NodeID{2, 2}
			},
			kind: ErrDuplicateNeighbor,
			node: 20,
			peer: 2,
		},
		{
			name: "one-sided edge",
			mutate: func(tp *Topology) {
				tp.Relays[3].Neighbors = []NodeID{3}
			},
			kind: ErrAsymmetricEdge,
			node: 1,
			peer: 4,
		},
		{
			name: "neighbor never declared",
			mutate: func(tp *Topology) {
				tp.Relays[3].Neighbors = append(tp.Relays[3].Neighbors, 99)
			},
			kind: ErrDanglingReference,
			node: 4,
			peer: 99,
		},
		{
			name: "relay checks run before responder checks",
			mutate: func(tp *Topology) {
				tp.Responders[0].Neighbors = []NodeID{1}
				tp.Relays[3].DropProbability = 2
			},
			kind: ErrDropProbabilityOutOfRange,
			node: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := ring()
			tt.mutate(tp)

			err := Validate(tp)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.node, verr.Node)
			if tt.peer != 0 {
				assert.Equal(t, tt.peer, verr.Peer)
			}
			assert.NotEmpty(t, verr.Error())
		})
	}
}

func TestValidationErrorMatchesOnlyItsKind(t *testing.T) {
	err := error(&ValidationError{Kind: ErrAsymmetricEdge, Node: 1, Peer: 2})
	assert.ErrorIs(t, err, ErrAsymmetricEdge)
	assert.NotErrorIs(t, err, ErrDanglingReference)
	assert.Contains(t, err.Error(), "1 lists 2")
}

// randomTopology builds a symmetric graph that satisfies every invariant.
func randomTopology(r *rand.Rand) *Topology {
	relayCount := 2 + r.Intn(8)
	relays := make([]RelaySpec, relayCount)
	adj := make(map[NodeID][]NodeID)
	link := func(a, b NodeID) {
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
	}
	for i := range relays {
		relays[i].ID = NodeID(i + 1)
		relays[i].DropProbability = r.Float64()
	}
	for i := 0; i < relayCount; i++ {
		for j := i + 1; j < relayCount; j++ {
			if r.Intn(2) == 0 {
				link(NodeID(i+1), NodeID(j+1))
			}
		}
	}

	next := NodeID(100)
	var responders, originators []EndpointSpec
	for n := r.Intn(3); n > 0; n-- {
		perm := r.Perm(relayCount)
		degree := 2 + r.Intn(relayCount-1)
		spec := EndpointSpec{ID: next}
		for _, p := range perm[:degree] {
			spec.Neighbors = append(spec.Neighbors, NodeID(p+1))
			adj[NodeID(p+1)] = append(adj[NodeID(p+1)], next)
		}
		responders = append(responders, spec)
		next++
	}
	for n := r.Intn(3); n > 0; n-- {
		perm := r.Perm(relayCount)
		degree := 1 + r.Intn(2)
		spec := EndpointSpec{ID: next}
		for _, p := range perm[:degree] {
			spec.Neighbors = append(spec.Neighbors, NodeID(p+1))
			adj[NodeID(p+1)] = append(adj[NodeID(p+1)], next)
		}
		originators = append(originators, spec)
		next++
	}

	for i := range relays {
		relays[i].Neighbors = adj[relays[i].ID]
	}
	return &Topology{Relays: relays, Responders: responders, Originators: originators}
}

func TestValidateSoundOnRandomSymmetricTopologies(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		tp := randomTopology(r)
		require.NoError(t, Validate(tp), "iteration %d: %s", i, tp)
	}
}

func TestTopologyAccessors(t *testing.T) {
	tp := ring()

	role, ok := tp.RoleOf(10)
	require.True(t, ok)
	assert.Equal(t, RoleResponder, role)

	_, ok = tp.RoleOf(77)
	assert.False(t, ok)

	neighbors, ok := tp.NeighborsOf(2)
	require.True(t, ok)
	assert.Equal(t, []NodeID{1, 3, 20}, neighbors)

	// returned slices are copies
	neighbors[0] = 99
	again, _ := tp.NeighborsOf(2)
	assert.Equal(t, NodeID(1), again[0])

	assert.Equal(t, []NodeID{1, 2, 3, 4, 10, 20}, tp.IDs())

	clone := tp.Clone()
	clone.Relays[0].Neighbors[0] = 42
	assert.Equal(t, NodeID(2), tp.Relays[0].Neighbors[0])
}

func TestTopologyJSONUsesNumericIDs(t *testing.T) {
	data, err := json.Marshal(ring())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"connected_node_ids":[2,`)

	var back Topology
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ring(), &back)
}
