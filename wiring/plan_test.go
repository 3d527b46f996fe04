package wiring

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/netsim/core"
	"github.com/najoast/netsim/topology"
)

func sample() *topology.Topology {
	return &topology.Topology{
		Relays: []topology.RelaySpec{
			{ID: 1, Neighbors: []topology.NodeID{2, 10, 20}, DropProbability: 0.1},
			{ID: 2, Neighbors: []topology.NodeID{1, 10}, DropProbability: 0.5},
		},
		Responders: []topology.EndpointSpec{
			{ID: 10, Neighbors: []topology.NodeID{1, 2}},
		},
		Originators: []topology.EndpointSpec{
			{ID: 20, Neighbors: []topology.NodeID{1}},
		},
	}
}

func sortedCopy(ids []topology.NodeID) []topology.NodeID {
	out := append([]topology.NodeID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestBuildOutboundMatchesNeighbors(t *testing.T) {
	topo := sample()
	require.NoError(t, topology.Validate(topo))

	plan, err := Build(topo)
	require.NoError(t, err)
	defer plan.Close()

	for _, n := range topo.Nodes() {
		ids, ok := plan.OutboundIDs(n.ID)
		require.True(t, ok, "node %d", n.ID)
		assert.Equal(t, sortedCopy(n.Neighbors), ids, "node %d", n.ID)
	}
	assert.Equal(t, topo.IDs(), plan.Remaining())
}

func TestBuildRandomTopologiesRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for iter := 0; iter < 50; iter++ {
		topo := randomTopology(rng)
		require.NoError(t, topology.Validate(topo), "iteration %d: %s", iter, topo)

		plan, err := Build(topo)
		require.NoError(t, err)

		for _, n := range topo.Nodes() {
			w, err := plan.TakeNode(n.ID)
			require.NoError(t, err)
			got := make([]topology.NodeID, 0, len(w.Outbound))
			for id := range w.Outbound {
				got = append(got, id)
			}
			assert.Equal(t, sortedCopy(n.Neighbors), sortedCopy(got), "iteration %d node %d", iter, n.ID)
		}
		plan.Close()
	}
}

// randomTopology builds a symmetric relay ring with extra chords and
// endpoints attached to distinct relays.
func randomTopology(rng *rand.Rand) *topology.Topology {
	relays := 3 + rng.Intn(8)
	adj := make(map[topology.NodeID]map[topology.NodeID]bool)
	link := func(a, b topology.NodeID) {
		if a == b || adj[a][b] {
			return
		}
		if adj[a] == nil {
			adj[a] = map[topology.NodeID]bool{}
		}
		if adj[b] == nil {
			adj[b] = map[topology.NodeID]bool{}
		}
		adj[a][b] = true
		adj[b][a] = true
	}
	for i := 1; i <= relays; i++ {
		link(topology.NodeID(i), topology.NodeID(i%relays+1))
	}
	for c := rng.Intn(relays); c > 0; c-- {
		link(topology.NodeID(1+rng.Intn(relays)), topology.NodeID(1+rng.Intn(relays)))
	}

	topo := &topology.Topology{}
	next := topology.NodeID(relays + 1)
	for r := rng.Intn(3); r > 0; r-- {
		a := topology.NodeID(1 + rng.Intn(relays))
		b := a%topology.NodeID(relays) + 1
		link(next, a)
		link(next, b)
		topo.Responders = append(topo.Responders, topology.EndpointSpec{ID: next, Neighbors: []topology.NodeID{a, b}})
		next++
	}
	for o := 1 + rng.Intn(2); o > 0; o-- {
		a := topology.NodeID(1 + rng.Intn(relays))
		link(next, a)
		topo.Originators = append(topo.Originators, topology.EndpointSpec{ID: next, Neighbors: []topology.NodeID{a}})
		next++
	}
	for i := 1; i <= relays; i++ {
		id := topology.NodeID(i)
		spec := topology.RelaySpec{ID: id, DropProbability: rng.Float64()}
		for peer := range adj[id] {
			spec.Neighbors = append(spec.Neighbors, peer)
		}
		spec.Neighbors = sortedCopy(spec.Neighbors)
		topo.Relays = append(topo.Relays, spec)
	}
	return topo
}

func TestTakeNodeOnlyOnce(t *testing.T) {
	plan, err := Build(sample())
	require.NoError(t, err)
	defer plan.Close()

	w, err := plan.TakeNode(1)
	require.NoError(t, err)
	assert.Equal(t, topology.RoleRelay, w.Role)
	assert.Equal(t, 0.1, w.DropProbability)

	_, err = plan.TakeNode(1)
	assert.ErrorIs(t, err, ErrAlreadyTaken)
	_, err = plan.TakeNode(99)
	assert.ErrorIs(t, err, ErrUnknownNode)

	assert.Equal(t, []topology.NodeID{2, 10, 20}, plan.Remaining())

	sup, err := plan.TakeSupervisorSide()
	require.NoError(t, err)
	assert.Len(t, sup.NodeSenders, 4)
	assert.Len(t, sup.RelayControls, 2)
	assert.Len(t, sup.ResponderControls, 1)
	assert.Len(t, sup.OriginatorControls, 1)

	_, err = plan.TakeSupervisorSide()
	assert.ErrorIs(t, err, ErrAlreadyTaken)
}

func TestOutboundReachesNeighborInbox(t *testing.T) {
	plan, err := Build(sample())
	require.NoError(t, err)
	defer plan.Close()

	origin, err := plan.TakeNode(20)
	require.NoError(t, err)
	relay, err := plan.TakeNode(1)
	require.NoError(t, err)

	require.NoError(t, origin.Outbound[1].Send(core.Packet{Session: 3}))
	select {
	case pkt := <-relay.Inbox.C():
		assert.Equal(t, uint64(3), pkt.Session)
	case <-time.After(time.Second):
		t.Fatal("packet not delivered")
	}

	_, ok := origin.Outbound[2]
	assert.False(t, ok, "originator is not wired to relay 2")
}

func TestControlPairsAreIsolatedPerNode(t *testing.T) {
	plan, err := Build(sample())
	require.NoError(t, err)
	defer plan.Close()

	sup, err := plan.TakeSupervisorSide()
	require.NoError(t, err)
	r1, err := plan.TakeNode(1)
	require.NoError(t, err)
	r2, err := plan.TakeNode(2)
	require.NoError(t, err)

	require.NoError(t, sup.RelayControls[2].Commands.Send(core.Crash{}))

	select {
	case cmd := <-r2.Control.Commands.C():
		assert.IsType(t, core.Crash{}, cmd)
	case <-time.After(time.Second):
		t.Fatal("command not delivered")
	}
	_, ok := r1.Control.Commands.TryRecv()
	assert.False(t, ok)
	_, ok = r2.Inbox.TryRecv()
	assert.False(t, ok)
}

func TestBuildReportsInconsistentWiring(t *testing.T) {
	topo := &topology.Topology{
		Relays: []topology.RelaySpec{{ID: 1, Neighbors: []topology.NodeID{7}}},
	}
	_, err := Build(topo)
	assert.ErrorIs(t, err, ErrInconsistentWiring)
}

func TestCloseReleasesControlMailboxes(t *testing.T) {
	plan, err := Build(sample())
	require.NoError(t, err)

	w, err := plan.TakeNode(1)
	require.NoError(t, err)
	sup, err := plan.TakeSupervisorSide()
	require.NoError(t, err)

	plan.Close()

	assert.ErrorIs(t, sup.RelayControls[1].Commands.Send(core.Shutdown{}), core.ErrMailboxClosed)
	assert.ErrorIs(t, w.Control.Events.Send(core.Stopped{Node: 1}), core.ErrMailboxClosed)
	assert.ErrorIs(t, sup.NodeSenders[2].Send(core.Packet{}), core.ErrMailboxClosed)

	select {
	case _, ok := <-w.Control.Commands.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("command stream still open")
	}
}
