package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/netsim/logging"
)

// journal records start and stop calls across services.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type testService struct {
	name     string
	j        *journal
	startErr error
	stopErr  error
}

func (s *testService) Name() string { return s.name }

func (s *testService) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.j.add("start " + s.name)
	return nil
}

func (s *testService) Stop(context.Context) error {
	s.j.add("stop " + s.name)
	return s.stopErr
}

func (s *testService) Health(context.Context) (HealthStatus, error) {
	if s.startErr != nil {
		return HealthStatus{}, s.startErr
	}
	return HealthStatus{State: HealthHealthy}, nil
}

func TestLifecycleOrder(t *testing.T) {
	j := &journal{}
	lm := NewLifecycleManager(logging.Discard())

	require.NoError(t, lm.Register(&testService{name: "frontend", j: j}, "network"))
	require.NoError(t, lm.Register(&testService{name: "network", j: j}, "metrics"))
	require.NoError(t, lm.Register(&testService{name: "metrics", j: j}))

	var events []string
	lm.AddListener(func(e LifecycleEvent) { events = append(events, e.Type+" "+e.Service) })

	ctx := context.Background()
	require.NoError(t, lm.Start(ctx))
	assert.True(t, lm.IsStarted())
	require.NoError(t, lm.Stop(ctx))
	assert.False(t, lm.IsStarted())

	assert.Equal(t, []string{
		"start metrics", "start network", "start frontend",
		"stop frontend", "stop network", "stop metrics",
	}, j.list())
	assert.Contains(t, events, EventServiceStarted+" network")
	assert.Contains(t, events, EventServiceStopped+" metrics")
	assert.Equal(t, []string{"frontend", "metrics", "network"}, lm.Services())

	// a stopped manager stops nothing
	require.NoError(t, lm.Stop(ctx))
	assert.Len(t, j.list(), 6)
}

func TestLifecycleStartFailureRollsBack(t *testing.T) {
	j := &journal{}
	lm := NewLifecycleManager(logging.Discard())
	boom := errors.New("port in use")

	require.NoError(t, lm.Register(&testService{name: "network", j: j}))
	require.NoError(t, lm.Register(&testService{name: "frontend", j: j, startErr: boom}, "network"))

	err := lm.Start(context.Background())
	require.ErrorIs(t, err, boom)

	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "frontend", appErr.Service)
	assert.Equal(t, "start", appErr.Operation)

	assert.Equal(t, []string{"start network", "stop network"}, j.list())
	assert.False(t, lm.IsStarted())
}

func TestLifecycleRegistration(t *testing.T) {
	j := &journal{}
	lm := NewLifecycleManager(logging.Discard())

	assert.Error(t, lm.Register(nil))
	assert.Error(t, lm.Register(&testService{j: j}))
	require.NoError(t, lm.Register(&testService{name: "a", j: j}))
	assert.Error(t, lm.Register(&testService{name: "a", j: j}))

	require.NoError(t, lm.Register(&testService{name: "b", j: j}, "missing"))
	assert.ErrorContains(t, lm.Start(context.Background()), "missing")
}

func TestLifecycleCycle(t *testing.T) {
	j := &journal{}
	lm := NewLifecycleManager(logging.Discard())
	require.NoError(t, lm.Register(&testService{name: "a", j: j}, "b"))
	require.NoError(t, lm.Register(&testService{name: "b", j: j}, "a"))

	assert.ErrorContains(t, lm.Start(context.Background()), "circular")
	assert.Empty(t, j.list())
}

func TestLifecycleStopErrors(t *testing.T) {
	j := &journal{}
	lm := NewLifecycleManager(logging.Discard())
	require.NoError(t, lm.Register(&testService{name: "a", j: j, stopErr: errors.New("stuck")}))
	require.NoError(t, lm.Register(&testService{name: "b", j: j}, "a"))

	ctx := context.Background()
	require.NoError(t, lm.Start(ctx))
	err := lm.Stop(ctx)
	assert.ErrorContains(t, err, "stuck")
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, j.list())
}

func TestLifecycleHealth(t *testing.T) {
	j := &journal{}
	lm := NewLifecycleManager(logging.Discard())
	require.NoError(t, lm.Register(&testService{name: "ok", j: j}))
	require.NoError(t, lm.Register(&testService{name: "bad", j: j, startErr: errors.New("down")}))

	health := lm.Health(context.Background())
	assert.Equal(t, HealthHealthy, health["ok"].State)
	assert.Equal(t, HealthUnhealthy, health["bad"].State)
	assert.Equal(t, "down", health["bad"].Message)
	assert.False(t, health["ok"].LastCheck.IsZero())
}

func TestListenerPanicIsContained(t *testing.T) {
	lm := NewLifecycleManager(logging.Discard())
	lm.AddListener(func(LifecycleEvent) { panic("listener") })
	assert.NotPanics(t, func() {
		require.NoError(t, lm.Register(&testService{name: "a", j: &journal{}}))
	})
}
