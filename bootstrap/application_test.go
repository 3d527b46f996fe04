package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/netsim/config"
	"github.com/najoast/netsim/logging"
	"github.com/najoast/netsim/topology"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func runApp(t *testing.T, app *Application) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	t.Cleanup(cancel)

	require.Eventually(t, func() bool {
		return app.Network() != nil
	}, 3*time.Second, 10*time.Millisecond)
	return cancel, done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("application did not return")
		return nil
	}
}

func TestApplicationWithoutFrontend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Frontend.Enabled = false

	app, err := NewApplication(cfg, triangle(), Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, []string{ServiceNetwork}, app.LifecycleManager().Services())
	assert.Empty(t, app.FrontendAddr())

	cancel, done := runApp(t, app)

	health := app.LifecycleManager().Health(context.Background())
	assert.Equal(t, HealthHealthy, health[ServiceNetwork].State)
	assert.Equal(t, 5, health[ServiceNetwork].Data["units"])

	cancel()
	require.NoError(t, waitRun(t, done))
	assert.Len(t, app.Network().Supervisor.Snapshot().Stopped, 4)
}

func TestApplicationServesFrontend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Frontend.Port = freePort(t)
	cfg.Frontend.PublicPath = t.TempDir()
	cfg.Simulation.Heterogeneous = true

	app, err := NewApplication(cfg, triangle(), Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, []string{ServiceFrontend, ServiceNetwork}, app.LifecycleManager().Services())

	cancel, done := runApp(t, app)
	require.Eventually(t, func() bool { return app.FrontendAddr() != "" }, 3*time.Second, 10*time.Millisecond)
	base := "http://" + app.FrontendAddr()

	resp, err := http.Get(base + "/topology")
	require.NoError(t, err)
	var snap struct {
		RelayKinds map[string]string `json:"relay_kinds"`
		DisplayURL string            `json:"display_url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, map[string]string{"1": "standard", "2": "quiet"}, snap.RelayKinds)
	assert.Equal(t, cfg.Frontend.Address(), snap.DisplayURL[len("http://"):])

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `netsim_bootstrap_phase{phase="supervisor_launched"} 1`)
	assert.Contains(t, string(body), `netsim_actors_spawned_total`)
	assert.Contains(t, string(body), `go_goroutines`)

	cancel()
	require.NoError(t, waitRun(t, done))

	_, err = http.Get(base + "/topology")
	assert.Error(t, err)
}

func TestApplicationStopsWhenNetworkStops(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Frontend.Enabled = false

	app, err := NewApplication(cfg, triangle(), Options{Logger: logging.Discard()})
	require.NoError(t, err)
	_, done := runApp(t, app)

	require.NoError(t, app.Network().Shutdown())
	require.NoError(t, waitRun(t, done))
}

func TestApplicationRejectsInvalidInput(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Frontend.Port = 0
	_, err := NewApplication(cfg, triangle(), Options{Logger: logging.Discard()})
	assert.ErrorIs(t, err, config.ErrInvalidPort)

	cfg = config.DefaultConfig()
	cfg.Frontend.Enabled = false
	topo := triangle()
	topo.Relays[0].Neighbors = []topology.NodeID{1}
	app, err := NewApplication(cfg, topo, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.ErrorIs(t, app.Run(context.Background()), topology.ErrSelfReference)
	assert.Nil(t, app.Network())
}
