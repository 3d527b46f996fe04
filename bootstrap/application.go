package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/najoast/netsim/config"
	"github.com/najoast/netsim/frontend"
	"github.com/najoast/netsim/metrics"
	"github.com/najoast/netsim/supervisor"
	"github.com/najoast/netsim/topology"
)

// Service names
const (
	ServiceNetwork  = "network"
	ServiceFrontend = "frontend"
)

// Application runs one simulated network and its front-end until a signal,
// context cancellation or the network stopping on its own.
type Application struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *prometheus.Registry

	lifecycle *DefaultLifecycleManager
	network   *NetworkService
	frontend  *FrontendService

	mutex        sync.Mutex
	running      bool
	shutdownChan chan os.Signal
}

// NewApplication prepares the services for topo. opts.Metrics is replaced
// by a Prometheus sink on the application's own registry.
func NewApplication(cfg *config.Config, topo *topology.Topology, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	opts.Metrics = metrics.New(registry)
	opts.Logger = log

	app := &Application{
		cfg:          cfg,
		log:          log,
		registry:     registry,
		lifecycle:    NewLifecycleManager(log),
		shutdownChan: make(chan os.Signal, 1),
	}

	app.network = &NetworkService{cfg: cfg, topo: topo, opts: opts}
	if err := app.lifecycle.Register(app.network); err != nil {
		return nil, err
	}
	if cfg.Frontend.Enabled {
		app.frontend = &FrontendService{
			cfg: cfg.Frontend,
			server: frontend.NewServer(app.network, frontend.Options{
				Addr:       cfg.Frontend.Address(),
				PublicPath: cfg.Frontend.PublicPath,
				Gatherer:   registry,
				Logger:     log,
			}),
			log: log,
		}
		if err := app.lifecycle.Register(app.frontend, ServiceNetwork); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Run starts every service and blocks until shutdown.
func (app *Application) Run(ctx context.Context) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return errors.New("application is already running")
	}
	app.running = true
	app.mutex.Unlock()

	signal.Notify(app.shutdownChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(app.shutdownChan)

	if err := app.lifecycle.Start(ctx); err != nil {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
		return err
	}

	var runErr error
	select {
	case sig := <-app.shutdownChan:
		app.log.Info("received signal, shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
		app.log.Info("context cancelled, shutting down")
	case <-app.network.Done():
		runErr = app.network.Err()
		app.log.Info("network stopped", slog.Any("error", runErr))
	}

	return errors.Join(runErr, app.Shutdown(context.Background()))
}

// Shutdown stops every service in reverse start order.
func (app *Application) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil
	}
	app.running = false
	app.mutex.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return app.lifecycle.Stop(shutdownCtx)
}

// LifecycleManager returns the lifecycle manager
func (app *Application) LifecycleManager() LifecycleManager {
	return app.lifecycle
}

// Network returns the running network, nil before the network service started.
func (app *Application) Network() *Network {
	return app.network.Network()
}

// Gatherer returns the application's metrics registry.
func (app *Application) Gatherer() prometheus.Gatherer {
	return app.registry
}

// FrontendAddr returns the bound front-end address, empty if it is not running.
func (app *Application) FrontendAddr() string {
	if app.frontend == nil {
		return ""
	}
	return app.frontend.server.Addr()
}

// NetworkService runs the bootstrap pipeline and owns the resulting network.
type NetworkService struct {
	cfg  *config.Config
	topo *topology.Topology
	opts Options

	mu      sync.Mutex
	network *Network
	done    chan struct{}
	err     error
}

func (s *NetworkService) Name() string { return ServiceNetwork }

// Start bootstraps the network. Units outlive ctx and stop in Stop.
func (s *NetworkService) Start(ctx context.Context) error {
	n, err := Run(context.WithoutCancel(ctx), s.cfg, s.topo, s.opts)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.network, s.done = n, done
	s.mu.Unlock()

	go func() {
		err := n.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop shuts every actor down, cancelling them if ctx expires first.
func (s *NetworkService) Stop(ctx context.Context) error {
	s.mu.Lock()
	n, done := s.network, s.done
	s.mu.Unlock()
	if n == nil {
		return nil
	}

	if err := n.Shutdown(); err != nil {
		n.Cancel()
	}
	select {
	case <-done:
	case <-ctx.Done():
		n.Cancel()
		<-done
	}
	return s.Err()
}

func (s *NetworkService) Health(context.Context) (HealthStatus, error) {
	n := s.Network()
	if n == nil {
		return HealthStatus{State: HealthStarting, Message: "network not bootstrapped"}, nil
	}
	select {
	case <-s.Done():
		return HealthStatus{State: HealthStopped, Message: "network stopped"}, s.Err()
	default:
	}

	snap := n.Supervisor.Snapshot()
	status := HealthStatus{
		State:   HealthHealthy,
		Message: "network running",
		Data: map[string]any{
			"units":   n.Units(),
			"crashed": len(snap.Crashed),
			"stopped": len(snap.Stopped),
		},
	}
	if len(snap.Crashed) > 0 || len(snap.Stopped) > 0 {
		status.State = HealthDegraded
	}
	return status, nil
}

// Network returns the running network or nil.
func (s *NetworkService) Network() *Network {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network
}

// Done is closed once every unit of the network has returned.
func (s *NetworkService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the first unit error after Done is closed.
func (s *NetworkService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Snapshot implements frontend.SnapshotSource.
func (s *NetworkService) Snapshot() supervisor.Snapshot {
	n := s.Network()
	if n == nil {
		return supervisor.Snapshot{}
	}
	return n.Supervisor.Snapshot()
}

// FrontendService serves the display, /topology and /metrics.
type FrontendService struct {
	cfg    config.FrontendConfig
	server *frontend.Server
	log    *slog.Logger
}

func (s *FrontendService) Name() string { return ServiceFrontend }

func (s *FrontendService) Start(ctx context.Context) error {
	if err := s.server.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("frontend on %s: %w", s.cfg.Address(), err)
	}
	s.log.Info("display available",
		slog.String("url", frontend.DisplayURL(s.cfg.Host, s.cfg.Port)),
		slog.String("websocket", frontend.WebSocketURL(s.cfg.Host, s.cfg.Port)))
	return nil
}

func (s *FrontendService) Stop(ctx context.Context) error {
	return s.server.Stop(ctx)
}

func (s *FrontendService) Health(context.Context) (HealthStatus, error) {
	if s.server.Addr() == "" {
		return HealthStatus{State: HealthUnknown, Message: "frontend not started"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "frontend serving",
		Data:    map[string]any{"addr": s.server.Addr()},
	}, nil
}
