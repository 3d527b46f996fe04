// Package bootstrap validates a topology, wires it, spawns every actor and
// the supervisor, and manages the services of the netsim process.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/najoast/netsim/config"
	"github.com/najoast/netsim/core"
	"github.com/najoast/netsim/endpoint"
	"github.com/najoast/netsim/frontend"
	"github.com/najoast/netsim/relay"
	"github.com/najoast/netsim/supervisor"
	"github.com/najoast/netsim/topology"
	"github.com/najoast/netsim/wiring"
)

var (
	// ErrPhaseConsumed is returned when a phase value is advanced twice
	ErrPhaseConsumed = errors.New("bootstrap phase already consumed")

	// ErrTooManyActors is returned when a topology exceeds simulation.max_actors
	ErrTooManyActors = errors.New("topology exceeds the actor limit")

	// ErrUnwiredNodes is returned when nodes are left without an actor
	ErrUnwiredNodes = errors.New("nodes left without an actor")
)

// Phase names reported through core.Metrics.PhaseReached.
const (
	PhaseConfigured         = "configured"
	PhaseWireBuilt          = "wire_built"
	PhaseRelaysLaunched     = "relays_launched"
	PhaseEndpointsLaunched  = "endpoints_launched"
	PhaseSupervisorLaunched = "supervisor_launched"
)

// Options tune one bootstrap run.
type Options struct {
	Logger  *slog.Logger
	Metrics core.Metrics

	// NewSpawner builds the spawner, nil means NewGroupSpawner
	NewSpawner SpawnerFactory

	// RelayOptions are registered with every relay kind
	RelayOptions core.Options

	// Observer is handed to the supervisor
	Observer func(core.Event)
}

// pipeline is the state shared by every phase of one run.
type pipeline struct {
	cfg        *config.Config
	topo       *topology.Topology
	log        *slog.Logger
	metrics    core.Metrics
	newSpawner SpawnerFactory
	observer   func(core.Event)

	plan       *wiring.Plan
	ctx        context.Context
	cancel     context.CancelCauseFunc
	spawner    Spawner
	relayKinds map[topology.NodeID]string
	spawned    int
}

// phase guards single use of a phase value.
type phase struct {
	p        *pipeline
	consumed bool
}

func (ph *phase) take(name string) (*pipeline, error) {
	if ph.p == nil {
		return nil, fmt.Errorf("%s: phase was not produced by bootstrap", name)
	}
	if ph.consumed {
		return nil, fmt.Errorf("%w: %s", ErrPhaseConsumed, name)
	}
	ph.consumed = true
	return ph.p, nil
}

// Configured holds a validated topology.
type Configured struct{ phase }

// WireBuilt holds the allocated channel plan.
type WireBuilt struct{ phase }

// RelaysLaunched means every relay is running.
type RelaysLaunched struct{ phase }

// EndpointsLaunched means every originator and responder is running.
type EndpointsLaunched struct{ phase }

// Configure validates topo. Nothing is allocated or spawned when it fails.
func Configure(cfg *config.Config, topo *topology.Topology, opts Options) (*Configured, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = core.NopMetrics()
	}
	newSpawner := opts.NewSpawner
	if newSpawner == nil {
		newSpawner = NewGroupSpawner
	}
	log = log.With(slog.String("component", "bootstrap"))

	if topo == nil {
		return nil, errors.New("no topology given")
	}
	if err := topology.Validate(topo); err != nil {
		logValidationError(log, err)
		return nil, err
	}
	if n := topo.Len(); n > cfg.Simulation.MaxActors {
		err := fmt.Errorf("%w: %d nodes, limit %d", ErrTooManyActors, n, cfg.Simulation.MaxActors)
		log.Error("topology rejected", slog.Any("error", err))
		return nil, err
	}

	m.PhaseReached(PhaseConfigured)
	log.Info("topology valid",
		slog.Int("relays", len(topo.Relays)),
		slog.Int("originators", len(topo.Originators)),
		slog.Int("responders", len(topo.Responders)))

	return &Configured{phase{p: &pipeline{
		cfg:        cfg,
		topo:       topo.Clone(),
		log:        log,
		metrics:    m,
		newSpawner: newSpawner,
		observer:   opts.Observer,
		relayKinds: make(map[topology.NodeID]string, len(topo.Relays)),
	}}}, nil
}

func logValidationError(log *slog.Logger, err error) {
	var verr *topology.ValidationError
	if !errors.As(err, &verr) {
		log.Error("topology rejected", slog.Any("error", err))
		return
	}
	attrs := []any{
		slog.String("kind", verr.Kind.Error()),
		slog.String("role", verr.Role.String()),
		slog.Int("node", int(verr.Node)),
		slog.Any("error", err),
	}
	if hasPeer(verr.Kind) {
		attrs = append(attrs, slog.Int("peer", int(verr.Peer)))
	}
	log.Error("topology rejected", attrs...)
}

// hasPeer reports whether a validation error of kind names an edge.
func hasPeer(kind error) bool {
	switch kind {
	case topology.ErrSelfReference, topology.ErrDuplicateNeighbor,
		topology.ErrDanglingReference, topology.ErrAsymmetricEdge:
		return true
	}
	return false
}

// Wire allocates every mailbox and control pair.
func (c *Configured) Wire() (*WireBuilt, error) {
	p, err := c.take("wire")
	if err != nil {
		return nil, err
	}
	plan, err := wiring.Build(p.topo)
	if err != nil {
		p.log.Error("wiring failed", slog.Any("error", err))
		return nil, err
	}
	p.plan = plan
	p.metrics.PhaseReached(PhaseWireBuilt)
	return &WireBuilt{phase{p: p}}, nil
}

// LaunchRelays spawns relay i, in declaration order, with reg.Assign(i).
func (w *WireBuilt) LaunchRelays(ctx context.Context, reg *core.Registry) (*RelaysLaunched, error) {
	p, err := w.take("launch relays")
	if err != nil {
		return nil, err
	}
	if reg == nil || reg.Len() == 0 {
		p.plan.Close()
		return nil, core.ErrEmptyRegistry
	}

	p.ctx, p.cancel = context.WithCancelCause(ctx)
	p.spawner = p.newSpawner(p.ctx, p.topo.Len()+1)

	for i, spec := range p.topo.Relays {
		nw, err := p.plan.TakeNode(spec.ID)
		if err != nil {
			return nil, p.fail(err)
		}
		actor, err := reg.Build(i, p.actorSpec(nw))
		if err != nil {
			return nil, p.fail(err)
		}
		p.relayKinds[spec.ID] = actor.Kind()
		if err := p.spawn(actor, topology.RoleRelay); err != nil {
			return nil, p.fail(err)
		}
	}

	p.metrics.PhaseReached(PhaseRelaysLaunched)
	return &RelaysLaunched{phase{p: p}}, nil
}

// LaunchEndpoints spawns every originator and responder.
func (r *RelaysLaunched) LaunchEndpoints(ctx context.Context) (*EndpointsLaunched, error) {
	p, err := r.take("launch endpoints")
	if err != nil {
		return nil, err
	}
	if err := p.aborted(ctx); err != nil {
		return nil, p.fail(err)
	}

	groups := []struct {
		role  topology.Role
		specs []topology.EndpointSpec
		ctor  core.Constructor
	}{
		{topology.RoleOriginator, p.topo.Originators, endpoint.NewOriginator},
		{topology.RoleResponder, p.topo.Responders, endpoint.NewResponder},
	}
	for _, g := range groups {
		for _, spec := range g.specs {
			nw, err := p.plan.TakeNode(spec.ID)
			if err != nil {
				return nil, p.fail(err)
			}
			actor, err := g.ctor(p.actorSpec(nw))
			if err != nil {
				return nil, p.fail(fmt.Errorf("failed to construct %s %d: %w", g.role, spec.ID, err))
			}
			if err := p.spawn(actor, g.role); err != nil {
				return nil, p.fail(err)
			}
		}
	}

	p.metrics.PhaseReached(PhaseEndpointsLaunched)
	return &EndpointsLaunched{phase{p: p}}, nil
}

// LaunchSupervisor hands the supervisor side of every channel to a new
// supervisor and spawns it.
func (e *EndpointsLaunched) LaunchSupervisor(ctx context.Context, displayURL string) (*supervisor.Supervisor, error) {
	p, err := e.take("launch supervisor")
	if err != nil {
		return nil, err
	}
	if err := p.aborted(ctx); err != nil {
		return nil, p.fail(err)
	}
	if left := p.plan.Remaining(); len(left) > 0 {
		return nil, p.fail(fmt.Errorf("%w: %v", ErrUnwiredNodes, left))
	}

	side, err := p.plan.TakeSupervisorSide()
	if err != nil {
		return nil, p.fail(err)
	}
	sup, err := supervisor.New(supervisor.Params{
		NodeSenders:        side.NodeSenders,
		RelayControls:      side.RelayControls,
		OriginatorControls: side.OriginatorControls,
		ResponderControls:  side.ResponderControls,
		Topology:           p.topo,
		DisplayURL:         displayURL,
		RelayKinds:         p.relayKinds,
		Logger:             p.log.With(slog.String("display_url", displayURL)),
		Metrics:            p.metrics,
		Observer:           p.observer,
	})
	if err != nil {
		return nil, p.fail(err)
	}

	if err := p.spawner.Spawn("supervisor", func(ctx context.Context) error {
		if err := sup.Run(ctx); err != nil {
			p.cancel(fmt.Errorf("supervisor: %w", err))
			return err
		}
		return nil
	}); err != nil {
		return nil, p.fail(err)
	}
	p.spawned++

	p.metrics.PhaseReached(PhaseSupervisorLaunched)
	p.log.Info("network up", slog.Int("units", p.spawned), slog.String("display_url", displayURL))
	return sup, nil
}

func (p *pipeline) actorSpec(nw *wiring.NodeWiring) core.Spec {
	return core.Spec{
		ID:              nw.ID,
		Commands:        nw.Control.Commands,
		Events:          nw.Control.Events,
		Inbox:           nw.Inbox,
		Outbound:        nw.Outbound,
		DropProbability: nw.DropProbability,
		Logger:          p.log.With(slog.String("role", nw.Role.String())),
		Metrics:         p.metrics,
	}
}

func (p *pipeline) spawn(a core.Actor, role topology.Role) error {
	name := role.String() + "-" + strconv.Itoa(int(a.ID()))
	err := p.spawner.Spawn(name, func(ctx context.Context) error {
		if err := a.Run(ctx); err != nil {
			p.log.Error("actor failed", slog.String("unit", name), slog.Any("error", err))
			p.cancel(fmt.Errorf("%s: %w", name, err))
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.spawned++
	p.metrics.ActorSpawned(role, a.Kind())
	return nil
}

// aborted reports a failure of an already running unit or of ctx.
func (p *pipeline) aborted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ctx.Err() != nil {
		return context.Cause(p.ctx)
	}
	return nil
}

// fail tears down everything spawned so far and returns err.
func (p *pipeline) fail(err error) error {
	p.log.Error("bootstrap failed", slog.Int("spawned", p.spawned), slog.Any("error", err))
	if p.cancel != nil {
		p.cancel(err)
	}
	if p.spawner != nil {
		_ = p.spawner.Wait()
	}
	p.plan.Close()
	return err
}

// Network is a running simulation.
type Network struct {
	Supervisor *supervisor.Supervisor

	p *pipeline
}

// Run drives every phase in order.
func Run(ctx context.Context, cfg *config.Config, topo *topology.Topology, opts Options) (*Network, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	configured, err := Configure(cfg, topo, opts)
	if err != nil {
		return nil, err
	}

	reg := core.NewRegistry()
	relayOpts := opts.RelayOptions
	if cfg.Simulation.Seed != 0 {
		if _, set := relayOpts[relay.OptionSeed]; !set {
			relayOpts = core.Options{relay.OptionSeed: strconv.FormatInt(cfg.Simulation.Seed, 10)}
			for k, v := range opts.RelayOptions {
				relayOpts[k] = v
			}
		}
	}
	if err := relay.Register(reg, cfg.RelayKinds(relay.KindStandard), relayOpts); err != nil {
		return nil, err
	}

	wired, err := configured.Wire()
	if err != nil {
		return nil, err
	}
	relays, err := wired.LaunchRelays(ctx, reg)
	if err != nil {
		return nil, err
	}
	endpoints, err := relays.LaunchEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	p := endpoints.p
	sup, err := endpoints.LaunchSupervisor(ctx, frontend.DisplayURL(cfg.Frontend.Host, cfg.Frontend.Port))
	if err != nil {
		return nil, err
	}
	return &Network{Supervisor: sup, p: p}, nil
}

// RelayKinds returns the implementation chosen for every relay.
func (n *Network) RelayKinds() map[topology.NodeID]string {
	out := make(map[topology.NodeID]string, len(n.p.relayKinds))
	for id, kind := range n.p.relayKinds {
		out[id] = kind
	}
	return out
}

// Units returns the number of spawned units, the supervisor included.
func (n *Network) Units() int { return n.p.spawned }

// Shutdown asks every actor to stop. Wait joins them.
func (n *Network) Shutdown() error {
	return n.Supervisor.Shutdown()
}

// Wait blocks until every unit has returned, releases every mailbox and
// reports the first unit error.
func (n *Network) Wait() error {
	err := n.p.spawner.Wait()
	n.p.cancel(nil)
	n.p.plan.Close()
	return err
}

// Cancel stops every unit through its context.
func (n *Network) Cancel() {
	n.p.cancel(context.Canceled)
}
