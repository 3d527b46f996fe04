// Package supervisor observes every actor of the network and injects faults
// and traffic through their control channels.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/najoast/netsim/core"
	"github.com/najoast/netsim/logging"
	"github.com/najoast/netsim/topology"
)

var (
	// ErrNotRelay is returned for relay operations on other ids
	ErrNotRelay = errors.New("not a relay")

	// ErrNotOriginator is returned when injecting from a non-originator
	ErrNotOriginator = errors.New("not an originator")

	// ErrAlreadyRunning is returned by a second Run
	ErrAlreadyRunning = errors.New("supervisor already running")
)

// Params is the construction contract: every endpoint the supervisor owns
// plus the read-only context it reports on.
type Params struct {
	// NodeSenders holds one sender into every node's data mailbox
	NodeSenders map[topology.NodeID]core.Sender[core.Packet]

	RelayControls      map[topology.NodeID]core.SupervisorSide
	OriginatorControls map[topology.NodeID]core.SupervisorSide
	ResponderControls  map[topology.NodeID]core.SupervisorSide

	Topology   *topology.Topology
	DisplayURL string

	// RelayKinds records the implementation chosen for each relay
	RelayKinds map[topology.NodeID]string

	Logger  *slog.Logger
	Metrics core.Metrics

	// Observer, if set, sees every event after the supervisor handled it.
	// It runs on the supervisor goroutine and must not block.
	Observer func(core.Event)
}

// Supervisor owns the supervisor side of every control pair.
type Supervisor struct {
	topo       *topology.Topology
	displayURL string
	relayKinds map[topology.NodeID]string
	senders    map[topology.NodeID]core.Sender[core.Packet]
	router     *core.Router
	controls   map[topology.NodeID]core.SupervisorSide
	roles      map[topology.NodeID]topology.Role

	log      *slog.Logger
	metrics  core.Metrics
	observer func(core.Event)

	running atomic.Bool
	session atomic.Uint64

	mu      sync.Mutex
	crashed map[topology.NodeID]bool
	stopped map[topology.NodeID]bool
	counts  map[string]uint64
}

// New checks that p covers every node of the topology and builds the
// supervisor.
func New(p Params) (*Supervisor, error) {
	if p.Topology == nil {
		return nil, errors.New("supervisor needs a topology")
	}
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	m := p.Metrics
	if m == nil {
		m = core.NopMetrics()
	}

	s := &Supervisor{
		topo:       p.Topology.Clone(),
		displayURL: p.DisplayURL,
		relayKinds: make(map[topology.NodeID]string, len(p.RelayKinds)),
		senders:    make(map[topology.NodeID]core.Sender[core.Packet], len(p.NodeSenders)),
		controls:   make(map[topology.NodeID]core.SupervisorSide),
		roles:      make(map[topology.NodeID]topology.Role),
		log:        log.With(slog.String("component", "supervisor")),
		metrics:    m,
		observer:   p.Observer,
		crashed:    make(map[topology.NodeID]bool),
		stopped:    make(map[topology.NodeID]bool),
		counts:     make(map[string]uint64),
	}
	for id, kind := range p.RelayKinds {
		s.relayKinds[id] = kind
	}
	routes := make(map[topology.NodeID]core.Sender[core.Packet], len(p.NodeSenders))
	for id, snd := range p.NodeSenders {
		s.senders[id] = snd
		routes[id] = snd
	}
	s.router = core.NewRouter(routes)

	for _, group := range []struct {
		role     topology.Role
		controls map[topology.NodeID]core.SupervisorSide
	}{
		{topology.RoleRelay, p.RelayControls},
		{topology.RoleOriginator, p.OriginatorControls},
		{topology.RoleResponder, p.ResponderControls},
	} {
		for id, side := range group.controls {
			s.controls[id] = side
			s.roles[id] = group.role
		}
	}

	for _, n := range s.topo.Nodes() {
		if _, ok := s.senders[n.ID]; !ok {
			return nil, fmt.Errorf("no data sender for %s %d", n.Role, n.ID)
		}
		role, ok := s.roles[n.ID]
		if !ok {
			return nil, fmt.Errorf("no control channel for %s %d", n.Role, n.ID)
		}
		if role != n.Role {
			return nil, fmt.Errorf("control channel for %d registered as %s, topology says %s", n.ID, role, n.Role)
		}
	}
	if len(s.controls) != s.topo.Len() {
		return nil, fmt.Errorf("%d control channels for %d nodes", len(s.controls), s.topo.Len())
	}
	return s, nil
}

// DisplayURL returns the front-end address.
func (s *Supervisor) DisplayURL() string { return s.displayURL }

// RelayKinds returns a copy of the relay implementation map.
func (s *Supervisor) RelayKinds() map[topology.NodeID]string {
	out := make(map[topology.NodeID]string, len(s.relayKinds))
	for id, kind := range s.relayKinds {
		out[id] = kind
	}
	return out
}

// Run fans in every actor's event stream and handles events until ctx is
// done or every actor has stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.log.Info("supervisor running",
		slog.Int("actors", len(s.controls)),
		slog.String("display_url", s.displayURL))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	merged := make(chan core.Event)
	g, gctx := errgroup.WithContext(ctx)
	for id, side := range s.controls {
		id, events := id, side.Events
		g.Go(func() error {
			for {
				select {
				case ev, ok := <-events.C():
					if !ok {
						s.log.Debug("event stream closed", slog.Int("node", int(id)))
						return nil
					}
					select {
					case merged <- ev:
					case <-gctx.Done():
						return nil
					}
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	remaining := len(s.controls)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			cancel()
			return g.Wait()
		case ev := <-merged:
			if s.handle(ev) {
				remaining--
			}
		}
	}

	s.log.Info("all actors stopped")
	cancel()
	return g.Wait()
}

// handle processes one event and reports whether it was an actor's final one.
func (s *Supervisor) handle(ev core.Event) bool {
	s.metrics.EventObserved(ev.Type())

	s.mu.Lock()
	s.counts[ev.Type()]++
	s.mu.Unlock()

	final := false
	log := s.log.With(slog.Int("node", int(ev.Origin())))
	switch e := ev.(type) {
	case core.ControllerShortcut:
		if err := s.router.Route(e.Packet); err != nil {
			log.Error("shortcut delivery failed", slog.String("packet", e.Packet.String()), slog.Any("error", err))
		} else {
			log.Debug("shortcut delivered", slog.String("packet", e.Packet.String()))
		}
	case core.PacketDropped:
		log.Debug("fragment dropped", slog.Uint64("session", e.Packet.Session))
	case core.PacketSent:
		log.Log(context.Background(), logging.LevelTrace, "packet sent", slog.String("packet", e.Packet.String()))
	case core.Received:
		log.Info("fragment received", slog.Uint64("session", e.Session), slog.Int("from", int(e.From)))
	case core.Delivered:
		log.Info("fragment delivered", slog.Uint64("session", e.Session))
	case core.Undeliverable:
		log.Warn("fragment undeliverable", slog.Uint64("session", e.Session), slog.String("reason", e.Reason.String()))
	case core.CommandRejected:
		log.Warn("command rejected", slog.String("command", e.Command), slog.String("reason", e.Reason))
	case core.Stopped:
		s.mu.Lock()
		if !s.stopped[e.Node] {
			s.stopped[e.Node] = true
			final = true
		}
		s.mu.Unlock()
		log.Info("actor stopped")
	default:
		log.Warn("unknown event", slog.String("type", ev.Type()))
	}

	if s.observer != nil {
		s.observer(ev)
	}
	return final
}

func (s *Supervisor) command(id topology.NodeID, cmd core.Command) error {
	side, ok := s.controls[id]
	if !ok {
		return fmt.Errorf("unknown node %d", id)
	}
	if err := side.Commands.Send(cmd); err != nil {
		return fmt.Errorf("send %s to %d: %w", core.CommandName(cmd), id, err)
	}
	return nil
}

// Crash crashes relay id and tells its neighbors to forget it.
func (s *Supervisor) Crash(id topology.NodeID) error {
	if s.roles[id] != topology.RoleRelay {
		return fmt.Errorf("%w: %d", ErrNotRelay, id)
	}
	if err := s.command(id, core.Crash{}); err != nil {
		return err
	}
	s.mu.Lock()
	s.crashed[id] = true
	s.mu.Unlock()

	neighbors, _ := s.topo.NeighborsOf(id)
	var errs []error
	for _, peer := range neighbors {
		if err := s.command(peer, core.RemoveNeighbor{ID: id}); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Info("relay crashed", slog.Int("node", int(id)), slog.Int("neighbors", len(neighbors)))
	return errors.Join(errs...)
}

// SetDropProbability changes the drop probability of relay id.
func (s *Supervisor) SetDropProbability(id topology.NodeID, p float64) error {
	if s.roles[id] != topology.RoleRelay {
		return fmt.Errorf("%w: %d", ErrNotRelay, id)
	}
	if !(p >= 0 && p <= 1) {
		return fmt.Errorf("drop probability %v out of range [0, 1]", p)
	}
	return s.command(id, core.SetDropProbability{Probability: p})
}

// SendPayload asks an originator to send payload along route and returns
// the session id assigned to it.
func (s *Supervisor) SendPayload(originator topology.NodeID, route []topology.NodeID, payload []byte) (uint64, error) {
	if s.roles[originator] != topology.RoleOriginator {
		return 0, fmt.Errorf("%w: %d", ErrNotOriginator, originator)
	}
	if len(route) < 2 || route[0] != originator {
		return 0, fmt.Errorf("route %v must start at %d and have a next hop", route, originator)
	}
	session := s.session.Add(1)
	r := make([]topology.NodeID, len(route))
	copy(r, route)
	if err := s.command(originator, core.SendPayload{Session: session, Route: r, Payload: payload}); err != nil {
		return 0, err
	}
	return session, nil
}

// Shutdown asks every actor to leave its loop.
func (s *Supervisor) Shutdown() error {
	var errs []error
	for _, id := range s.ids() {
		if err := s.command(id, core.Shutdown{}); err != nil && !errors.Is(err, core.ErrMailboxClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) ids() []topology.NodeID {
	ids := make([]topology.NodeID, 0, len(s.controls))
	for id := range s.controls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot is a point-in-time view of the network.
type Snapshot struct {
	Topology      *topology.Topology         `json:"topology"`
	RelayKinds    map[topology.NodeID]string `json:"relay_kinds"`
	DisplayURL    string                     `json:"display_url"`
	MailboxDepths map[topology.NodeID]int    `json:"mailbox_depths"`
	Crashed       []topology.NodeID          `json:"crashed"`
	Stopped       []topology.NodeID          `json:"stopped"`
	Events        map[string]uint64          `json:"events"`
}

// Snapshot returns the current view of the network.
func (s *Supervisor) Snapshot() Snapshot {
	snap := Snapshot{
		Topology:      s.topo.Clone(),
		RelayKinds:    s.RelayKinds(),
		DisplayURL:    s.displayURL,
		MailboxDepths: make(map[topology.NodeID]int, len(s.senders)),
		Crashed:       []topology.NodeID{},
		Stopped:       []topology.NodeID{},
		Events:        make(map[string]uint64),
	}
	for id, snd := range s.senders {
		snap.MailboxDepths[id] = snd.Len()
		s.metrics.MailboxDepth(id, snd.Len())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.crashed {
		snap.Crashed = append(snap.Crashed, id)
	}
	for id := range s.stopped {
		snap.Stopped = append(snap.Stopped, id)
	}
	for typ, n := range s.counts {
		snap.Events[typ] = n
	}
	sort.Slice(snap.Crashed, func(i, j int) bool { return snap.Crashed[i] < snap.Crashed[j] })
	sort.Slice(snap.Stopped, func(i, j int) bool { return snap.Stopped[i] < snap.Stopped[j] })
	return snap
}
