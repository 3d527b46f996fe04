// Package frontend serves the display assets, the live topology snapshot and
// Prometheus metrics over HTTP.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/najoast/netsim/supervisor"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("frontend already started")

// DisplayURL is the address handed to the supervisor for the display page.
func DisplayURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// WebSocketURL is the live-update endpoint, one port above the HTTP server.
func WebSocketURL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port+1))
}

// SnapshotSource supplies the network view for /topology.
type SnapshotSource interface {
	Snapshot() supervisor.Snapshot
}

// Options configure a Server.
type Options struct {
	// Addr is host:port to listen on; port 0 picks a free one
	Addr string

	// PublicPath is the static asset directory, empty disables it
	PublicPath string

	// Gatherer backs /metrics, nil means prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server is the display HTTP server.
type Server struct {
	opts   Options
	source SnapshotSource
	log    *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
	done       chan struct{}
}

// NewServer creates a server reporting on source.
func NewServer(source SnapshotSource, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		opts:   opts,
		source: source,
		log:    log.With(slog.String("component", "frontend")),
	}
}

// Handler returns the routing for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/topology", s.handleTopology)
	mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	if s.opts.PublicPath != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.PublicPath)))
	}
	return mux
}

// Addr returns the address the server listens on, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener and serves in the background until Stop or ctx
// is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.done = make(chan struct{})

	srv, done := s.httpServer, s.done
	go func() {
		defer close(done)
		s.log.Info("frontend listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("frontend server error", slog.Any("error", err))
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop(context.Background())
		case <-done:
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpServer, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-done
	return err
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Snapshot()); err != nil {
		s.log.Error("encode snapshot", slog.Any("error", err))
	}
}
