// Package rendezvous implements the service that introduces clients to NATed
// game hosts. Hosts hold a WebSocket control channel open on /api/host and are
// registered under the fingerprint of the public address the service sees.
// Clients POST /api/join naming a fingerprint and their source port, and the
// service tells the matching host to punch toward them.
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Banner is served on the root path.
const Banner = "this website helps you nat punch"

// Server is the rendezvous server that coordinates host sessions and join
// requests.
type Server struct {
	cfg      Config
	registry *Registry
	hosts    *HostHandler
	join     *JoinHandler
	metrics  *Metrics

	httpServer *http.Server
	mux        *http.ServeMux
	listener   net.Listener
	started    time.Time

	// Lifecycle
	shutdownOnce sync.Once
	done         chan struct{}

	logger *zap.Logger
}

// NewServer creates a new rendezvous server with the given configuration.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("rendezvous")

	registry := NewRegistry()
	metrics := NewMetrics(registry)
	resolver := AddrResolver{TrustProxy: cfg.TrustProxy, ExternalIP: cfg.ExternalIP}

	hosts := NewHostHandler(registry, resolver, metrics, logger.Named("host"))
	if cfg.WriteTimeout > 0 {
		hosts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PingInterval > 0 {
		hosts.PingInterval = cfg.PingInterval
	}
	if cfg.PongWait > 0 {
		hosts.PongWait = cfg.PongWait
	}

	s := &Server{
		cfg:      cfg,
		registry: registry,
		hosts:    hosts,
		join:     NewJoinHandler(registry, resolver, metrics, logger.Named("join")),
		metrics:  metrics,
		mux:      http.NewServeMux(),
		started:  time.Now(),
		done:     make(chan struct{}),
		logger:   logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.Handle("/api/host", s.hosts)
	s.mux.Handle("/api/join", s.join)

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.HandleFunc("/", s.handleIndex)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.cfg.ReadTimeout,
		// WriteTimeout is left to the sessions; a server-wide one would
		// cut hijacked connections.
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}

	go s.cleanupLoop()
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", zap.Error(err))
		}
	}()

	s.logger.Info("listening", zap.Stringer("addr", ln.Addr()),
		zap.Bool("trust_proxy", s.cfg.TrustProxy),
		zap.Stringer("external_ip", s.cfg.ExternalIP))
	return nil
}

// Shutdown gracefully stops the server and closes every host session.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down")
		close(s.done)

		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}

		// Hijacked connections are not tracked by http.Server.
		for _, sess := range s.registry.All() {
			sess.CloseWith(websocket.CloseGoingAway, "server shutting down")
		}
	})
	return err
}

// cleanupLoop periodically removes stale sessions.
func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.registry.CleanupStale(s.cfg.StaleTimeout); n > 0 {
				s.metrics.Stale.Add(float64(n))
				s.logger.Info("cleanup: removed stale sessions", zap.Int("count", n))
			}
		}
	}
}

// --- HTTP Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

// handleStats returns server statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.registry.Stats()
	resp := map[string]interface{}{
		"hosts":          stats.TotalHosts,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"timestamp":      time.Now().UnixMilli(),
	}
	if !stats.Oldest.IsZero() {
		resp["oldest_registration"] = stats.Oldest.UnixMilli()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIndex serves the banner on "/" and a JSON 404 elsewhere.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": "not found",
			"path":  r.URL.Path,
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(Banner))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the bound listener address, or the configured one before
// Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Registry returns the host registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Hosts returns the host handler for configuration.
func (s *Server) Hosts() *HostHandler {
	return s.hosts
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
