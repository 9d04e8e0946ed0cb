// Package health provides the health check and metrics HTTP server for
// udpmirror.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/postalsys/udpmirror/internal/logging"
	"github.com/postalsys/udpmirror/internal/mirror"
	"github.com/postalsys/udpmirror/internal/recovery"
)

// StatsProvider provides relay statistics.
type StatsProvider interface {
	// IsRunning returns true while the relay loop is active.
	IsRunning() bool

	// Stats returns the relay counters.
	Stats() mirror.Stats
}

// ServerConfig contains health server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:9100")
	Address string

	// ReadTimeout for HTTP reads
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes
	WriteTimeout time.Duration

	// PasswordHash is a bcrypt hash. When set, every endpoint except
	// /health requires HTTP basic auth with this password.
	PasswordHash string

	// Gatherer serves /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is an HTTP server for health check endpoints.
type Server struct {
	cfg      ServerConfig
	provider StatsProvider
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new health check server.
func NewServer(cfg ServerConfig, provider StatsProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}

	s := &Server{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With(slog.String(logging.KeyComponent, "health")),
	}

	metricsHandler := promhttp.Handler()
	if cfg.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/healthz", s.requireAuth(http.HandlerFunc(s.handleHealthz)))
	mux.Handle("/ready", s.requireAuth(http.HandlerFunc(s.handleReady)))
	mux.Handle("/metrics", s.requireAuth(metricsHandler))

	// pprof debug endpoints
	mux.Handle("/debug/pprof/", s.requireAuth(http.HandlerFunc(pprof.Index)))
	mux.Handle("/debug/pprof/cmdline", s.requireAuth(http.HandlerFunc(pprof.Cmdline)))
	mux.Handle("/debug/pprof/profile", s.requireAuth(http.HandlerFunc(pprof.Profile)))
	mux.Handle("/debug/pprof/symbol", s.requireAuth(http.HandlerFunc(pprof.Symbol)))
	mux.Handle("/debug/pprof/trace", s.requireAuth(http.HandlerFunc(pprof.Trace)))

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the health check server.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	recovery.Go(s.logger, "health-server", func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server stopped", logging.KeyError, err)
		}
	})

	s.logger.Info("health server listening", logging.KeyAddress, ln.Addr().String())
	return nil
}

// Stop stops the health check server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

func (s *Server) handler() http.Handler {
	return s.server.Handler
}

// requireAuth wraps next with HTTP basic auth when a password hash is set.
// Any user name is accepted.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.cfg.PasswordHash == "" {
		return next
	}
	hash := []byte(s.cfg.PasswordHash)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, password, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="udpmirror"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles the basic health check endpoint.
// Returns 200 if the server is responding.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

// healthzResponse is the /healthz body.
type healthzResponse struct {
	Status  string        `json:"status"`
	Running bool          `json:"running"`
	Relay   *mirror.Stats `json:"relay,omitempty"`
}

// handleHealthz returns the relay counters as JSON, with 503 unless the
// relay loop is active.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthzResponse{Status: "unavailable"}
	code := http.StatusServiceUnavailable

	if s.provider != nil {
		stats := s.provider.Stats()
		resp.Relay = &stats
		if s.provider.IsRunning() {
			resp.Status = "healthy"
			resp.Running = true
			code = http.StatusOK
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// handleReady handles the readiness probe endpoint.
// Returns 200 once the relay is receiving datagrams.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	if s.provider == nil || !s.provider.IsRunning() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY\n"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY\n"))
}
