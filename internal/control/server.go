// Package control provides a Unix socket control interface for udpmirror.
package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/postalsys/udpmirror/internal/logging"
	"github.com/postalsys/udpmirror/internal/mirror"
	"github.com/postalsys/udpmirror/internal/recovery"
)

// RelayInfo provides relay information for the control interface.
type RelayInfo interface {
	// IsRunning returns true if the relay loop is active.
	IsRunning() bool

	// Stats returns the relay counters.
	Stats() mirror.Stats
}

// StatusResponse is the response for the status endpoint.
type StatusResponse struct {
	Version           string    `json:"version,omitempty"`
	PID               int       `json:"pid"`
	StartedAt         time.Time `json:"started_at"`
	State             string    `json:"state"`
	Running           bool      `json:"running"`
	Receiver          string    `json:"receiver,omitempty"`
	Fanout            string    `json:"fanout"`
	BufferSize        int       `json:"buffer_size"`
	DestinationCount  int       `json:"destination_count"`
	DatagramsReceived uint64    `json:"datagrams_received"`
	BytesReceived     uint64    `json:"bytes_received"`
	TransientErrors   uint64    `json:"transient_receive_errors"`
}

// DestinationsResponse is the response for the destinations endpoint.
type DestinationsResponse struct {
	Destinations []mirror.DestinationStats `json:"destinations"`
}

// ServerConfig contains control server configuration.
type ServerConfig struct {
	// SocketPath is the path to the Unix socket file.
	SocketPath string

	// Version is reported by the status endpoint.
	Version string

	// ReadTimeout for HTTP reads.
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes.
	WriteTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:   "/tmp/udpmirror.sock",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is a Unix socket HTTP server for control commands.
type Server struct {
	cfg       ServerConfig
	relay     RelayInfo
	logger    *slog.Logger
	startedAt time.Time
	server    *http.Server
	listener  net.Listener
	running   atomic.Bool
}

// NewServer creates a new control server.
func NewServer(cfg ServerConfig, relay RelayInfo, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}

	s := &Server{
		cfg:       cfg,
		relay:     relay,
		logger:    logger.With(slog.String(logging.KeyComponent, "control")),
		startedAt: time.Now().UTC(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/destinations", s.handleDestinations)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the control server.
func (s *Server) Start() error {
	// Remove a stale socket left by an earlier run
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	recovery.Go(s.logger, "control-server", func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control server stopped", logging.KeyError, err)
		}
	})

	s.logger.Info("control socket listening", logging.KeyAddress, s.cfg.SocketPath)
	return nil
}

// Stop stops the control server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// handleStatus handles the status endpoint.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.relay.Stats()
	response := StatusResponse{
		Version:           s.cfg.Version,
		PID:               os.Getpid(),
		StartedAt:         s.startedAt,
		State:             stats.State,
		Running:           s.relay.IsRunning(),
		Receiver:          stats.Receiver,
		Fanout:            stats.Fanout,
		BufferSize:        stats.BufferSize,
		DestinationCount:  len(stats.Destinations),
		DatagramsReceived: stats.DatagramsReceived,
		BytesReceived:     stats.BytesReceived,
		TransientErrors:   stats.TransientErrors,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleDestinations handles the destinations endpoint.
func (s *Server) handleDestinations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := DestinationsResponse{
		Destinations: s.relay.Stats().Destinations,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
