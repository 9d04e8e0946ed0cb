package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/postalsys/udpmirror/internal/mirror"
)

// mockRelay implements RelayInfo for testing.
type mockRelay struct {
	running bool
	stats   mirror.Stats
}

func (m *mockRelay) IsRunning() bool {
	return m.running
}

func (m *mockRelay) Stats() mirror.Stats {
	return m.stats
}

func newMockRelay() *mockRelay {
	return &mockRelay{
		running: true,
		stats: mirror.Stats{
			State:             "RELAYING",
			Receiver:          "0.0.0.0:9000",
			Fanout:            "sequential",
			BufferSize:        1880,
			DatagramsReceived: 10,
			BytesReceived:     1000,
			TransientErrors:   1,
			Destinations: []mirror.DestinationStats{
				{Address: "127.0.0.1:5000", Datagrams: 10, Bytes: 1000},
				{Address: "127.0.0.1:5001", Datagrams: 7, Bytes: 700, Failures: 3, LastError: "connection refused"},
			},
		},
	}
}

// socketPath returns a short socket path; unix socket paths are limited to
// about 100 bytes and t.TempDir can exceed that on macOS.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "udpm")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "control.sock")
}

func TestServer_StartStop(t *testing.T) {
	path := socketPath(t)

	cfg := ServerConfig{
		SocketPath:   path,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	s := NewServer(cfg, newMockRelay(), nil)

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	if !s.IsRunning() {
		t.Error("expected server to be running")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("socket file does not exist")
	}

	if err := s.Stop(); err != nil {
		t.Errorf("failed to stop: %v", err)
	}

	if s.IsRunning() {
		t.Error("expected server to be stopped")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("socket file should be removed on stop")
	}

	// Stop twice should not error
	if err := s.Stop(); err != nil {
		t.Errorf("second stop failed: %v", err)
	}
}

func TestServer_StartRemovesStaleSocket(t *testing.T) {
	path := socketPath(t)
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	s := NewServer(ServerConfig{SocketPath: path}, newMockRelay(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start over stale file: %v", err)
	}
	s.Stop()
}

func TestServer_ClientIntegration(t *testing.T) {
	path := socketPath(t)

	relay := newMockRelay()
	s := NewServer(ServerConfig{SocketPath: path, Version: "1.2.3"}, relay, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer s.Stop()

	client := NewClient(path)
	defer client.Close()

	ctx := context.Background()

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.Running || status.State != "RELAYING" {
		t.Errorf("running = %v state = %s, want true RELAYING", status.Running, status.State)
	}
	if status.Version != "1.2.3" {
		t.Errorf("version = %s, want 1.2.3", status.Version)
	}
	if status.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", status.PID, os.Getpid())
	}
	if status.Receiver != "0.0.0.0:9000" {
		t.Errorf("receiver = %s, want 0.0.0.0:9000", status.Receiver)
	}
	if status.DestinationCount != 2 {
		t.Errorf("destination count = %d, want 2", status.DestinationCount)
	}
	if status.DatagramsReceived != 10 || status.BytesReceived != 1000 {
		t.Errorf("received = %d/%d, want 10/1000", status.DatagramsReceived, status.BytesReceived)
	}
	if status.TransientErrors != 1 {
		t.Errorf("transient errors = %d, want 1", status.TransientErrors)
	}

	dests, err := client.Destinations(ctx)
	if err != nil {
		t.Fatalf("destinations failed: %v", err)
	}
	if len(dests.Destinations) != 2 {
		t.Fatalf("expected 2 destinations, got %d", len(dests.Destinations))
	}
	if dests.Destinations[0].Address != "127.0.0.1:5000" {
		t.Errorf("first destination = %s, want 127.0.0.1:5000", dests.Destinations[0].Address)
	}
	if dests.Destinations[1].Failures != 3 || dests.Destinations[1].LastError != "connection refused" {
		t.Errorf("second destination = %+v", dests.Destinations[1])
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := NewServer(DefaultServerConfig(), newMockRelay(), nil)

	for _, path := range []string{"/status", "/destinations"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		s.server.Handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected status %d, got %d", path, http.StatusMethodNotAllowed, rec.Code)
		}
	}
}

func TestServer_StatusNotRunning(t *testing.T) {
	relay := &mockRelay{stats: mirror.Stats{State: "TERMINATED"}}
	s := NewServer(DefaultServerConfig(), relay, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	var status StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if status.Running || status.State != "TERMINATED" {
		t.Errorf("running = %v state = %s, want false TERMINATED", status.Running, status.State)
	}
}

func TestClient_NoServer(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.Status(ctx); err == nil {
		t.Error("expected error when no server is listening")
	}
}
