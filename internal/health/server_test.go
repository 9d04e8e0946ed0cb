package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/postalsys/udpmirror/internal/metrics"
	"github.com/postalsys/udpmirror/internal/mirror"
)

// mockStatsProvider implements StatsProvider for testing.
type mockStatsProvider struct {
	running bool
	stats   mirror.Stats
}

func (m *mockStatsProvider) IsRunning() bool {
	return m.running
}

func (m *mockStatsProvider) Stats() mirror.Stats {
	return m.stats
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_handleHealth(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true}, nil)

	rec := serve(s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if body := rec.Body.String(); body != "OK\n" {
		t.Errorf("expected body 'OK\\n', got %q", body)
	}
}

func TestServer_handleHealth_MethodNotAllowed(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true}, nil)

	for _, path := range []string{"/health", "/healthz", "/ready"} {
		rec := serve(s, http.MethodPost, path)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected status %d, got %d", path, http.StatusMethodNotAllowed, rec.Code)
		}
	}
}

func TestServer_handleHealthz_Running(t *testing.T) {
	provider := &mockStatsProvider{
		running: true,
		stats: mirror.Stats{
			State:             "RELAYING",
			Receiver:          "0.0.0.0:9000",
			Fanout:            "sequential",
			BufferSize:        1880,
			DatagramsReceived: 42,
			BytesReceived:     4200,
			Destinations: []mirror.DestinationStats{
				{Address: "127.0.0.1:5000", Datagrams: 42, Bytes: 4200},
				{Address: "127.0.0.1:5001", Datagrams: 40, Bytes: 4000, Failures: 2, LastError: "refused"},
			},
		},
	}
	s := NewServer(DefaultServerConfig(), provider, nil)

	rec := serve(s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", ct)
	}

	var resp healthzResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "healthy" || !resp.Running {
		t.Errorf("status = %s running = %v, want healthy true", resp.Status, resp.Running)
	}
	if resp.Relay == nil {
		t.Fatal("expected relay stats")
	}
	if resp.Relay.DatagramsReceived != 42 {
		t.Errorf("datagrams_received = %d, want 42", resp.Relay.DatagramsReceived)
	}
	if len(resp.Relay.Destinations) != 2 || resp.Relay.Destinations[1].Failures != 2 {
		t.Errorf("destinations = %+v", resp.Relay.Destinations)
	}
}

func TestServer_handleHealthz_NotRunning(t *testing.T) {
	provider := &mockStatsProvider{running: false, stats: mirror.Stats{State: "TERMINATED"}}
	s := NewServer(DefaultServerConfig(), provider, nil)

	rec := serve(s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	var resp healthzResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "unavailable" || resp.Running {
		t.Errorf("status = %s running = %v, want unavailable false", resp.Status, resp.Running)
	}
	if resp.Relay == nil || resp.Relay.State != "TERMINATED" {
		t.Errorf("relay = %+v, want TERMINATED state", resp.Relay)
	}
}

func TestServer_handleReady(t *testing.T) {
	tests := []struct {
		name     string
		provider StatsProvider
		wantCode int
		wantBody string
	}{
		{"ready", &mockStatsProvider{running: true}, http.StatusOK, "READY\n"},
		{"not ready", &mockStatsProvider{running: false}, http.StatusServiceUnavailable, "NOT READY\n"},
		{"no provider", nil, http.StatusServiceUnavailable, "NOT READY\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(DefaultServerConfig(), tt.provider, nil)
			rec := serve(s, http.MethodGet, "/ready")
			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_NilProvider(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, nil)

	rec := serve(s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	m.RecordForward("127.0.0.1:5000", 100)

	cfg := DefaultServerConfig()
	cfg.Gatherer = reg
	s := NewServer(cfg, &mockStatsProvider{running: true}, nil)

	rec := serve(s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	body := rec.Body.String()
	want := `udpmirror_datagrams_forwarded_total{destination="127.0.0.1:5000"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("metrics output missing %q:\n%s", want, body)
	}
}

func TestServer_BasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}

	cfg := DefaultServerConfig()
	cfg.PasswordHash = string(hash)
	cfg.Gatherer = prometheus.NewRegistry()
	s := NewServer(cfg, &mockStatsProvider{running: true}, nil)

	tests := []struct {
		name     string
		path     string
		password string
		setAuth  bool
		wantCode int
	}{
		{"liveness is open", "/health", "", false, http.StatusOK},
		{"missing credentials", "/healthz", "", false, http.StatusUnauthorized},
		{"wrong password", "/healthz", "nope", true, http.StatusUnauthorized},
		{"correct password", "/healthz", "s3cret", true, http.StatusOK},
		{"metrics protected", "/metrics", "", false, http.StatusUnauthorized},
		{"metrics with password", "/metrics", "s3cret", true, http.StatusOK},
		{"pprof protected", "/debug/pprof/", "", false, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.setAuth {
				req.SetBasicAuth("admin", tt.password)
			}
			rec := httptest.NewRecorder()
			s.handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := ServerConfig{
		Address:      "127.0.0.1:0", // Dynamic port
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	s := NewServer(cfg, &mockStatsProvider{running: true}, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	if !s.IsRunning() {
		t.Error("expected server to be running")
	}

	addr := s.Address()
	if addr == nil {
		t.Fatal("expected non-nil address")
	}

	// Retry to cover the gap between Start() and Serve()
	var resp *http.Response
	var err error
	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		resp, err = http.Get("http://" + addr.String() + "/health")
		if err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("request failed after retries: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK\n" {
		t.Errorf("expected body 'OK\\n', got %q", body)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("failed to stop: %v", err)
	}

	if s.IsRunning() {
		t.Error("expected server to be stopped")
	}
}

func TestServer_StartAddressInUse(t *testing.T) {
	first := NewServer(ServerConfig{Address: "127.0.0.1:0"}, nil, nil)
	if err := first.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer first.Stop()

	second := NewServer(ServerConfig{Address: first.Address().String()}, nil, nil)
	if err := second.Start(); err == nil {
		second.Stop()
		t.Error("expected error when address is in use")
	}
}

func TestServer_DoubleStop(t *testing.T) {
	s := NewServer(ServerConfig{Address: "127.0.0.1:0"}, &mockStatsProvider{running: true}, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	// Stop twice should not error
	if err := s.Stop(); err != nil {
		t.Errorf("first stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second stop failed: %v", err)
	}
}

func TestServer_Pprof(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true}, nil)

	for _, path := range []string{"/debug/pprof/", "/debug/pprof/cmdline", "/debug/pprof/symbol"} {
		rec := serve(s, http.MethodGet, path)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected status %d, got %d", path, http.StatusOK, rec.Code)
		}
	}
}
