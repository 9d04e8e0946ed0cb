// Package loadtest generates datagram load against a running relay and
// counts what arrives at its destinations.
package loadtest

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/udpmirror/internal/logging"
	"github.com/postalsys/udpmirror/internal/recovery"
)

// headerSize is the send timestamp carried at the start of every payload.
const headerSize = 8

// Config describes one load test run.
type Config struct {
	// Target is the relay receiver address, e.g. "127.0.0.1:9000".
	Target string

	// Sinks are local addresses to listen on, normally the relay's
	// destinations. Each one counts the datagrams it receives.
	Sinks []string

	// Size is the payload size in bytes, at least 8.
	Size int

	// Count stops the test after this many datagrams. 0 means no limit.
	Count int

	// Rate limits sending to this many datagrams per second. 0 means as
	// fast as possible.
	Rate float64

	// Concurrency is the number of sending goroutines, each with its own
	// socket.
	Concurrency int

	// Duration bounds the sending phase.
	Duration time.Duration

	// Drain is how long sinks keep reading after sending stops.
	Drain time.Duration
}

// DatagramMetrics contains the results of a load test.
type DatagramMetrics struct {
	Sent         int64
	SendErrors   int64
	BytesSent    int64
	Duration     time.Duration
	SendRate     float64 // datagrams per second
	ThroughputMB float64 // MiB per second
	Sinks        []SinkMetrics
}

// SinkMetrics contains what one sink received.
type SinkMetrics struct {
	Address      string
	Received     int64
	Bytes        int64
	LossPercent  float64
	AvgLatencyMs float64
	MaxLatencyMs float64
	MinLatencyMs float64
}

// DatagramLoadGenerator sends datagrams to a relay.
type DatagramLoadGenerator struct {
	cfg    Config
	logger *slog.Logger

	sent       atomic.Int64
	sendErrors atomic.Int64
	bytesSent  atomic.Int64
}

// NewDatagramLoadGenerator validates cfg and creates a generator.
func NewDatagramLoadGenerator(cfg Config, logger *slog.Logger) (*DatagramLoadGenerator, error) {
	if cfg.Target == "" {
		return nil, errors.New("target address is required")
	}
	if cfg.Size < headerSize {
		return nil, fmt.Errorf("payload size must be at least %d bytes", headerSize)
	}
	if cfg.Count < 0 || cfg.Rate < 0 {
		return nil, errors.New("count and rate must not be negative")
	}
	if cfg.Count == 0 && cfg.Duration <= 0 {
		return nil, errors.New("either count or duration is required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Drain <= 0 {
		cfg.Drain = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	return &DatagramLoadGenerator{
		cfg:    cfg,
		logger: logger.With(slog.String(logging.KeyComponent, "loadtest")),
	}, nil
}

// Run opens the sinks, sends until Count or Duration is reached, waits for
// the drain period and returns the collected metrics.
func (g *DatagramLoadGenerator) Run(ctx context.Context) (*DatagramMetrics, error) {
	target, err := net.ResolveUDPAddr("udp4", g.cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}

	sinks := make([]*sink, 0, len(g.cfg.Sinks))
	defer func() {
		for _, s := range sinks {
			s.conn.Close()
		}
	}()
	for _, addr := range g.cfg.Sinks {
		s, err := openSink(addr)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	var sinkWG sync.WaitGroup
	for _, s := range sinks {
		sinkWG.Add(1)
		recovery.Go(g.logger, "loadtest-sink", func() {
			defer sinkWG.Done()
			if err := s.run(); err != nil {
				g.logger.Warn("sink stopped",
					logging.KeyAddress, s.addr,
					logging.KeyError, err)
			}
		})
	}

	sendCtx := ctx
	if g.cfg.Duration > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, g.cfg.Duration)
		defer cancel()
	}

	limit := rate.Inf
	if g.cfg.Rate > 0 {
		limit = rate.Limit(g.cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	var budget atomic.Int64
	budget.Store(int64(g.cfg.Count))

	g.logger.Info("load test started",
		logging.KeyAddress, target.String(),
		logging.KeyCount, g.cfg.Count,
		logging.KeyBytes, g.cfg.Size)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < g.cfg.Concurrency; i++ {
		conn, err := net.DialUDP("udp4", nil, target)
		if err != nil {
			wg.Wait()
			return nil, fmt.Errorf("failed to open sender socket: %w", err)
		}
		wg.Add(1)
		recovery.Go(g.logger, "loadtest-sender", func() {
			defer wg.Done()
			defer conn.Close()
			g.runWorker(sendCtx, conn, limiter, &budget)
		})
	}
	wg.Wait()
	elapsed := time.Since(start)

	select {
	case <-time.After(g.cfg.Drain):
	case <-ctx.Done():
	}
	for _, s := range sinks {
		s.conn.Close()
	}
	sinkWG.Wait()

	m := &DatagramMetrics{
		Sent:       g.sent.Load(),
		SendErrors: g.sendErrors.Load(),
		BytesSent:  g.bytesSent.Load(),
		Duration:   elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		m.SendRate = float64(m.Sent) / secs
		m.ThroughputMB = float64(m.BytesSent) / (1024 * 1024) / secs
	}
	for _, s := range sinks {
		m.Sinks = append(m.Sinks, s.metrics(m.Sent))
	}

	g.logger.Info("load test finished",
		logging.KeyCount, m.Sent,
		logging.KeyDuration, elapsed)

	return m, nil
}

func (g *DatagramLoadGenerator) runWorker(ctx context.Context, conn *net.UDPConn, limiter *rate.Limiter, budget *atomic.Int64) {
	data := make([]byte, g.cfg.Size)
	rand.Read(data)

	for {
		if g.cfg.Count > 0 && budget.Add(-1) < 0 {
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		binary.BigEndian.PutUint64(data, uint64(time.Now().UnixNano()))
		n, err := conn.Write(data)
		if err != nil {
			g.sendErrors.Add(1)
			continue
		}
		g.sent.Add(1)
		g.bytesSent.Add(int64(n))
	}
}

// sink counts datagrams arriving on one address.
type sink struct {
	addr string
	conn *net.UDPConn

	mu         sync.Mutex
	received   int64
	bytes      int64
	samples    int64 // datagrams carrying a send timestamp
	latencySum float64
	latencyMax float64
	latencyMin float64
}

func openSink(addr string) (*sink, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid sink %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on sink %s: %w", addr, err)
	}
	return &sink{addr: addr, conn: conn, latencyMin: math.MaxFloat64}, nil
}

// run reads until the socket is closed, which returns nil, or fails.
func (s *sink) run() error {
	buf := make([]byte, 65536)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.record(buf[:n], time.Now())
	}
}

func (s *sink) record(payload []byte, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received++
	s.bytes += int64(len(payload))

	if len(payload) < headerSize {
		return
	}
	sentAt := time.Unix(0, int64(binary.BigEndian.Uint64(payload)))
	latency := float64(now.Sub(sentAt).Microseconds()) / 1000
	s.samples++
	s.latencySum += latency
	s.latencyMax = max(s.latencyMax, latency)
	s.latencyMin = min(s.latencyMin, latency)
}

func (s *sink) metrics(sent int64) SinkMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := SinkMetrics{
		Address:      s.addr,
		Received:     s.received,
		Bytes:        s.bytes,
		MaxLatencyMs: s.latencyMax,
	}
	if s.samples > 0 {
		m.AvgLatencyMs = s.latencySum / float64(s.samples)
		m.MinLatencyMs = s.latencyMin
	}
	if sent > 0 && s.received < sent {
		m.LossPercent = float64(sent-s.received) / float64(sent) * 100
	}
	return m
}
