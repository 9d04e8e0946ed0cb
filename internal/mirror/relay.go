package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/udpmirror/internal/logging"
	"github.com/postalsys/udpmirror/internal/metrics"
)

// State is the lifecycle state of a Relay.
type State int32

const (
	// StateUnbound means Bind has not succeeded yet.
	StateUnbound State = iota
	// StateBound means the receiver socket is bound but Run has not started.
	StateBound
	// StateRelaying means Run is receiving and forwarding datagrams.
	StateRelaying
	// StateTerminated means the socket has been released. It is final.
	StateTerminated
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "UNBOUND"
	case StateBound:
		return "BOUND"
	case StateRelaying:
		return "RELAYING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Option configures optional Relay collaborators.
type Option func(*Relay)

// WithMetrics records relay activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithVerboseLogger sets the per-datagram logger. It is ignored unless
// Config.VerboseEnabled is true.
func WithVerboseLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		r.verbose = l
	}
}

// withSendErrorHandler registers fn to be called for every failed send.
// fn runs on the relay goroutine and must not block.
func withSendErrorHandler(fn func(*SendError)) Option {
	return func(r *Relay) {
		r.onSendError = fn
	}
}

// Relay receives datagrams on one UDP port and forwards each of them to
// every destination of its table.
type Relay struct {
	cfg         Config
	table       *Table
	logger      *slog.Logger
	verbose     *slog.Logger
	metrics     *metrics.Metrics
	onSendError func(*SendError)

	mu   sync.Mutex // guards conn
	conn *net.UDPConn
	fan  fanout
	buf  []byte

	state   atomic.Int32
	closing atomic.Bool

	datagrams       atomic.Uint64
	bytes           atomic.Uint64
	transientErrors atomic.Uint64
	dests           []*destination
	result          resultFunc
}

// destination holds the counters and log throttle of one table entry.
type destination struct {
	endpoint   Endpoint
	label      string
	limiter    *rate.Limiter
	datagrams  atomic.Uint64
	bytes      atomic.Uint64
	failures   atomic.Uint64
	suppressed atomic.Uint64

	mu        sync.Mutex
	lastError string
}

// New validates cfg and creates an unbound Relay.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	if logger == nil {
		logger = logging.NopLogger()
	}

	r := &Relay{
		cfg:    cfg,
		table:  cfg.Destinations,
		logger: logger.With(slog.String(logging.KeyComponent, "relay")),
		buf:    make([]byte, cfg.BufferSize),
	}

	for _, opt := range opts {
		opt(r)
	}

	if !cfg.VerboseEnabled() {
		r.verbose = nil
	} else if r.verbose == nil {
		r.verbose = logging.NewVerboseLogger("text")
	}

	r.dests = make([]*destination, r.table.Len())
	for i := range r.dests {
		ep := r.table.At(i)
		d := &destination{endpoint: ep, label: ep.String()}
		if cfg.ErrorLogInterval > 0 {
			d.limiter = rate.NewLimiter(rate.Every(cfg.ErrorLogInterval), 1)
		}
		r.dests[i] = d
	}
	r.result = r.recordSend

	if r.metrics != nil {
		r.metrics.SetDestinations(r.table.Len())
	}

	return r, nil
}

// Config returns the relay configuration with defaults applied.
func (r *Relay) Config() Config {
	return r.cfg
}

// State returns the current lifecycle state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

// IsRunning reports whether the relay loop is active.
func (r *Relay) IsRunning() bool {
	return r.State() == StateRelaying
}

// LocalAddr returns the bound receiver address, or nil when unbound.
func (r *Relay) LocalAddr() *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Bind creates the receiver socket on 0.0.0.0:<ReceiverPort>.
func (r *Relay) Bind() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State() != StateUnbound {
		return fmt.Errorf("%w: relay is %s", ErrBind, r.State())
	}

	conn, err := listen(r.cfg)
	if err != nil {
		r.logger.Error("failed to bind receiver",
			logging.KeyAddress, fmt.Sprintf("0.0.0.0:%d", r.cfg.ReceiverPort),
			logging.KeyError, err)
		return err
	}

	if r.cfg.Fanout == FanoutBatch && !batchSupported {
		r.logger.Warn("batch fan-out is not supported on this platform, sending sequentially")
	}

	r.conn = conn
	r.fan = newFanout(r.cfg.Fanout, conn, r.table)
	r.state.Store(int32(StateBound))

	r.logger.Info("receiver bound",
		logging.KeyReceiver, conn.LocalAddr().String(),
		logging.KeyMode, string(r.cfg.Fanout),
		logging.KeyCount, r.table.Len())

	return nil
}

// Run receives datagrams and forwards each one to every destination until
// ctx is cancelled or Close is called (both return nil) or the socket fails
// (returns an error wrapping ErrReceive).
func (r *Relay) Run(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	if r.State() != StateBound || conn == nil {
		r.mu.Unlock()
		return ErrNotBound
	}
	r.state.Store(int32(StateRelaying))
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetRelaying(true)
		defer r.metrics.SetRelaying(false)
	}

	// Closing the socket is what unblocks a pending read.
	stop := context.AfterFunc(ctx, func() {
		r.Close()
	})
	defer stop()

	r.logger.Info("waiting on udp://" + conn.LocalAddr().String())

	for {
		n, from, err := conn.ReadFromUDPAddrPort(r.buf)
		if err != nil && n > 0 && isTruncatedReceive(err) {
			err = nil
		}
		if err != nil {
			if r.closing.Load() {
				r.logger.Info("relay stopped")
				return nil
			}
			if isTransientReceiveError(err) {
				r.transientErrors.Add(1)
				if r.metrics != nil {
					r.metrics.RecordReceiveError("transient")
				}
				r.logger.Debug("ignoring ICMP error reported on receiver socket",
					logging.KeyError, err)
				continue
			}

			if r.metrics != nil {
				r.metrics.RecordReceiveError("fatal")
			}
			r.logger.Error("failed to receive datagram", logging.KeyError, err)
			r.release()
			return fmt.Errorf("%w: %w", ErrReceive, err)
		}

		r.forward(r.buf[:n], from)
	}
}

// forward offers payload to every destination. payload aliases the shared
// buffer and must not be retained after forward returns.
func (r *Relay) forward(payload []byte, from netip.AddrPort) {
	r.datagrams.Add(1)
	r.bytes.Add(uint64(len(payload)))

	if r.verbose != nil {
		r.verbose.Info("received packet",
			logging.KeySender, from.String(),
			logging.KeyBytes, len(payload))
	}

	start := time.Now()
	r.fan.forward(payload, r.result)

	if r.metrics != nil {
		r.metrics.RecordReceive(len(payload))
		r.metrics.RecordFanout(time.Since(start).Seconds())
	}
}

func (r *Relay) recordSend(i, n int, err error) {
	d := r.dests[i]

	if err == nil {
		d.datagrams.Add(1)
		d.bytes.Add(uint64(n))
		if r.metrics != nil {
			r.metrics.RecordForward(d.label, n)
		}
		return
	}

	d.failures.Add(1)
	d.setLastError(err)
	if r.metrics != nil {
		r.metrics.RecordSendError(d.label)
	}

	if r.onSendError != nil {
		r.onSendError(&SendError{Index: i, Destination: d.endpoint, Err: err})
	}

	if d.limiter != nil && !d.limiter.Allow() {
		d.suppressed.Add(1)
		return
	}

	r.logger.Warn("failed to forward datagram",
		logging.KeyDestination, d.label,
		logging.KeyMirror, i,
		logging.KeySuppressed, d.suppressed.Swap(0),
		logging.KeyError, err)
}

// Close releases the receiver socket. A blocked Run returns nil.
func (r *Relay) Close() error {
	r.closing.Store(true)
	return r.release()
}

func (r *Relay) release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Store(int32(StateTerminated))
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

func (d *destination) setLastError(err error) {
	d.mu.Lock()
	d.lastError = err.Error()
	d.mu.Unlock()
}

func (d *destination) getLastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError
}
