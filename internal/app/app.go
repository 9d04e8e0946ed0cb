// Package app wires the relay together with its HTTP and control servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postalsys/udpmirror/internal/config"
	"github.com/postalsys/udpmirror/internal/control"
	"github.com/postalsys/udpmirror/internal/health"
	"github.com/postalsys/udpmirror/internal/logging"
	"github.com/postalsys/udpmirror/internal/metrics"
	"github.com/postalsys/udpmirror/internal/mirror"
	"github.com/postalsys/udpmirror/internal/recovery"
)

// Option configures an App.
type Option func(*options)

type options struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer
	verbose  *slog.Logger
	version  string
}

// WithRegistry registers the relay metrics in reg and serves them from g
// instead of the default registry.
func WithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) Option {
	return func(o *options) {
		o.registry = reg
		o.gatherer = g
	}
}

// WithVerboseLogger sets the per-datagram logger used when verbose
// logging is enabled.
func WithVerboseLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.verbose = l
	}
}

// WithVersion sets the version reported on the control socket.
func WithVersion(v string) Option {
	return func(o *options) {
		o.version = v
	}
}

// App is a configured relay with its optional servers.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	relay   *mirror.Relay
	health  *health.Server
	control *control.Server
}

// New validates cfg and builds the relay and the enabled servers. Nothing
// is bound until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rc, err := cfg.RelayConfig()
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if o.registry != nil {
		m = metrics.NewMetricsWithRegistry(o.registry)
	} else {
		m = metrics.Default()
	}

	relayOpts := []mirror.Option{mirror.WithMetrics(m)}
	if rc.VerboseEnabled() {
		verbose := o.verbose
		if verbose == nil {
			verbose = logging.NewVerboseLogger(cfg.Log.Format)
		}
		relayOpts = append(relayOpts, mirror.WithVerboseLogger(verbose))
	}

	relay, err := mirror.New(rc, logger, relayOpts...)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		relay:  relay,
	}

	if cfg.HTTP.Enabled {
		hc := health.DefaultServerConfig()
		hc.Address = cfg.HTTP.Address
		if cfg.HTTP.ReadTimeout > 0 {
			hc.ReadTimeout = cfg.HTTP.ReadTimeout
		}
		if cfg.HTTP.WriteTimeout > 0 {
			hc.WriteTimeout = cfg.HTTP.WriteTimeout
		}
		hc.PasswordHash = cfg.HTTP.PasswordHash
		hc.Gatherer = o.gatherer
		a.health = health.NewServer(hc, relay, logger)
	}

	if cfg.Control.Enabled {
		ctlCfg := control.DefaultServerConfig()
		ctlCfg.SocketPath = cfg.Control.SocketPath
		ctlCfg.Version = o.version
		a.control = control.NewServer(ctlCfg, relay, logger)
	}

	return a, nil
}

// Relay returns the underlying relay.
func (a *App) Relay() *mirror.Relay {
	return a.relay
}

// HealthServer returns the HTTP server, or nil when disabled.
func (a *App) HealthServer() *health.Server {
	return a.health
}

// ControlServer returns the control server, or nil when disabled.
func (a *App) ControlServer() *control.Server {
	return a.control
}

// Run binds the receiver, starts the enabled servers and relays until ctx
// is cancelled (returns nil) or the receiver fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.relay.Bind(); err != nil {
		return err
	}

	if err := a.startServers(); err != nil {
		a.relay.Close()
		a.stopServers()
		return err
	}
	defer a.stopServers()

	err := recovery.Call(a.logger, "relay", func() error {
		return a.relay.Run(ctx)
	})

	var pe *recovery.PanicError
	if errors.As(err, &pe) {
		a.relay.Close()
		return fmt.Errorf("%w: %w", mirror.ErrReceive, err)
	}
	return err
}

func (a *App) startServers() error {
	if a.health != nil {
		if err := a.health.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}
	if a.control != nil {
		if err := a.control.Start(); err != nil {
			return fmt.Errorf("failed to start control server: %w", err)
		}
	}
	return nil
}

func (a *App) stopServers() {
	if a.control != nil {
		if err := a.control.Stop(); err != nil {
			a.logger.Warn("failed to stop control server", logging.KeyError, err)
		}
	}
	if a.health != nil {
		if err := a.health.Stop(); err != nil {
			a.logger.Warn("failed to stop HTTP server", logging.KeyError, err)
		}
	}
}
