// Package main provides the CLI entry point for the udpmirror relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/postalsys/udpmirror/internal/app"
	"github.com/postalsys/udpmirror/internal/config"
	"github.com/postalsys/udpmirror/internal/daemon"
	"github.com/postalsys/udpmirror/internal/logging"
	"github.com/postalsys/udpmirror/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runOptions holds the relay flags. Only flags set on the command line
// override the config file.
type runOptions struct {
	configPath    string
	envFile       string
	receiver      int
	verbose       bool
	daemonize     bool
	bufferSize    string
	fanout        string
	logLevel      string
	logFormat     string
	httpAddress   string
	controlSocket string
}

func rootCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "udpmirror [flags] host:port [host:port...]",
		Short: "udpmirror - UDP datagram fan-out relay",
		Long: `udpmirror listens on one UDP port and forwards every received
datagram, unmodified, to each of the given destinations in order.

Destinations are IPv4 host:port pairs. When given on the command line they
replace the list from the config file.`,
		Example: `  udpmirror -r 9000 127.0.0.1:5000 127.0.0.1:5001
  udpmirror -c /etc/udpmirror.yaml -d`,
		Version:      Version,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, &opts, args)
			if err != nil {
				return err
			}
			return runRelay(cmd.OutOrStdout(), cfg)
		},
	}

	bindRunFlags(cmd, &opts)

	cmd.AddCommand(initCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(statsCmd())
	cmd.AddCommand(serviceCmd())
	cmd.AddCommand(loadtestCmd())

	return cmd
}

func bindRunFlags(cmd *cobra.Command, opts *runOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to YAML configuration file")
	f.StringVar(&opts.envFile, "env-file", "", "Dotenv file loaded before config expansion")
	f.IntVarP(&opts.receiver, "receiver", "r", 0, "UDP port to listen on")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log sender and length of every datagram to stdout")
	f.BoolVarP(&opts.daemonize, "daemonize", "d", false, "Detach into the background and log to syslog")
	f.StringVar(&opts.bufferSize, "buffer-size", "", "Datagram buffer capacity, e.g. 1880 or 9KiB")
	f.StringVar(&opts.fanout, "fanout", "", "Fan-out mode: sequential or batch")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	f.StringVar(&opts.httpAddress, "http-address", "", "Enable the HTTP health and metrics server on this address")
	f.StringVar(&opts.controlSocket, "control-socket", "", "Enable the control socket at this path")
}

// resolveConfig merges the config file, the changed flags and the
// positional destinations, then validates the result.
func resolveConfig(cmd *cobra.Command, opts *runOptions, args []string) (*config.Config, error) {
	if opts.envFile != "" {
		if err := config.LoadEnvFile(opts.envFile); err != nil {
			return nil, err
		}
	}

	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if f.Changed("receiver") {
		cfg.Receiver.Port = opts.receiver
	}
	if f.Changed("verbose") {
		cfg.Verbose = opts.verbose
	}
	if f.Changed("daemonize") {
		cfg.Daemonize = opts.daemonize
	}
	if f.Changed("buffer-size") {
		size, err := config.ParseByteSize(opts.bufferSize)
		if err != nil {
			return nil, fmt.Errorf("invalid --buffer-size: %w", err)
		}
		cfg.Receiver.BufferSize = size
	}
	if f.Changed("fanout") {
		cfg.Fanout.Mode = opts.fanout
	}
	if f.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if f.Changed("http-address") {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Address = opts.httpAddress
	}
	if f.Changed("control-socket") {
		cfg.Control.Enabled = true
		cfg.Control.SocketPath = opts.controlSocket
	}

	if len(args) > 0 {
		cfg.Destinations = append([]string(nil), args...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The daemon changes directory to "/" before the socket is created.
	if cfg.Control.Enabled {
		abs, err := filepath.Abs(cfg.Control.SocketPath)
		if err != nil {
			return nil, fmt.Errorf("invalid control socket path: %w", err)
		}
		cfg.Control.SocketPath = abs
	}

	return cfg, nil
}

func runRelay(out io.Writer, cfg *config.Config) error {
	if cfg.Daemonize && !daemon.IsChild() {
		pid, err := daemon.Detach()
		if err != nil {
			return fmt.Errorf("failed to daemonize: %w", err)
		}
		fmt.Fprintf(out, "udpmirror running in background (pid %d)\n", pid)
		return nil
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	if cfg.Daemonize {
		if err := daemon.Prepare(); err != nil {
			logger.Error("failed to prepare daemon", logging.KeyError, err)
			return err
		}
	}

	a, err := app.New(cfg, logger, app.WithVersion(Version))
	if err != nil {
		logger.Error("invalid configuration", logging.KeyError, err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("relay failed", logging.KeyError, err)
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger returns the stderr logger, or the syslog logger for the
// detached daemon.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	if !cfg.Daemonize {
		return logging.NewLogger(cfg.Log.Level, cfg.Log.Format), nopCloser{}, nil
	}

	logger, closer, err := logging.NewSyslogLogger(cfg.Log.SyslogTag, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return logger, closer, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Long:  "Run the setup wizard and write a YAML configuration file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wizard.New().Run()
			if errors.Is(err, wizard.ErrNotInteractive) {
				return fmt.Errorf("%w; write the config file by hand or run from a terminal", err)
			}
			return err
		},
	}
}
