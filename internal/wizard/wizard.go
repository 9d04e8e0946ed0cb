// Package wizard provides an interactive setup wizard for udpmirror.
package wizard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/postalsys/udpmirror/internal/config"
	"github.com/postalsys/udpmirror/internal/mirror"
)

// ErrNotInteractive is returned by Run when stdin is not a terminal.
var ErrNotInteractive = errors.New("setup wizard requires an interactive terminal")

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Answers holds the raw form values before they are turned into a Config.
type Answers struct {
	ConfigPath     string
	ReceiverPort   string
	Destinations   string // separated by commas, spaces or newlines
	BufferSize     string
	FanoutMode     string
	LogLevel       string
	HTTPEnabled    bool
	HTTPAddress    string
	ControlEnabled bool
	SocketPath     string
}

// DefaultAnswers returns the values the forms start with.
func DefaultAnswers() Answers {
	def := config.Default()
	return Answers{
		ConfigPath:  "./udpmirror.yaml",
		BufferSize:  strconv.Itoa(int(def.Receiver.BufferSize)),
		FanoutMode:  def.Fanout.Mode,
		LogLevel:    def.Log.Level,
		HTTPAddress: def.HTTP.Address,
		SocketPath:  def.Control.SocketPath,
	}
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
	out   io.Writer
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
		out:   os.Stdout,
	}
}

// IsInteractive reports whether stdin is attached to a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Run executes the interactive setup wizard and writes the config file.
func (w *Wizard) Run() (*Result, error) {
	if !IsInteractive() {
		return nil, ErrNotInteractive
	}

	w.printBanner()

	a := DefaultAnswers()

	if err := w.askRelay(&a); err != nil {
		return nil, err
	}
	if err := w.askAdvanced(&a); err != nil {
		return nil, err
	}
	if err := w.askServers(&a); err != nil {
		return nil, err
	}

	cfg, err := buildConfig(a)
	if err != nil {
		return nil, err
	}

	if err := cfg.Save(a.ConfigPath); err != nil {
		return nil, err
	}

	w.printSummary(a.ConfigPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: a.ConfigPath,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
            _                _
  _   _  __| |_ __  _ __ ___ (_)_ __ _ __ ___  _ __
 | | | |/ _' | '_ \| '_ ' _ \| | '__| '__/ _ \| '__|
 | |_| | (_| | |_) | | | | | | | |  | | | (_) | |
  \__,_|\__,_| .__/|_| |_| |_|_|_|  |_|  \___/|_|
             |_|
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  UDP Datagram Fan-out Relay - Setup Wizard\n")

	fmt.Fprintln(w.out, banner)
	fmt.Fprintln(w.out, subtitle)
}

func (w *Wizard) askRelay(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Relay").
				Description("Every datagram received on the port is sent to each destination."),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./udpmirror.yaml").
				Value(&a.ConfigPath).
				Validate(validateConfigPath),

			huh.NewInput().
				Title("Receiver Port").
				Description("UDP port to listen on (0.0.0.0)").
				Placeholder("9000").
				Value(&a.ReceiverPort).
				Validate(validatePort),

			huh.NewText().
				Title("Destinations").
				Description("One IPv4 host:port per line, in forwarding order").
				Placeholder("127.0.0.1:5000").
				CharLimit(4096).
				Value(&a.Destinations).
				Validate(validateDestinations),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askAdvanced(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Buffer size, send strategy and logging."),

			huh.NewInput().
				Title("Buffer Size").
				Description("Larger datagrams are truncated (e.g. 1880, 9KiB)").
				Placeholder("1880").
				Value(&a.BufferSize).
				Validate(validateBufferSize),

			huh.NewSelect[string]().
				Title("Fan-out Mode").
				Options(
					huh.NewOption("Sequential (one send per destination)", string(mirror.FanoutSequential)),
					huh.NewOption("Batch (one sendmmsg per datagram)", string(mirror.FanoutBatch)),
				).
				Value(&a.FanoutMode),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.LogLevel),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askServers(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable HTTP health and metrics endpoint?").
				Description("/health, /healthz, /ready and /metrics").
				Value(&a.HTTPEnabled),

			huh.NewConfirm().
				Title("Enable control socket?").
				Description("Unix socket used by 'udpmirror status'").
				Value(&a.ControlEnabled),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}

	var fields []huh.Field
	if a.HTTPEnabled {
		fields = append(fields, huh.NewInput().
			Title("HTTP Address").
			Placeholder("127.0.0.1:9100").
			Value(&a.HTTPAddress).
			Validate(validateHostPort))
	}
	if a.ControlEnabled {
		fields = append(fields, huh.NewInput().
			Title("Control Socket Path").
			Value(&a.SocketPath).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("socket path is required")
				}
				return nil
			}))
	}
	if len(fields) == 0 {
		return nil
	}

	return huh.NewForm(huh.NewGroup(fields...)).WithTheme(w.theme).Run()
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, divider)
	fmt.Fprintln(w.out, style.Render("✓ Setup Complete!"))
	fmt.Fprintln(w.out, divider)
	fmt.Fprintln(w.out)

	fmt.Fprintf(w.out, "  Config file:  %s\n", configPath)
	fmt.Fprintf(w.out, "  Receiver:     udp://0.0.0.0:%d\n", cfg.Receiver.Port)
	for i, d := range cfg.Destinations {
		fmt.Fprintf(w.out, "  Mirror %-2d     %s\n", i, d)
	}
	fmt.Fprintf(w.out, "  Buffer:       %s\n", cfg.Receiver.BufferSize)
	fmt.Fprintf(w.out, "  Fan-out:      %s\n", cfg.Fanout.Mode)

	if cfg.HTTP.Enabled {
		fmt.Fprintf(w.out, "  Health:       http://%s/health\n", cfg.HTTP.Address)
	}
	if cfg.Control.Enabled {
		fmt.Fprintf(w.out, "  Control:      %s\n", cfg.Control.SocketPath)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "  To start the relay:")
	fmt.Fprintf(w.out, "    udpmirror -c %s\n", configPath)
	fmt.Fprintln(w.out)
}

// buildConfig turns the form answers into a validated Config.
func buildConfig(a Answers) (*config.Config, error) {
	cfg := config.Default()

	if err := validatePort(a.ReceiverPort); err != nil {
		return nil, fmt.Errorf("invalid receiver port %q: %w", a.ReceiverPort, err)
	}
	cfg.Receiver.Port, _ = strconv.Atoi(strings.TrimSpace(a.ReceiverPort))

	if strings.TrimSpace(a.BufferSize) != "" {
		size, err := config.ParseByteSize(a.BufferSize)
		if err != nil {
			return nil, err
		}
		cfg.Receiver.BufferSize = size
	}

	cfg.Destinations = splitDestinations(a.Destinations)

	if a.FanoutMode != "" {
		cfg.Fanout.Mode = a.FanoutMode
	}
	if a.LogLevel != "" {
		cfg.Log.Level = a.LogLevel
	}

	cfg.HTTP.Enabled = a.HTTPEnabled
	if a.HTTPEnabled && a.HTTPAddress != "" {
		cfg.HTTP.Address = strings.TrimSpace(a.HTTPAddress)
	}

	cfg.Control.Enabled = a.ControlEnabled
	if a.ControlEnabled && a.SocketPath != "" {
		cfg.Control.SocketPath = strings.TrimSpace(a.SocketPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitDestinations(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

func validateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

func validatePort(s string) error {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

func validateDestinations(s string) error {
	_, err := mirror.ParseTable(splitDestinations(s))
	return err
}

func validateBufferSize(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	size, err := config.ParseByteSize(s)
	if err != nil {
		return err
	}
	if size < 1 || int(size) > mirror.MaxBufferSize {
		return fmt.Errorf("buffer size must be between 1 and %d", mirror.MaxBufferSize)
	}
	return nil
}

func validateHostPort(s string) error {
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("invalid address format (use host:port)")
	}
	return nil
}
