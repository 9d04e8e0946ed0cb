// Package config provides configuration parsing and validation for udpmirror.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/udpmirror/internal/logging"
	"github.com/postalsys/udpmirror/internal/mirror"
)

// Config represents the complete relay configuration.
type Config struct {
	Receiver     ReceiverConfig `yaml:"receiver"`
	Destinations []string       `yaml:"destinations"`
	Fanout       FanoutConfig   `yaml:"fanout"`
	Verbose      bool           `yaml:"verbose"`
	Daemonize    bool           `yaml:"daemonize"`
	Log          LogConfig      `yaml:"log"`
	HTTP         HTTPConfig     `yaml:"http"`
	Control      ControlConfig  `yaml:"control"`
}

// ReceiverConfig defines the inbound socket.
type ReceiverConfig struct {
	Port        int      `yaml:"port"`
	BufferSize  ByteSize `yaml:"buffer_size"`  // datagram buffer capacity
	ReadBuffer  ByteSize `yaml:"read_buffer"`  // SO_RCVBUF, 0 = kernel default
	WriteBuffer ByteSize `yaml:"write_buffer"` // SO_SNDBUF, 0 = kernel default
}

// FanoutConfig defines how datagrams are sent to the destinations.
type FanoutConfig struct {
	Mode             string        `yaml:"mode"` // sequential, batch
	TTL              int           `yaml:"ttl"`
	ErrorLogInterval time.Duration `yaml:"error_log_interval"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // text, json
	SyslogTag string `yaml:"syslog_tag"` // used when daemonized
}

// HTTPConfig defines the health and metrics server.
type HTTPConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	PasswordHash string        `yaml:"password_hash"` // bcrypt, enables basic auth
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ControlConfig defines control socket settings.
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// ByteSize is a byte count that accepts plain integers or humanized sizes
// such as "2KiB" or "4 MB".
type ByteSize int

// ParseByteSize parses a plain integer or a humanized size such as "2KiB".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return ByteSize(n), nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if n > uint64(^uint(0)>>1) {
		return 0, fmt.Errorf("byte size %q too large", s)
	}
	return ByteSize(n), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: byte size must be a scalar", value.Line)
	}

	n, err := ParseByteSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = n
	return nil
}

// MarshalYAML writes the size as a plain integer.
func (b ByteSize) MarshalYAML() (any, error) {
	return int(b), nil
}

// String returns the size in IEC units.
func (b ByteSize) String() string {
	if b < 0 {
		return strconv.Itoa(int(b))
	}
	return humanize.IBytes(uint64(b))
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Receiver: ReceiverConfig{
			BufferSize: mirror.DefaultBufferSize,
		},
		Destinations: []string{},
		Fanout: FanoutConfig{
			Mode:             string(mirror.FanoutSequential),
			ErrorLogInterval: time.Second,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			SyslogTag: "udpmirror",
		},
		HTTP: HTTPConfig{
			Enabled:      false,
			Address:      "127.0.0.1:9100",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Control: ControlConfig{
			Enabled:    false,
			SocketPath: filepath.Join(os.TempDir(), "udpmirror.sock"),
		},
	}
}

// LoadEnvFile loads KEY=value pairs from a dotenv file into the process
// environment. Variables already set are not overridden.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes. Receiver port and
// destinations may be left out here and supplied on the command line, so
// their presence is only checked by Validate.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if errs := cfg.check(false); len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed: %w", joinErrors(errs))
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the complete configuration, including the receiver port
// and destination list. All errors are reported at once and wrap
// mirror.ErrConfiguration.
func (c *Config) Validate() error {
	if errs := c.check(true); len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func joinErrors(errs []string) error {
	return fmt.Errorf("%w: validation errors:\n  - %s", mirror.ErrConfiguration, strings.Join(errs, "\n  - "))
}

func (c *Config) check(required bool) []string {
	var errs []string

	// Receiver. The port range is checked by Bind, which reports ErrBind.
	if c.Receiver.Port == 0 && required {
		errs = append(errs, "receiver.port is required")
	}
	if c.Receiver.BufferSize < 1 || int(c.Receiver.BufferSize) > mirror.MaxBufferSize {
		errs = append(errs, fmt.Sprintf("receiver.buffer_size must be between 1 and %d", mirror.MaxBufferSize))
	}
	if c.Receiver.ReadBuffer < 0 {
		errs = append(errs, "receiver.read_buffer must not be negative")
	}
	if c.Receiver.WriteBuffer < 0 {
		errs = append(errs, "receiver.write_buffer must not be negative")
	}

	// Destinations
	if len(c.Destinations) == 0 && required {
		errs = append(errs, "at least one destination is required")
	}
	for i, d := range c.Destinations {
		if _, err := mirror.ParseEndpoint(strings.TrimSpace(d)); err != nil {
			errs = append(errs, fmt.Sprintf("destinations[%d]: %s", i, strings.TrimPrefix(err.Error(), mirror.ErrConfiguration.Error()+": ")))
		}
	}

	// Fanout
	if _, err := mirror.ParseFanoutMode(c.Fanout.Mode); err != nil {
		errs = append(errs, fmt.Sprintf("invalid fanout.mode: %s (must be sequential or batch)", c.Fanout.Mode))
	}
	if c.Fanout.TTL < 0 || c.Fanout.TTL > 255 {
		errs = append(errs, "fanout.ttl must be between 0 and 255")
	}
	if c.Fanout.ErrorLogInterval < 0 {
		errs = append(errs, "fanout.error_log_interval must not be negative")
	}

	// Logging
	if !logging.IsValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !logging.IsValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}
	if c.Daemonize && c.Log.SyslogTag == "" {
		errs = append(errs, "log.syslog_tag is required when daemonize is set")
	}

	// HTTP
	if c.HTTP.Enabled && c.HTTP.Address == "" {
		errs = append(errs, "http.address is required when enabled")
	}
	if c.HTTP.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.HTTP.PasswordHash)); err != nil {
			errs = append(errs, "http.password_hash is not a bcrypt hash")
		}
	}

	// Control
	if c.Control.Enabled && c.Control.SocketPath == "" {
		errs = append(errs, "control.socket_path is required when enabled")
	}

	return errs
}

// RelayConfig converts the configuration into the relay's immutable form.
func (c *Config) RelayConfig() (mirror.Config, error) {
	table, err := mirror.ParseTable(c.Destinations)
	if err != nil {
		return mirror.Config{}, err
	}

	mode, err := mirror.ParseFanoutMode(c.Fanout.Mode)
	if err != nil {
		return mirror.Config{}, err
	}

	rc := mirror.Config{
		ReceiverPort:     c.Receiver.Port,
		Verbose:          c.Verbose,
		Daemonize:        c.Daemonize,
		Destinations:     table,
		BufferSize:       int(c.Receiver.BufferSize),
		Fanout:           mode,
		ReadBuffer:       int(c.Receiver.ReadBuffer),
		WriteBuffer:      int(c.Receiver.WriteBuffer),
		TTL:              c.Fanout.TTL,
		ErrorLogInterval: c.Fanout.ErrorLogInterval,
	}
	if err := rc.Validate(); err != nil {
		return mirror.Config{}, err
	}
	return rc, nil
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// String returns a string representation of the config (for debugging).
// Sensitive values are redacted.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with sensitive values redacted.
func (c *Config) Redacted() *Config {
	redacted := *c
	redacted.Destinations = append([]string(nil), c.Destinations...)
	if redacted.HTTP.PasswordHash != "" {
		redacted.HTTP.PasswordHash = redactedValue
	}
	return &redacted
}
