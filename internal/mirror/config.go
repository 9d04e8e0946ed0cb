package mirror

import (
	"time"
)

// DefaultBufferSize is the datagram buffer capacity used when Config leaves
// BufferSize unset.
const DefaultBufferSize = 1880

// MaxBufferSize is the largest payload a UDP datagram over IPv4 can carry.
const MaxBufferSize = 65507

// FanoutMode selects how a datagram is sent to the destinations.
type FanoutMode string

const (
	// FanoutSequential sends to each destination in table order.
	FanoutSequential FanoutMode = "sequential"
	// FanoutBatch sends to all destinations with one batched syscall where
	// the platform supports it.
	FanoutBatch FanoutMode = "batch"
)

// ParseFanoutMode converts a string to a FanoutMode. The empty string maps
// to FanoutSequential.
func ParseFanoutMode(s string) (FanoutMode, error) {
	switch FanoutMode(s) {
	case "", FanoutSequential:
		return FanoutSequential, nil
	case FanoutBatch:
		return FanoutBatch, nil
	default:
		return "", configErrorf("unknown fanout mode %q (must be sequential or batch)", s)
	}
}

// Config is the immutable relay configuration.
type Config struct {
	// ReceiverPort is the UDP port bound on 0.0.0.0.
	ReceiverPort int

	// Verbose enables per-datagram logging. It has no effect when Daemonize
	// is set.
	Verbose bool

	// Daemonize records that the process runs detached.
	Daemonize bool

	// Destinations is the mirror list, in forwarding order.
	Destinations *Table

	// BufferSize is the datagram buffer capacity. Larger datagrams are
	// truncated. 0 means DefaultBufferSize.
	BufferSize int

	// Fanout selects the send strategy. Empty means FanoutSequential.
	Fanout FanoutMode

	// ReadBuffer and WriteBuffer set SO_RCVBUF and SO_SNDBUF. 0 keeps the
	// kernel default.
	ReadBuffer  int
	WriteBuffer int

	// TTL sets the IP TTL (and multicast TTL) of forwarded datagrams.
	// 0 keeps the kernel default.
	TTL int

	// ErrorLogInterval is the minimum time between two send-failure log
	// lines for the same destination. 0 logs every failure.
	ErrorLogInterval time.Duration
}

// VerboseEnabled reports whether per-datagram logging is active.
// Daemonize takes precedence over Verbose.
func (c Config) VerboseEnabled() bool {
	return c.Verbose && !c.Daemonize
}

// Validate checks the configuration. All failures wrap ErrConfiguration.
func (c Config) Validate() error {
	if c.ReceiverPort == 0 {
		return configErrorf("receiver port is required")
	}
	if c.Destinations.Len() == 0 {
		return configErrorf("at least one destination is required")
	}
	if c.BufferSize < 0 || c.BufferSize > MaxBufferSize {
		return configErrorf("buffer size %d out of range (1-%d)", c.BufferSize, MaxBufferSize)
	}
	if _, err := ParseFanoutMode(string(c.Fanout)); err != nil {
		return err
	}
	if c.ReadBuffer < 0 || c.WriteBuffer < 0 {
		return configErrorf("socket buffer sizes must not be negative")
	}
	if c.TTL < 0 || c.TTL > 255 {
		return configErrorf("ttl %d out of range (0-255)", c.TTL)
	}
	if c.ErrorLogInterval < 0 {
		return configErrorf("error log interval must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Fanout == "" {
		c.Fanout = FanoutSequential
	}
	return c
}
