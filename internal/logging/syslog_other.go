//go:build !unix

package logging

import (
	"errors"
	"io"
	"log/slog"
)

// NewSyslogLogger is not supported on this platform.
func NewSyslogLogger(tag, level, format string) (*slog.Logger, io.Closer, error) {
	return nil, nil, errors.New("syslog is not supported on this platform")
}
