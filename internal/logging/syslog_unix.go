//go:build unix

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"sync"
)

// NewSyslogLogger creates a logger that writes each record as one message
// to the local syslog daemon with facility LOG_DAEMON. The record level
// selects the syslog severity.
func NewSyslogLogger(tag, level, format string) (*slog.Logger, io.Closer, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to syslog: %w", err)
	}
	return slog.New(newSyslogHandler(parseLevel(level), format, w)), w, nil
}

// syslogWriter is the subset of *syslog.Writer used by syslogHandler.
type syslogWriter interface {
	Err(m string) error
	Warning(m string) error
	Info(m string) error
	Debug(m string) error
}

// priorityWriter sends each formatted record at the severity of the record
// being handled. mu is held for the whole Handle call.
type priorityWriter struct {
	mu    sync.Mutex
	w     syslogWriter
	level slog.Level
}

func (p *priorityWriter) Write(b []byte) (int, error) {
	m := string(b)
	var err error
	switch {
	case p.level >= slog.LevelError:
		err = p.w.Err(m)
	case p.level >= slog.LevelWarn:
		err = p.w.Warning(m)
	case p.level >= slog.LevelInfo:
		err = p.w.Info(m)
	default:
		err = p.w.Debug(m)
	}
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

type syslogHandler struct {
	slog.Handler
	out *priorityWriter
}

func newSyslogHandler(lvl slog.Level, format string, w syslogWriter) *syslogHandler {
	out := &priorityWriter{w: w}
	return &syslogHandler{Handler: newHandler(lvl, format, out), out: out}
}

func (h *syslogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	h.out.level = r.Level
	return h.Handler.Handle(ctx, r)
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &syslogHandler{Handler: h.Handler.WithAttrs(attrs), out: h.out}
}

func (h *syslogHandler) WithGroup(name string) slog.Handler {
	return &syslogHandler{Handler: h.Handler.WithGroup(name), out: h.out}
}
