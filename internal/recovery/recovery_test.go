package recovery

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecoverWithLog_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer RecoverWithLog(logger, "control-server")
		panic("socket gone")
	}()

	wg.Wait()

	output := buf.String()
	if !strings.Contains(output, "panic recovered") {
		t.Errorf("expected 'panic recovered' in output, got: %s", output)
	}
	if !strings.Contains(output, "goroutine=control-server") {
		t.Errorf("expected goroutine name in output, got: %s", output)
	}
	if !strings.Contains(output, "socket gone") {
		t.Errorf("expected panic message in output, got: %s", output)
	}
	if !strings.Contains(output, "stack=") {
		t.Errorf("expected stack trace in output, got: %s", output)
	}
}

func TestRecoverWithLog_NoopOnNoPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	func() {
		defer RecoverWithLog(logger, "quiet")
	}()

	if buf.Len() > 0 {
		t.Errorf("expected no output when no panic, got: %s", buf.String())
	}
}

func TestRecoverWithLog_NilLogger(t *testing.T) {
	func() {
		defer RecoverWithLog(nil, "nil-logger")
		panic("still recovered")
	}()
}

func TestRecoverWithCallback_CallsCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var recovered any
	func() {
		defer RecoverWithCallback(logger, "callback", func(r any) {
			recovered = r
		})
		panic("callback test")
	}()

	if recovered != "callback test" {
		t.Errorf("recovered = %v, want 'callback test'", recovered)
	}
}

func TestRecoverWithCallback_NoCallbackOnNoPanic(t *testing.T) {
	called := false
	func() {
		defer RecoverWithCallback(slog.Default(), "normal", func(any) {
			called = true
		})
	}()

	if called {
		t.Error("callback should not be called without a panic")
	}
}

func TestGo(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	done := make(chan struct{})
	Go(logger, "worker", func() {
		defer close(done)
		panic("worker failed")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not run")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "worker failed") {
		if time.Now().After(deadline) {
			t.Fatalf("panic was not logged: %s", buf.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCall(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	if err := Call(logger, "ok", func() error { return nil }); err != nil {
		t.Errorf("Call() error = %v, want nil", err)
	}

	want := errors.New("plain failure")
	if err := Call(logger, "err", func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Call() error = %v, want %v", err, want)
	}

	err := Call(logger, "relay", func() error { panic("boom") })
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Call() error = %v, want *PanicError", err)
	}
	if pe.Name != "relay" || pe.Value != "boom" {
		t.Errorf("PanicError = %+v", pe)
	}
	if pe.Error() != "relay panicked: boom" {
		t.Errorf("Error() = %q", pe.Error())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
