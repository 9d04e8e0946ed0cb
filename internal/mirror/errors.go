package mirror

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned for a malformed destination list or a
	// missing receiver port. Nothing is bound when it is returned.
	ErrConfiguration = errors.New("configuration error")

	// ErrSocketCreate is returned when the receiver socket cannot be created.
	ErrSocketCreate = errors.New("socket create error")

	// ErrBind is returned when the receiver socket cannot be bound.
	ErrBind = errors.New("bind error")

	// ErrReceive is returned by Run when the receiver socket fails.
	ErrReceive = errors.New("receive error")

	// ErrSend marks a failed send to a single destination.
	ErrSend = errors.New("send error")

	// ErrNotBound is returned by Run when Bind has not succeeded.
	ErrNotBound = errors.New("relay is not bound")
)

// SendError reports a failed send to one destination of the table.
type SendError struct {
	Index       int
	Destination Endpoint
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s (mirror %d): %v", e.Destination, e.Index, e.Err)
}

// Unwrap exposes both ErrSend and the underlying cause to errors.Is.
func (e *SendError) Unwrap() []error {
	return []error{ErrSend, e.Err}
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
