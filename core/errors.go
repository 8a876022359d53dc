package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrBrokerClosed is returned when operations are attempted on a closed broker.
	ErrBrokerClosed = errors.New("kafkabridge: broker is closed")

	// ErrNoHandler is wrapped by NoHandlerWarning.
	ErrNoHandler = errors.New("kafkabridge: no handler registered for destination")

	// ErrAlreadyStarted is returned when Start is called on a running dispatcher
	// or a handler is registered while it runs.
	ErrAlreadyStarted = errors.New("kafkabridge: dispatcher already started")

	// ErrNoBroker is returned when a dispatcher is created without a broker.
	ErrNoBroker = errors.New("kafkabridge: broker is nil")

	// ErrNoRoutes is returned when Start is called before any handler was registered.
	ErrNoRoutes = errors.New("kafkabridge: no handlers registered")

	// ErrEmptyDestination is returned for an empty destination name.
	ErrEmptyDestination = errors.New("kafkabridge: destination is empty")

	// ErrDuplicateHandler is wrapped by DuplicateHandlerError.
	ErrDuplicateHandler = errors.New("kafkabridge: handler already registered")

	// ErrTransportUnavailable marks connectivity failures reported by broker plugins.
	ErrTransportUnavailable = errors.New("kafkabridge: transport unavailable")

	// ErrSubscriptionClosed is used when a subscription ends while the
	// dispatcher still wants it.
	ErrSubscriptionClosed = errors.New("kafkabridge: subscription closed")

	// ErrReconnectExhausted is wrapped by the dispatcher's fatal error once a
	// subscription could not be re-established.
	ErrReconnectExhausted = errors.New("kafkabridge: reconnect attempts exhausted")

	// ErrDispatcherStopped is returned to the transport for records that
	// arrive after Stop.
	ErrDispatcherStopped = errors.New("kafkabridge: dispatcher stopped")
)

// SendError resolves a Future whose send was rejected by the transport,
// could not reach it, or was not acknowledged in time.
type SendError struct {
	Destination string
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("kafkabridge: send to %q: %v", e.Destination, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Timeout reports whether the send expired before an acknowledgement arrived.
func (e *SendError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// DuplicateHandlerError is returned when a destination already has a handler.
type DuplicateHandlerError struct {
	Destination string
}

func (e *DuplicateHandlerError) Error() string {
	return fmt.Sprintf("kafkabridge: handler already registered for %q", e.Destination)
}

func (e *DuplicateHandlerError) Unwrap() error { return ErrDuplicateHandler }

// NoHandlerWarning is reported for records whose destination has no handler.
// The record is dropped; the dispatcher keeps running.
type NoHandlerWarning struct {
	Destination string
	Partition   int
	Offset      int64
}

func (e *NoHandlerWarning) Error() string {
	return fmt.Sprintf("kafkabridge: no handler registered for %q (partition %d, offset %d)",
		e.Destination, e.Partition, e.Offset)
}

func (e *NoHandlerWarning) Unwrap() error { return ErrNoHandler }

// HandlerError wraps an error returned by a registered handler.
type HandlerError struct {
	Destination string
	Partition   int
	Offset      int64
	Err         error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("kafkabridge: handler for %q failed at partition %d, offset %d: %v",
		e.Destination, e.Partition, e.Offset, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
