package core

import "context"

// Broker defines the contract for message transport implementations.
// Each broker plugin must implement this interface.
//
// Publish hands one envelope to the transport without waiting for the
// broker's acknowledgement. It returns an error only when the envelope could
// not be handed off; otherwise ack is called exactly once, from any
// goroutine, when the transport has confirmed or rejected the write.
//
// Subscribe blocks, delivering records for topic to handler one at a time,
// until ctx is cancelled (returns nil) or the subscription fails.
type Broker interface {
	Publish(ctx context.Context, env Envelope, ack AckFunc) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// AckFunc receives the outcome of a single Publish.
type AckFunc func(res SendResult, err error)

// SendResult identifies where the transport stored an acknowledged message.
type SendResult struct {
	Destination string
	Partition   int
	Offset      int64
}
