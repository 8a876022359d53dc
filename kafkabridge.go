// Package kafkabridge provides the top-level API for the bridge.
// It re-exports core types for convenience, so users can write:
//
//	p := kafkabridge.NewPublisher(b, codec.Int64{}, codec.JSON[User]{})
//	f, err := p.Send(ctx, "msg", 42, user)
//
//	d := kafkabridge.NewDispatcher(b)
//	kafkabridge.Register(d, "msg", codec.Int64{}, codec.JSON[User]{}, handle)
//	d.Start(ctx)
package kafkabridge

import (
	"context"

	"github.com/camelya58/kafkabridge/codec"
	"github.com/camelya58/kafkabridge/core"
)

// Re-export core types at the package level for ergonomic usage.
type (
	Broker     = core.Broker
	Envelope   = core.Envelope
	Record     = core.Record
	Handler    = core.Handler
	Middleware = core.Middleware
	Dispatcher = core.Dispatcher
	Future     = core.Future
	SendResult = core.SendResult
	SendError  = core.SendError
)

// NewPublisher creates a Publisher bound to the given Broker and codecs.
func NewPublisher[K, V any](b Broker, keys codec.Codec[K], values codec.Codec[V], opts ...core.PublisherOption) *core.Publisher[K, V] {
	return core.NewPublisher(b, keys, values, opts...)
}

// NewDispatcher creates a Dispatcher bound to the given Broker.
func NewDispatcher(b Broker, opts ...core.DispatcherOption) *Dispatcher {
	return core.NewDispatcher(b, opts...)
}

// Register adds a typed handler for destination.
func Register[K, V any](d *Dispatcher, destination string, keys codec.Codec[K], values codec.Codec[V], fn func(ctx context.Context, msg core.Message[K, V]) error) error {
	return core.Register(d, destination, keys, values, fn)
}
