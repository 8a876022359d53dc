package core

import (
	"context"
	"time"
)

// Envelope is an encoded outbound message.
type Envelope struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Record is the broker-agnostic inbound record.
// Implementations are provided by broker plugins. Transports without
// partitions report partition 0; Offset is the transport's sequence number.
type Record interface {
	Topic() string
	Partition() int
	Offset() int64
	Key() []byte
	Value() []byte
	Headers() map[string]string
	Time() time.Time
	Ack() error
	Nack() error
}

// Handler is the low-level handler used by broker subscriptions.
type Handler func(ctx context.Context, rec Record) error

// Middleware wraps a Handler to add cross-cutting behavior.
//
//	func MyMiddleware() core.Middleware {
//	    return func(next core.Handler) core.Handler {
//	        return func(ctx context.Context, rec core.Record) error {
//	            // before
//	            err := next(ctx, rec)
//	            // after
//	            return err
//	        }
//	    }
//	}
type Middleware func(Handler) Handler
