package middleware

import (
	"context"
	"time"

	"github.com/camelya58/kafkabridge/core"
)

// MetricsCollector is the interface that metrics backends must implement.
// This keeps the middleware decoupled from any specific metrics library.
type MetricsCollector interface {
	// MessageProcessed records that a record was processed.
	// topic is the record's destination, duration is processing time,
	// and err is nil on success.
	MessageProcessed(topic string, duration time.Duration, err error)
}

// Metrics returns middleware that reports processing metrics to the given collector.
func Metrics(collector MetricsCollector) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, rec core.Record) error {
			start := time.Now()
			err := next(ctx, rec)
			collector.MessageProcessed(rec.Topic(), time.Since(start), err)
			return err
		}
	}
}
