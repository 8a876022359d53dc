package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/camelya58/kafkabridge/core"
)

// Recovery returns middleware that recovers from panics in handlers,
// logs the stack trace, and returns the panic as an error.
func Recovery(log *zap.Logger) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, rec core.Record) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						zap.String("topic", rec.Topic()),
						zap.Int64("offset", rec.Offset()),
						zap.Any("panic", r),
						zap.StackSkip("stack", 1))
					err = fmt.Errorf("kafkabridge: panic recovered: %v", r)
				}
			}()
			return next(ctx, rec)
		}
	}
}
