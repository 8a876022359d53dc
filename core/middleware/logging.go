package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/camelya58/kafkabridge/codec"
	"github.com/camelya58/kafkabridge/core"
)

// Logging returns middleware that logs record processing duration and errors.
// Undecodable records are reported by the dispatcher and only logged here at
// debug level.
func Logging(log *zap.Logger) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, rec core.Record) error {
			start := time.Now()
			err := next(ctx, rec)

			fields := []zap.Field{
				zap.String("topic", rec.Topic()),
				zap.Int("partition", rec.Partition()),
				zap.Int64("offset", rec.Offset()),
				zap.Duration("elapsed", time.Since(start)),
			}
			var de *codec.DeserializationError
			switch {
			case err == nil:
				log.Debug("record processed", fields...)
			case errors.As(err, &de):
				log.Debug("record undecodable", append(fields, zap.Error(err))...)
			default:
				log.Error("record failed", append(fields, zap.Error(err))...)
			}
			return err
		}
	}
}
