package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// record adapts a kafka.Message to core.Record.
// It holds a reference to the reader for offset management.
type record struct {
	raw    kafka.Message
	reader *kafka.Reader
	ctx    context.Context
}

func (r *record) Topic() string   { return r.raw.Topic }
func (r *record) Partition() int  { return r.raw.Partition }
func (r *record) Offset() int64   { return r.raw.Offset }
func (r *record) Key() []byte     { return r.raw.Key }
func (r *record) Value() []byte   { return r.raw.Value }
func (r *record) Time() time.Time { return r.raw.Time }

func (r *record) Headers() map[string]string {
	h := make(map[string]string, len(r.raw.Headers))
	for _, kh := range r.raw.Headers {
		if kh.Key == sendIDHeader {
			continue
		}
		h[kh.Key] = string(kh.Value)
	}
	return h
}

// Ack commits the offset for this record. The commit outlives a cancelled
// subscription so in-flight records finish cleanly during shutdown.
func (r *record) Ack() error {
	if err := r.reader.CommitMessages(context.WithoutCancel(r.ctx), r.raw); err != nil {
		return fmt.Errorf("kafkabridge/kafka: commit offset: %w", err)
	}
	return nil
}

// Nack is a no-op for Kafka: the offset is left uncommitted. A later commit
// on the same partition moves past this record, so it is only redelivered if
// nothing after it is committed before a rebalance or restart.
func (r *record) Nack() error {
	return nil
}
