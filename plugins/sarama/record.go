package sarama

import (
	"time"

	"github.com/IBM/sarama"
)

// record adapts a sarama.ConsumerMessage to core.Record.
type record struct {
	msg     *sarama.ConsumerMessage
	session sarama.ConsumerGroupSession
}

func (r *record) Topic() string   { return r.msg.Topic }
func (r *record) Partition() int  { return int(r.msg.Partition) }
func (r *record) Offset() int64   { return r.msg.Offset }
func (r *record) Key() []byte     { return r.msg.Key }
func (r *record) Value() []byte   { return r.msg.Value }
func (r *record) Time() time.Time { return r.msg.Timestamp }

func (r *record) Headers() map[string]string {
	h := make(map[string]string, len(r.msg.Headers))
	for _, rh := range r.msg.Headers {
		if rh != nil {
			h[string(rh.Key)] = string(rh.Value)
		}
	}
	return h
}

// Ack marks the offset; the consumer group commits it on its next interval.
func (r *record) Ack() error {
	r.session.MarkMessage(r.msg, "")
	return nil
}

// Nack leaves the offset unmarked. Marking a later offset on the same
// partition commits past this record, so it is only redelivered if nothing
// after it is acked before a rebalance or restart.
func (r *record) Nack() error {
	return nil
}
