package nats

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// record adapts a JetStream message to core.Record.
type record struct {
	topic     string
	msg       jetstream.Msg
	offset    int64
	timestamp time.Time
}

func newRecord(topic string, msg jetstream.Msg) *record {
	r := &record{topic: topic, msg: msg, offset: -1}
	if meta, err := msg.Metadata(); err == nil {
		r.offset = int64(meta.Sequence.Stream)
		r.timestamp = meta.Timestamp
	}
	return r
}

func (r *record) Topic() string   { return r.topic }
func (r *record) Partition() int  { return 0 }
func (r *record) Offset() int64   { return r.offset }
func (r *record) Value() []byte   { return r.msg.Data() }
func (r *record) Time() time.Time { return r.timestamp }

func (r *record) Key() []byte {
	enc := r.msg.Headers().Get(keyHeader)
	if enc == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return []byte(enc)
	}
	return key
}

func (r *record) Headers() map[string]string {
	raw := r.msg.Headers()
	h := make(map[string]string, len(raw))
	for k, v := range raw {
		if k == keyHeader || len(v) == 0 {
			continue
		}
		h[k] = v[0]
	}
	return h
}

// Ack acknowledges the record, marking it as processed.
func (r *record) Ack() error {
	if err := r.msg.Ack(); err != nil {
		return fmt.Errorf("kafkabridge/nats: ack: %w", err)
	}
	return nil
}

// Nack signals that the record could not be processed.
// The server will redeliver it according to the consumer's MaxDeliver setting.
func (r *record) Nack() error {
	if err := r.msg.Nak(); err != nil {
		return fmt.Errorf("kafkabridge/nats: nack: %w", err)
	}
	return nil
}
