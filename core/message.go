package core

import (
	"fmt"
	"maps"
	"time"

	"github.com/camelya58/kafkabridge/codec"
)

// Message is a decoded record. It is passed by value and its headers are a
// private copy, so a Message never changes after construction.
type Message[K, V any] struct {
	Destination string
	Key         K
	Value       V
	// Partition and Offset are -1 when unknown.
	Partition int
	Offset    int64
	Headers   map[string]string
	Timestamp time.Time
}

// NewMessage builds an outbound-style message with no position.
func NewMessage[K, V any](destination string, key K, value V) Message[K, V] {
	return Message[K, V]{
		Destination: destination,
		Key:         key,
		Value:       value,
		Partition:   -1,
		Offset:      -1,
	}
}

// Decode converts a raw record into a Message. An empty key decodes to the
// zero value of K, matching a null key on the wire.
func Decode[K, V any](rec Record, keys codec.Codec[K], values codec.Codec[V]) (Message[K, V], error) {
	var key K
	if raw := rec.Key(); len(raw) > 0 {
		k, err := keys.Decode(raw)
		if err != nil {
			return Message[K, V]{}, fmt.Errorf("kafkabridge: key of %s[%d]@%d: %w",
				rec.Topic(), rec.Partition(), rec.Offset(), err)
		}
		key = k
	}

	value, err := values.Decode(rec.Value())
	if err != nil {
		return Message[K, V]{}, fmt.Errorf("kafkabridge: value of %s[%d]@%d: %w",
			rec.Topic(), rec.Partition(), rec.Offset(), err)
	}

	return Message[K, V]{
		Destination: rec.Topic(),
		Key:         key,
		Value:       value,
		Partition:   rec.Partition(),
		Offset:      rec.Offset(),
		Headers:     maps.Clone(rec.Headers()),
		Timestamp:   rec.Time(),
	}, nil
}
