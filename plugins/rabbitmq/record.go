package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// record adapts an amqp.Delivery to core.Record.
type record struct {
	topic    string
	delivery amqp.Delivery
	requeue  bool
}

func (r *record) Topic() string   { return r.topic }
func (r *record) Partition() int  { return 0 }
func (r *record) Offset() int64   { return int64(r.delivery.DeliveryTag) }
func (r *record) Value() []byte   { return r.delivery.Body }
func (r *record) Time() time.Time { return r.delivery.Timestamp }

func (r *record) Key() []byte {
	switch k := r.delivery.Headers[keyHeader].(type) {
	case []byte:
		return k
	case string:
		return []byte(k)
	default:
		return nil
	}
}

func (r *record) Headers() map[string]string {
	h := make(map[string]string, len(r.delivery.Headers))
	for k, v := range r.delivery.Headers {
		if k == keyHeader {
			continue
		}
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprintf("%v", v)
		}
	}
	return h
}

// Ack acknowledges the record, removing it from the queue.
func (r *record) Ack() error {
	if err := r.delivery.Ack(false); err != nil {
		return fmt.Errorf("kafkabridge/rabbitmq: ack: %w", err)
	}
	return nil
}

// Nack negatively acknowledges the record. If requeue is enabled,
// the record is returned to the queue for redelivery.
func (r *record) Nack() error {
	if err := r.delivery.Nack(false, r.requeue); err != nil {
		return fmt.Errorf("kafkabridge/rabbitmq: nack: %w", err)
	}
	return nil
}
