package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
)

// Option configures the Kafka broker.
type Option func(*options)

type options struct {
	// Writer
	balancer     kafka.Balancer
	batchSize    int
	batchTimeout time.Duration

	// Reader
	minBytes    int
	maxBytes    int
	maxWait     time.Duration
	startOffset int64

	// General
	clientID string
	sasl     sasl.Mechanism
	dialer   *kafka.Dialer
}

func defaults() options {
	return options{
		// Murmur2 matches the JVM client's default partitioner.
		balancer:     &kafka.Murmur2Balancer{},
		batchSize:    100,
		batchTimeout: 10 * time.Millisecond,
		minBytes:     1,
		maxBytes:     10e6, // 10 MB
		maxWait:      500 * time.Millisecond,
		startOffset:  kafka.FirstOffset,
		clientID:     "kafkabridge",
	}
}

// WithBalancer sets the partition balancer for the writer.
func WithBalancer(b kafka.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithBatchSize sets the maximum batch size for writes.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithBatchTimeout sets how long the writer waits to fill a batch.
func WithBatchTimeout(d time.Duration) Option {
	return func(o *options) { o.batchTimeout = d }
}

// WithMaxBytes sets the maximum bytes per fetch.
func WithMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxWait sets the maximum wait time for fetches.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithStartOffset sets where a new consumer group starts (kafka.FirstOffset or kafka.LastOffset).
func WithStartOffset(offset int64) Option {
	return func(o *options) { o.startOffset = offset }
}

// WithClientID sets the client ID sent to the brokers.
func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

// WithSASL authenticates writer and readers with the given mechanism.
func WithSASL(m sasl.Mechanism) Option {
	return func(o *options) { o.sasl = m }
}

// WithDialer sets a custom dialer for readers, e.g. for TLS.
func WithDialer(d *kafka.Dialer) Option {
	return func(o *options) { o.dialer = d }
}
