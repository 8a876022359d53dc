package nats

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Option configures the NATS broker.
type Option func(*options)

type options struct {
	// Connection
	name          string
	user          string
	password      string
	maxReconnects int
	reconnectWait time.Duration

	// Stream
	maxMsgs   int64
	maxBytes  int64
	maxAge    time.Duration
	replicas  int
	retention jetstream.RetentionPolicy
	storage   jetstream.StorageType

	// Consumer
	ackWait    time.Duration
	maxDeliver int
}

func defaults() options {
	return options{
		name:          "kafkabridge",
		maxReconnects: 10,
		reconnectWait: 2 * time.Second,
		maxMsgs:       -1, // unlimited
		maxBytes:      -1,
		maxAge:        0,
		replicas:      1,
		retention:     jetstream.LimitsPolicy,
		storage:       jetstream.FileStorage,
		ackWait:       30 * time.Second,
		maxDeliver:    5,
	}
}

// WithName sets the connection name reported to the server.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithUserInfo authenticates with a username and password.
func WithUserInfo(user, password string) Option {
	return func(o *options) { o.user, o.password = user, password }
}

// WithReconnect sets how often and how fast the client reconnects before
// the connection is closed for good. A negative max retries forever.
func WithReconnect(max int, wait time.Duration) Option {
	return func(o *options) { o.maxReconnects, o.reconnectWait = max, wait }
}

// WithMaxMessages sets the maximum number of messages per stream.
func WithMaxMessages(n int64) Option {
	return func(o *options) { o.maxMsgs = n }
}

// WithMaxBytes sets the maximum total size of a stream.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxAge sets the maximum age of messages in the stream.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithReplicas sets the stream replication factor.
func WithReplicas(n int) Option {
	return func(o *options) { o.replicas = n }
}

// WithRetention sets the stream retention policy.
func WithRetention(r jetstream.RetentionPolicy) Option {
	return func(o *options) { o.retention = r }
}

// WithStorage sets the stream storage type (file or memory).
func WithStorage(s jetstream.StorageType) Option {
	return func(o *options) { o.storage = s }
}

// WithAckWait sets how long the server waits for an ack before redelivering.
func WithAckWait(d time.Duration) Option {
	return func(o *options) { o.ackWait = d }
}

// WithMaxDeliver sets the maximum number of delivery attempts.
func WithMaxDeliver(n int) Option {
	return func(o *options) { o.maxDeliver = n }
}
