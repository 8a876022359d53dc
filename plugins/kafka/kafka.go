package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/camelya58/kafkabridge/broker"
	"github.com/camelya58/kafkabridge/core"
)

// sendIDHeader correlates writer completions with pending acks. Consumers
// never see it.
const sendIDHeader = "kafkabridge-send-id"

// Factory creates a Kafka broker from a broker.Config.
func Factory(cfg broker.Config) (core.Broker, error) {
	opts, err := optsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return New(cfg.Brokers, cfg.Group, opts...)
}

// Broker implements core.Broker for Apache Kafka using segmentio/kafka-go.
//
// Design decisions:
//   - One async kafka.Writer shared across all Publish calls; its Completion
//     callback settles each envelope's ack with the assigned partition and offset.
//   - One kafka.Reader per Subscribe call, closed when the call returns.
//   - Manual offset commit via Ack(); Nack leaves the offset uncommitted.
//   - Close flushes the writer, closes all readers and fails acks still pending.
type Broker struct {
	brokers []string
	group   string
	opts    options

	writer *kafka.Writer
	dialer *kafka.Dialer

	mu      sync.Mutex
	pending map[string]core.AckFunc
	readers map[*kafka.Reader]struct{}
	closed  bool
}

// New creates a Kafka Broker. No connection is made until the first
// Publish or Subscribe.
func New(brokers []string, group string, fns ...Option) (*Broker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafkabridge/kafka: at least one broker address is required")
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	b := &Broker{
		brokers: brokers,
		group:   group,
		opts:    opts,
		pending: make(map[string]core.AckFunc),
		readers: make(map[*kafka.Reader]struct{}),
	}

	b.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     opts.balancer,
		BatchSize:    opts.batchSize,
		BatchTimeout: opts.batchTimeout,
		Async:        true,
		Completion:   b.complete,
		RequiredAcks: kafka.RequireAll,
		Transport: &kafka.Transport{
			ClientID: opts.clientID,
			SASL:     opts.sasl,
		},
	}

	b.dialer = opts.dialer
	if b.dialer == nil {
		b.dialer = &kafka.Dialer{
			ClientID:      opts.clientID,
			Timeout:       10 * time.Second,
			DualStack:     true,
			SASLMechanism: opts.sasl,
		}
	}
	return b, nil
}

// Publish enqueues the envelope on the async writer. ack runs from the
// writer's completion once the batch holding the envelope is acknowledged.
func (b *Broker) Publish(ctx context.Context, env core.Envelope, ack core.AckFunc) error {
	id := uuid.NewString()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	b.pending[id] = ack
	b.mu.Unlock()

	km := kafka.Message{
		Topic:   env.Topic,
		Key:     env.Key,
		Value:   env.Value,
		Headers: append(toHeaders(env.Headers), kafka.Header{Key: sendIDHeader, Value: []byte(id)}),
	}
	if err := b.writer.WriteMessages(ctx, km); err != nil {
		b.take(id)
		return fmt.Errorf("kafkabridge/kafka: publish to %q: %w", env.Topic, err)
	}
	return nil
}

// complete is the writer's Completion callback.
func (b *Broker) complete(msgs []kafka.Message, err error) {
	for _, m := range msgs {
		ack := b.take(headerValue(m.Headers, sendIDHeader))
		if ack == nil {
			continue
		}
		if err != nil {
			ack(core.SendResult{}, fmt.Errorf("kafkabridge/kafka: write to %q: %w", m.Topic, err))
			continue
		}
		ack(core.SendResult{Destination: m.Topic, Partition: m.Partition, Offset: m.Offset}, nil)
	}
}

func (b *Broker) take(id string) core.AckFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	ack, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return ack
}

// Subscribe creates a consumer for the topic and blocks, delivering records
// to the handler until the context is cancelled.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler core.Handler) error {
	if b.isClosed() {
		return core.ErrBrokerClosed
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       topic,
		GroupID:     broker.GroupID(b.group, topic),
		MinBytes:    b.opts.minBytes,
		MaxBytes:    b.opts.maxBytes,
		MaxWait:     b.opts.maxWait,
		StartOffset: b.opts.startOffset,
		Dialer:      b.dialer,
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		r.Close()
		return core.ErrBrokerClosed
	}
	b.readers[r] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		_, owned := b.readers[r]
		delete(b.readers, r)
		b.mu.Unlock()
		if owned {
			r.Close()
		}
	}()

	return b.consumeLoop(ctx, topic, r, handler)
}

// consumeLoop fetches records and dispatches them to the handler one at a time.
func (b *Broker) consumeLoop(ctx context.Context, topic string, r *kafka.Reader, handler core.Handler) error {
	for {
		raw, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			if errors.Is(err, io.EOF) && b.isClosed() {
				return core.ErrBrokerClosed
			}
			return fmt.Errorf("kafkabridge/kafka: fetch %q: %w: %w", topic, core.ErrTransportUnavailable, err)
		}

		// Settlement is the handler's business; errors only matter to the caller.
		_ = handler(ctx, &record{raw: raw, reader: r, ctx: ctx})
	}
}

// Close flushes the writer and closes all readers.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers := b.readers
	b.readers = make(map[*kafka.Reader]struct{})
	b.mu.Unlock()

	var errs []error
	// Flushes buffered messages; completions still run.
	if err := b.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("kafkabridge/kafka: close writer: %w", err))
	}
	for r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafkabridge/kafka: close reader: %w", err))
		}
	}

	b.mu.Lock()
	leftover := b.pending
	b.pending = make(map[string]core.AckFunc)
	b.mu.Unlock()
	for _, ack := range leftover {
		ack(core.SendResult{}, core.ErrBrokerClosed)
	}

	return errors.Join(errs...)
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// toHeaders converts a string map to Kafka headers.
func toHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make([]kafka.Header, 0, len(h)+1)
	for k, v := range h {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// optsFromConfig extracts options from the broker.Config.
func optsFromConfig(cfg broker.Config) ([]Option, error) {
	var opts []Option
	if cfg.ClientID != "" {
		opts = append(opts, WithClientID(cfg.ClientID))
	}
	mech, err := mechanism(cfg.SASL)
	if err != nil {
		return nil, err
	}
	if mech != nil {
		opts = append(opts, WithSASL(mech))
	}

	if cfg.Extra == nil {
		return opts, nil
	}
	if v, ok := cfg.Extra["batch_size"].(int); ok {
		opts = append(opts, WithBatchSize(v))
	}
	if v, ok := cfg.Extra["batch_timeout"].(time.Duration); ok {
		opts = append(opts, WithBatchTimeout(v))
	}
	if v, ok := cfg.Extra["max_bytes"].(int); ok {
		opts = append(opts, WithMaxBytes(v))
	}
	if v, ok := cfg.Extra["start_offset"].(string); ok {
		switch v {
		case "first", "earliest":
			opts = append(opts, WithStartOffset(kafka.FirstOffset))
		case "last", "latest":
			opts = append(opts, WithStartOffset(kafka.LastOffset))
		default:
			return nil, fmt.Errorf("kafkabridge/kafka: invalid start_offset %q", v)
		}
	}
	return opts, nil
}
