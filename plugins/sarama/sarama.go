package sarama

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/IBM/sarama"

	"github.com/camelya58/kafkabridge/broker"
	"github.com/camelya58/kafkabridge/core"
)

// Factory creates a sarama-backed Kafka broker from a broker.Config.
func Factory(cfg broker.Config) (core.Broker, error) {
	opts, err := optsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return New(cfg.Brokers, cfg.Group, opts...)
}

// Broker implements core.Broker for Apache Kafka using IBM/sarama.
//
// Design decisions:
//   - One AsyncProducer; each ProducerMessage carries its ack in Metadata and
//     the success and error pumps settle it.
//   - One ConsumerGroup per Subscribe call; Ack marks the offset and the
//     group commits marked offsets periodically.
//   - Close drains the producer before returning.
type Broker struct {
	brokers []string
	group   string
	cfg     *sarama.Config

	producer sarama.AsyncProducer
	pumps    sync.WaitGroup

	// input guards sends on producer.Input() against AsyncClose.
	input  sync.RWMutex
	closed bool

	mu     sync.Mutex
	groups map[sarama.ConsumerGroup]struct{}
}

// New creates a sarama Broker and connects its producer.
func New(brokers []string, group string, fns ...Option) (*Broker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafkabridge/sarama: at least one broker address is required")
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("kafkabridge/sarama: invalid config: %w", err)
	}

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafkabridge/sarama: create producer: %w: %w", core.ErrTransportUnavailable, err)
	}

	b := &Broker{
		brokers:  brokers,
		group:    group,
		cfg:      cfg,
		producer: producer,
		groups:   make(map[sarama.ConsumerGroup]struct{}),
	}
	b.pumps.Add(2)
	go b.pumpSuccesses()
	go b.pumpErrors()
	return b, nil
}

func (b *Broker) pumpSuccesses() {
	defer b.pumps.Done()
	for msg := range b.producer.Successes() {
		if ack, ok := msg.Metadata.(core.AckFunc); ok {
			ack(core.SendResult{Destination: msg.Topic, Partition: int(msg.Partition), Offset: msg.Offset}, nil)
		}
	}
}

func (b *Broker) pumpErrors() {
	defer b.pumps.Done()
	for perr := range b.producer.Errors() {
		if ack, ok := perr.Msg.Metadata.(core.AckFunc); ok {
			ack(core.SendResult{}, fmt.Errorf("kafkabridge/sarama: write to %q: %w", perr.Msg.Topic, perr.Err))
		}
	}
}

// Publish hands the envelope to the async producer.
func (b *Broker) Publish(ctx context.Context, env core.Envelope, ack core.AckFunc) error {
	b.input.RLock()
	defer b.input.RUnlock()
	if b.closed {
		return core.ErrBrokerClosed
	}

	msg := &sarama.ProducerMessage{
		Topic:    env.Topic,
		Value:    sarama.ByteEncoder(env.Value),
		Headers:  toHeaders(env.Headers),
		Metadata: ack,
	}
	if len(env.Key) > 0 {
		msg.Key = sarama.ByteEncoder(env.Key)
	}

	select {
	case b.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafkabridge/sarama: publish to %q: %w", env.Topic, ctx.Err())
	}
}

// Subscribe joins the consumer group for topic and blocks, delivering
// records to the handler until the context is cancelled.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler core.Handler) error {
	if b.isClosed() {
		return core.ErrBrokerClosed
	}

	group, err := sarama.NewConsumerGroup(b.brokers, broker.GroupID(b.group, topic), b.cfg)
	if err != nil {
		return fmt.Errorf("kafkabridge/sarama: create consumer group: %w: %w", core.ErrTransportUnavailable, err)
	}

	b.mu.Lock()
	b.groups[group] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		_, owned := b.groups[group]
		delete(b.groups, group)
		b.mu.Unlock()
		if owned {
			group.Close()
		}
	}()

	gh := &groupHandler{handler: handler}
	for {
		// Consume returns on every rebalance; rejoin until cancelled.
		if err := group.Consume(ctx, []string{topic}, gh); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, sarama.ErrClosedConsumerGroup) && b.isClosed() {
				return core.ErrBrokerClosed
			}
			return fmt.Errorf("kafkabridge/sarama: consume %q: %w: %w", topic, core.ErrTransportUnavailable, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close drains the producer and leaves all consumer groups.
func (b *Broker) Close() error {
	b.input.Lock()
	if b.closed {
		b.input.Unlock()
		return nil
	}
	b.closed = true
	b.producer.AsyncClose()
	b.input.Unlock()

	// Pumps end once the producer has flushed and closed its channels.
	b.pumps.Wait()

	b.mu.Lock()
	groups := b.groups
	b.groups = make(map[sarama.ConsumerGroup]struct{})
	b.mu.Unlock()

	var errs []error
	for g := range groups {
		if err := g.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafkabridge/sarama: close consumer group: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *Broker) isClosed() bool {
	b.input.RLock()
	defer b.input.RUnlock()
	return b.closed
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	handler core.Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			// Settlement is the handler's business; errors only matter to the caller.
			_ = h.handler(session.Context(), &record{msg: msg, session: session})
		}
	}
}

func toHeaders(h map[string]string) []sarama.RecordHeader {
	if len(h) == 0 {
		return nil
	}
	headers := make([]sarama.RecordHeader, 0, len(h))
	for k, v := range h {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return headers
}

// optsFromConfig extracts options from the broker.Config.
func optsFromConfig(cfg broker.Config) ([]Option, error) {
	var opts []Option
	if cfg.ClientID != "" {
		opts = append(opts, WithClientID(cfg.ClientID))
	}
	switch strings.ToUpper(cfg.SASL.Mechanism) {
	case "":
	case "PLAIN":
		opts = append(opts, WithPlainAuth(cfg.SASL.Username, cfg.SASL.Password))
	default:
		return nil, fmt.Errorf("kafkabridge/sarama: unsupported SASL mechanism %q, use the kafka transport for SCRAM", cfg.SASL.Mechanism)
	}

	if v, ok := cfg.Extra["start_offset"].(string); ok {
		switch v {
		case "first", "earliest":
			opts = append(opts, WithInitialOffset(sarama.OffsetOldest))
		case "last", "latest":
			opts = append(opts, WithInitialOffset(sarama.OffsetNewest))
		default:
			return nil, fmt.Errorf("kafkabridge/sarama: invalid start_offset %q", v)
		}
	}
	return opts, nil
}
