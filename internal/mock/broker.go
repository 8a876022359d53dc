package mock

import (
	"context"
	"hash/fnv"
	"maps"
	"sync"
	"time"

	"github.com/camelya58/kafkabridge/core"
)

// Broker is an in-memory core.Broker for tests. Published envelopes are
// acknowledged with a partition and offset and looped back to subscribers
// of the same topic.
type Broker struct {
	// Partitions spreads keyed envelopes by FNV hash. Zero means one partition.
	Partitions int
	// PublishErr makes Publish fail before hand-off.
	PublishErr error
	// AckErr is passed to every ack instead of a result.
	AckErr error
	// SubscribeErr makes every Subscribe call fail immediately.
	SubscribeErr error

	mu            sync.Mutex
	published     []Published
	offsets       map[partitionKey]int64
	feeds         map[string]chan *Record
	handlers      map[string]core.Handler
	drops         map[string]chan struct{}
	subscribeErrs []error
	calls         map[string]int
	hold          bool
	held          []func()
	closed        bool
	closedCh      chan struct{}
}

// Published records an envelope accepted by Publish.
type Published struct {
	Envelope core.Envelope
	Result   core.SendResult
}

type partitionKey struct {
	topic     string
	partition int
}

func NewBroker() *Broker {
	return &Broker{
		offsets:  make(map[partitionKey]int64),
		feeds:    make(map[string]chan *Record),
		handlers: make(map[string]core.Handler),
		drops:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
		closedCh: make(chan struct{}),
	}
}

func (b *Broker) Publish(_ context.Context, env core.Envelope, ack core.AckFunc) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	if b.PublishErr != nil {
		err := b.PublishErr
		b.mu.Unlock()
		return err
	}

	part := b.partition(env.Key)
	pk := partitionKey{env.Topic, part}
	offset := b.offsets[pk]
	b.offsets[pk] = offset + 1

	res := core.SendResult{Destination: env.Topic, Partition: part, Offset: offset}
	b.published = append(b.published, Published{Envelope: env, Result: res})
	feed := b.feed(env.Topic)

	ackErr := b.AckErr
	settle := func() {
		if ackErr != nil {
			ack(core.SendResult{}, ackErr)
			return
		}
		ack(res, nil)
	}
	hold := b.hold
	if hold {
		b.held = append(b.held, settle)
	}
	b.mu.Unlock()

	if ackErr == nil {
		select {
		case feed <- &Record{
			T: env.Topic, P: part, O: offset,
			K: env.Key, V: env.Value, H: maps.Clone(env.Headers),
			Ts: time.Now(),
		}:
		default:
		}
	}
	if !hold {
		settle()
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string, handler core.Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	b.calls[topic]++
	if len(b.subscribeErrs) > 0 {
		err := b.subscribeErrs[0]
		b.subscribeErrs = b.subscribeErrs[1:]
		b.mu.Unlock()
		return err
	}
	if b.SubscribeErr != nil {
		err := b.SubscribeErr
		b.mu.Unlock()
		return err
	}
	b.handlers[topic] = handler
	drop := make(chan struct{})
	b.drops[topic] = drop
	feed := b.feed(topic)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.handlers, topic)
		if b.drops[topic] == drop {
			delete(b.drops, topic)
		}
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.closedCh:
			return core.ErrBrokerClosed
		case <-drop:
			return core.ErrTransportUnavailable
		case rec := <-feed:
			_ = handler(ctx, rec)
		}
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.closedCh)
	}
	return nil
}

// Deliver hands rec straight to the handler subscribed to topic.
func (b *Broker) Deliver(ctx context.Context, topic string, rec core.Record) error {
	b.mu.Lock()
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if !ok {
		return core.ErrNoHandler
	}
	return h(ctx, rec)
}

// Disconnect ends the current subscription to topic with
// core.ErrTransportUnavailable.
func (b *Broker) Disconnect(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if drop, ok := b.drops[topic]; ok {
		close(drop)
		delete(b.drops, topic)
	}
}

// FailSubscribes queues errors returned by the next Subscribe calls.
func (b *Broker) FailSubscribes(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeErrs = append(b.subscribeErrs, errs...)
}

// HoldAcks defers acknowledgements until ReleaseAcks.
func (b *Broker) HoldAcks() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hold = true
}

// ReleaseAcks settles every held acknowledgement and stops holding.
func (b *Broker) ReleaseAcks() {
	b.mu.Lock()
	held := b.held
	b.held = nil
	b.hold = false
	b.mu.Unlock()

	for _, settle := range held {
		settle()
	}
}

// Published returns all envelopes accepted by Publish.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// Subscribed reports whether a subscription to topic is active.
func (b *Broker) Subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

// SubscribeCalls returns how often Subscribe was called for topic.
func (b *Broker) SubscribeCalls(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[topic]
}

// IsClosed reports whether Close was called.
func (b *Broker) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Broker) partition(key []byte) int {
	if b.Partitions <= 1 || len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(b.Partitions))
}

func (b *Broker) feed(topic string) chan *Record {
	ch, ok := b.feeds[topic]
	if !ok {
		ch = make(chan *Record, 1024)
		b.feeds[topic] = ch
	}
	return ch
}
