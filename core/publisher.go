package core

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camelya58/kafkabridge/codec"
)

// Publisher encodes typed key/value pairs and hands them to a Broker.
// It is safe for concurrent use. A Publisher does not own the broker.
type Publisher[K, V any] struct {
	broker Broker
	keys   codec.Codec[K]
	values codec.Codec[V]
	opts   publisherOptions

	mu      sync.Mutex
	pending map[*Future]struct{}
}

// NewPublisher creates a Publisher bound to the given Broker and codecs.
func NewPublisher[K, V any](b Broker, keys codec.Codec[K], values codec.Codec[V], fns ...PublisherOption) *Publisher[K, V] {
	opts := publisherDefaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Publisher[K, V]{
		broker:  b,
		keys:    keys,
		values:  values,
		opts:    opts,
		pending: make(map[*Future]struct{}),
	}
}

// Send encodes key and value and issues exactly one write to destination.
//
// Validation and encoding errors are returned directly and nothing is sent.
// Everything after the hand-off, including a closed or unreachable transport
// and acknowledgement timeouts, resolves the returned Future with a *SendError.
func (p *Publisher[K, V]) Send(ctx context.Context, destination string, key K, value V) (*Future, error) {
	if err := p.check(destination); err != nil {
		return nil, err
	}
	k, err := p.keys.Encode(key)
	if err != nil {
		return nil, err
	}
	return p.publish(ctx, destination, k, value)
}

// SendValue is Send with a null key. Consumers decode the missing key as the
// zero value of K.
func (p *Publisher[K, V]) SendValue(ctx context.Context, destination string, value V) (*Future, error) {
	if err := p.check(destination); err != nil {
		return nil, err
	}
	return p.publish(ctx, destination, nil, value)
}

func (p *Publisher[K, V]) check(destination string) error {
	if destination == "" {
		return ErrEmptyDestination
	}
	if p.broker == nil {
		return ErrNoBroker
	}
	return nil
}

func (p *Publisher[K, V]) publish(ctx context.Context, destination string, k []byte, value V) (*Future, error) {
	v, err := p.values.Encode(value)
	if err != nil {
		return nil, err
	}

	env := Envelope{
		Topic:   destination,
		Key:     k,
		Value:   v,
		Headers: maps.Clone(p.opts.headers),
	}

	sendCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.opts.timeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, p.opts.timeout)
	}

	f := newFuture()
	p.track(f)
	start := time.Now()

	go p.await(sendCtx, cancel, destination, f, start)

	ack := func(res SendResult, err error) {
		if err != nil {
			f.resolve(SendResult{}, &SendError{Destination: destination, Err: err})
			return
		}
		if res.Destination == "" {
			res.Destination = destination
		}
		f.resolve(res, nil)
	}
	if err := p.broker.Publish(sendCtx, env, ack); err != nil {
		f.resolve(SendResult{}, &SendError{Destination: destination, Err: err})
	}
	return f, nil
}

// await resolves f with a timeout once sendCtx ends first, then reports the
// outcome.
func (p *Publisher[K, V]) await(sendCtx context.Context, cancel context.CancelFunc, destination string, f *Future, start time.Time) {
	defer cancel()
	select {
	case <-f.Done():
	case <-sendCtx.Done():
		f.resolve(SendResult{}, &SendError{Destination: destination, Err: sendCtx.Err()})
	}
	p.forget(f)

	res, err, _ := f.Result()
	elapsed := time.Since(start)
	if p.opts.observer != nil {
		p.opts.observer.MessageSent(destination, elapsed, err)
	}
	if err != nil {
		var se *SendError
		timeout := errors.As(err, &se) && se.Timeout()
		p.opts.log.Warn("send failed",
			zap.String("destination", destination),
			zap.Bool("timeout", timeout),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}
	p.opts.log.Debug("send acknowledged",
		zap.String("destination", res.Destination),
		zap.Int("partition", res.Partition),
		zap.Int64("offset", res.Offset),
		zap.Duration("elapsed", elapsed))
}

// Flush blocks until every send issued before the call has resolved.
func (p *Publisher[K, V]) Flush(ctx context.Context) error {
	p.mu.Lock()
	waiting := make([]*Future, 0, len(p.pending))
	for f := range p.pending {
		waiting = append(waiting, f)
	}
	p.mu.Unlock()

	for _, f := range waiting {
		select {
		case <-f.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Pending returns the number of unresolved sends.
func (p *Publisher[K, V]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Publisher[K, V]) track(f *Future) {
	p.mu.Lock()
	p.pending[f] = struct{}{}
	p.mu.Unlock()
}

func (p *Publisher[K, V]) forget(f *Future) {
	p.mu.Lock()
	delete(p.pending, f)
	p.mu.Unlock()
}
