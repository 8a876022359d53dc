package core

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// SendObserver receives the outcome of every send.
type SendObserver interface {
	MessageSent(destination string, duration time.Duration, err error)
}

// PublisherOption configures a Publisher.
type PublisherOption func(*publisherOptions)

type publisherOptions struct {
	log      *zap.Logger
	timeout  time.Duration
	observer SendObserver
	headers  map[string]string
}

func publisherDefaults() publisherOptions {
	return publisherOptions{log: zap.NewNop()}
}

// WithPublisherLogger logs send outcomes.
func WithPublisherLogger(l *zap.Logger) PublisherOption {
	return func(o *publisherOptions) { o.log = l }
}

// WithSendTimeout bounds how long a send may wait for its acknowledgement.
// Zero means the caller's context alone decides.
func WithSendTimeout(d time.Duration) PublisherOption {
	return func(o *publisherOptions) { o.timeout = d }
}

// WithSendObserver reports every send outcome, e.g. to metrics.
func WithSendObserver(obs SendObserver) PublisherOption {
	return func(o *publisherOptions) { o.observer = obs }
}

// WithHeaders attaches static headers to every envelope.
func WithHeaders(h map[string]string) PublisherOption {
	return func(o *publisherOptions) { o.headers = h }
}

// ErrorHandler receives non-fatal delivery problems: NoHandlerWarning,
// codec.DeserializationError, HandlerError and acknowledgement failures.
type ErrorHandler func(ctx context.Context, err error)

// ReconnectPolicy bounds how a lost subscription is re-established.
type ReconnectPolicy struct {
	// MaxAttempts is the number of consecutive failed attempts tolerated.
	// Zero disables reconnecting; a negative value never gives up.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Backoff returns the wait before the given attempt (1-based), doubling from
// InitialBackoff and capped at MaxBackoff. Without MaxBackoff the wait
// saturates at the largest Duration.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func (p ReconnectPolicy) exhausted(attempt int) bool {
	return p.MaxAttempts >= 0 && attempt > p.MaxAttempts
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	log       *zap.Logger
	onError   ErrorHandler
	reconnect ReconnectPolicy
}

func dispatcherDefaults() dispatcherOptions {
	return dispatcherOptions{
		log:       zap.NewNop(),
		reconnect: DefaultReconnectPolicy(),
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *zap.Logger) DispatcherOption {
	return func(o *dispatcherOptions) { o.log = l }
}

// WithErrorHandler replaces the default reporting, which logs.
func WithErrorHandler(h ErrorHandler) DispatcherOption {
	return func(o *dispatcherOptions) { o.onError = h }
}

// WithReconnectPolicy sets how lost subscriptions are retried.
func WithReconnectPolicy(p ReconnectPolicy) DispatcherOption {
	return func(o *dispatcherOptions) { o.reconnect = p }
}
