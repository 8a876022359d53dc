package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/camelya58/kafkabridge/codec"
)

// State is the lifecycle state of a Dispatcher.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	default:
		return "stopped"
	}
}

// Dispatcher subscribes to every registered destination and routes each
// delivered record to the destination's handler.
type Dispatcher struct {
	broker      Broker
	opts        dispatcherOptions
	middlewares []Middleware
	routes      map[string]Handler

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	// gate admits handler invocations while accepting is true.
	gate      sync.RWMutex
	accepting bool
	inflight  sync.WaitGroup
}

// NewDispatcher creates a Dispatcher bound to the given Broker.
func NewDispatcher(b Broker, fns ...DispatcherOption) *Dispatcher {
	opts := dispatcherDefaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Dispatcher{
		broker: b,
		opts:   opts,
		routes: make(map[string]Handler),
	}
}

// Use registers middleware around every route. Middleware is applied in
// registration order: given [A, B] the call order is A -> B -> handler.
func (d *Dispatcher) Use(m Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, m)
}

// Handle registers a raw handler for a destination. A destination has at most
// one handler; a second registration fails and leaves the first in place.
func (d *Dispatcher) Handle(destination string, h Handler) error {
	if destination == "" {
		return ErrEmptyDestination
	}
	if h == nil {
		return fmt.Errorf("kafkabridge: nil handler for %q", destination)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Running {
		return ErrAlreadyStarted
	}
	if _, ok := d.routes[destination]; ok {
		return &DuplicateHandlerError{Destination: destination}
	}
	d.routes[destination] = h
	return nil
}

// Register adds a typed handler for destination, decoding keys and values
// with the given codecs.
//
//	err := core.Register(d, "msg", codec.Int64{}, codec.JSON[User]{},
//	    func(ctx context.Context, m core.Message[int64, User]) error {
//	        fmt.Println(m.Partition, m.Key, m.Value)
//	        return nil
//	    })
func Register[K, V any](d *Dispatcher, destination string, keys codec.Codec[K], values codec.Codec[V], fn func(ctx context.Context, msg Message[K, V]) error) error {
	if fn == nil {
		return fmt.Errorf("kafkabridge: nil handler for %q", destination)
	}
	return d.Handle(destination, func(ctx context.Context, rec Record) error {
		msg, err := Decode(rec, keys, values)
		if err != nil {
			return err
		}
		if msg.Destination == "" {
			msg.Destination = destination
		}
		return fn(ctx, msg)
	})
}

// Destinations returns the registered destinations in sorted order.
func (d *Dispatcher) Destinations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.routes))
	for dest := range d.routes {
		out = append(out, dest)
	}
	slices.Sort(out)
	return out
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start subscribes to all registered destinations and returns. Records are
// delivered on background goroutines until Stop is called, ctx is cancelled,
// or a subscription fails for good.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.broker == nil {
		return ErrNoBroker
	}
	if d.state == Running {
		return ErrAlreadyStarted
	}
	if len(d.routes) == 0 {
		return ErrNoRoutes
	}

	// Snapshot routes with middleware applied
	routes := make(map[string]Handler, len(d.routes))
	for dest, h := range d.routes {
		routes[dest] = applyMiddleware(h, d.middlewares)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.err = nil
	d.state = Running
	d.openGate()

	var subs sync.WaitGroup
	for dest := range routes {
		subs.Add(1)
		go func(dest string) {
			defer subs.Done()
			d.subscribe(runCtx, dest, routes)
		}(dest)
	}
	go d.supervise(&subs, cancel, done)

	d.opts.log.Info("dispatcher started", zap.Strings("destinations", sortedKeys(routes)))
	return nil
}

// Stop cancels all subscriptions and waits until every handler invocation
// that began before the call has returned. It is idempotent and may be
// called from any goroutine.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.state != Running {
		d.mu.Unlock()
		return nil
	}
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	d.closeGate()
	cancel()
	<-done
	return nil
}

// Run starts the dispatcher and blocks until it stops. It returns nil after
// Stop or ctx cancellation, or the fatal subscription error.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-d.Done()
	return d.Err()
}

// Done is closed when the current run has fully stopped.
func (d *Dispatcher) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return d.done
}

// Err returns the error that stopped the last run, if any.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Dispatcher) supervise(subs *sync.WaitGroup, cancel context.CancelFunc, done chan struct{}) {
	subs.Wait()
	cancel()
	d.closeGate()
	d.inflight.Wait()

	d.mu.Lock()
	d.state = Stopped
	d.cancel = nil
	err := d.err
	close(done)
	d.mu.Unlock()

	if err != nil {
		d.opts.log.Error("dispatcher stopped", zap.Error(err))
		return
	}
	d.opts.log.Info("dispatcher stopped")
}

// subscribe keeps one destination subscribed, reconnecting with backoff.
func (d *Dispatcher) subscribe(ctx context.Context, dest string, routes map[string]Handler) {
	var delivered atomic.Bool
	handler := func(hctx context.Context, rec Record) error {
		delivered.Store(true)
		return d.deliver(hctx, dest, rec, routes)
	}

	policy := d.opts.reconnect
	attempt := 0
	for {
		err := d.broker.Subscribe(ctx, dest, handler)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = ErrSubscriptionClosed
		}
		if errors.Is(err, ErrBrokerClosed) {
			d.fail(fmt.Errorf("kafkabridge: subscribe %q: %w", dest, err))
			return
		}

		// A subscription that delivered something was healthy; start over.
		if delivered.Swap(false) {
			attempt = 0
		}
		attempt++
		if policy.exhausted(attempt) {
			d.fail(fmt.Errorf("kafkabridge: subscribe %q: %w after %d attempts: %w",
				dest, ErrReconnectExhausted, attempt-1, err))
			return
		}

		wait := policy.Backoff(attempt)
		d.opts.log.Warn("subscription lost, reconnecting",
			zap.String("destination", dest),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// deliver runs the route for one record and settles it: ack on success,
// poison messages and unroutable records; nack on handler failure.
func (d *Dispatcher) deliver(ctx context.Context, dest string, rec Record, routes map[string]Handler) error {
	if !d.admit() {
		return ErrDispatcherStopped
	}
	defer d.inflight.Done()

	// Stop must not interrupt a running handler.
	ctx = context.WithoutCancel(ctx)

	topic := rec.Topic()
	if topic == "" {
		topic = dest
	}
	h, ok := routes[topic]
	if !ok {
		d.report(ctx, &NoHandlerWarning{Destination: topic, Partition: rec.Partition(), Offset: rec.Offset()})
		return d.ack(ctx, rec)
	}

	err := h(ctx, rec)
	var de *codec.DeserializationError
	switch {
	case err == nil:
		return d.ack(ctx, rec)
	case errors.As(err, &de):
		d.report(ctx, err)
		return d.ack(ctx, rec)
	default:
		d.report(ctx, &HandlerError{Destination: topic, Partition: rec.Partition(), Offset: rec.Offset(), Err: err})
		if nerr := rec.Nack(); nerr != nil {
			d.report(ctx, fmt.Errorf("kafkabridge: nack %s[%d]@%d: %w", topic, rec.Partition(), rec.Offset(), nerr))
		}
		return err
	}
}

func (d *Dispatcher) ack(ctx context.Context, rec Record) error {
	if err := rec.Ack(); err != nil {
		err = fmt.Errorf("kafkabridge: ack %s[%d]@%d: %w", rec.Topic(), rec.Partition(), rec.Offset(), err)
		d.report(ctx, err)
		return err
	}
	return nil
}

func (d *Dispatcher) report(ctx context.Context, err error) {
	if d.opts.onError != nil {
		d.opts.onError(ctx, err)
		return
	}

	var (
		warn *NoHandlerWarning
		de   *codec.DeserializationError
	)
	switch {
	case errors.As(err, &warn):
		d.opts.log.Warn("dropping record without handler",
			zap.String("destination", warn.Destination),
			zap.Int("partition", warn.Partition),
			zap.Int64("offset", warn.Offset))
	case errors.As(err, &de):
		d.opts.log.Error("skipping undecodable record", zap.Error(err))
	default:
		d.opts.log.Error("delivery failed", zap.Error(err))
	}
}

func (d *Dispatcher) fail(err error) {
	d.mu.Lock()
	if d.err == nil {
		d.err = err
	}
	cancel := d.cancel
	d.mu.Unlock()

	d.closeGate()
	if cancel != nil {
		cancel()
	}
}

func (d *Dispatcher) admit() bool {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if !d.accepting {
		return false
	}
	d.inflight.Add(1)
	return true
}

func (d *Dispatcher) openGate() {
	d.gate.Lock()
	d.accepting = true
	d.gate.Unlock()
}

func (d *Dispatcher) closeGate() {
	d.gate.Lock()
	d.accepting = false
	d.gate.Unlock()
}

// applyMiddleware wraps a handler with middleware in reverse order.
// Given middleware [A, B, C], the call order is A -> B -> C -> handler.
func applyMiddleware(h Handler, mws []Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func sortedKeys(m map[string]Handler) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
