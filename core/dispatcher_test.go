package core_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/camelya58/kafkabridge/codec"
	"github.com/camelya58/kafkabridge/core"
	"github.com/camelya58/kafkabridge/internal/mock"
)

const (
	waitFor = time.Second
	tick    = 2 * time.Millisecond
)

// reports collects errors passed to the dispatcher's error handler.
type reports struct {
	mu   sync.Mutex
	errs []error
}

func (r *reports) handle(_ context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *reports) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func fastReconnect(attempts int) core.ReconnectPolicy {
	return core.ReconnectPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func startDispatcher(t *testing.T, d *core.Dispatcher, mb *mock.Broker, topics ...string) {
	t.Helper()
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })
	for _, topic := range topics {
		require.Eventually(t, func() bool { return mb.Subscribed(topic) }, waitFor, tick)
	}
}

func TestDispatcher_SendAndReceive(t *testing.T) {
	mb := mock.NewBroker()
	d := core.NewDispatcher(mb)

	got := make(chan core.Message[int64, user], 1)
	err := core.Register(d, "msg", codec.Int64{}, codec.JSON[user]{},
		func(ctx context.Context, m core.Message[int64, user]) error {
			got <- m
			return nil
		})
	require.NoError(t, err)
	startDispatcher(t, d, mb, "msg")

	f, err := newUserPublisher(mb).Send(context.Background(), "msg", 42, user{Name: "Ann", Age: 30})
	require.NoError(t, err)
	res, err := f.Get(context.Background())
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, "msg", m.Destination)
		assert.EqualValues(t, 42, m.Key)
		assert.Equal(t, user{Name: "Ann", Age: 30}, m.Value)
		assert.Equal(t, res.Partition, m.Partition)
		assert.Equal(t, res.Offset, m.Offset)
	case <-time.After(waitFor):
		t.Fatal("message not delivered")
	}
}

func TestDispatcher_PartitionOrder(t *testing.T) {
	mb := mock.NewBroker()
	d := core.NewDispatcher(mb)

	var (
		mu   sync.Mutex
		seen []string
	)
	require.NoError(t, core.Register(d, "msg-text", codec.String{}, codec.String{},
		func(ctx context.Context, m core.Message[string, string]) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, m.Value)
			return nil
		}))
	startDispatcher(t, d, mb, "msg-text")

	p := core.NewPublisher[string, string](mb, codec.String{}, codec.String{})
	var want []string
	for i := range 100 {
		v := fmt.Sprintf("value-%d", i)
		want = append(want, v)
		_, err := p.Send(context.Background(), "msg-text", "same-key", v)
		require.NoError(t, err)
	}
	require.NoError(t, p.Flush(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	}, waitFor, tick)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestDispatcher_HandleValidation(t *testing.T) {
	d := core.NewDispatcher(mock.NewBroker())
	noop := func(context.Context, core.Record) error { return nil }

	assert.ErrorIs(t, d.Handle("", noop), core.ErrEmptyDestination)
	assert.Error(t, d.Handle("msg", nil))

	require.NoError(t, d.Handle("msg", noop))
	err := d.Handle("msg", noop)
	assert.ErrorIs(t, err, core.ErrDuplicateHandler)
	var dup *core.DuplicateHandlerError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "msg", dup.Destination)

	err = core.Register(d, "msg", codec.Int64{}, codec.JSON[user]{},
		func(context.Context, core.Message[int64, user]) error { return nil })
	assert.ErrorIs(t, err, core.ErrDuplicateHandler)

	assert.Equal(t, []string{"msg"}, d.Destinations())
}

func TestDispatcher_StartValidation(t *testing.T) {
	noop := func(context.Context, core.Record) error { return nil }

	t.Run("no broker", func(t *testing.T) {
		d := core.NewDispatcher(nil)
		require.NoError(t, d.Handle("msg", noop))
		assert.ErrorIs(t, d.Start(context.Background()), core.ErrNoBroker)
	})

	t.Run("no routes", func(t *testing.T) {
		d := core.NewDispatcher(mock.NewBroker())
		assert.ErrorIs(t, d.Start(context.Background()), core.ErrNoRoutes)
	})

	t.Run("twice", func(t *testing.T) {
		mb := mock.NewBroker()
		d := core.NewDispatcher(mb)
		require.NoError(t, d.Handle("msg", noop))
		startDispatcher(t, d, mb, "msg")

		assert.ErrorIs(t, d.Start(context.Background()), core.ErrAlreadyStarted)
		assert.ErrorIs(t, d.Handle("other", noop), core.ErrAlreadyStarted)
		assert.Equal(t, core.Running, d.State())
	})
}

func TestDispatcher_Middleware(t *testing.T) {
	mb := mock.NewBroker()
	d := core.NewDispatcher(mb)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}
	mw := func(name string) core.Middleware {
		return func(next core.Handler) core.Handler {
			return func(ctx context.Context, rec core.Record) error {
				record(name + ":before")
				err := next(ctx, rec)
				record(name + ":after")
				return err
			}
		}
	}

	d.Use(mw("A"))
	d.Use(mw("B"))
	require.NoError(t, d.Handle("test.topic", func(ctx context.Context, rec core.Record) error {
		record("handler")
		return nil
	}))
	startDispatcher(t, d, mb, "test.topic")

	require.NoError(t, mb.Deliver(context.Background(), "test.topic", &mock.Record{T: "test.topic"}))

	// Call order: A:before -> B:before -> handler -> B:after -> A:after
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A:before", "B:before", "handler", "B:after", "A:after"}, order)
}

func TestDispatcher_PoisonRecordIsSkipped(t *testing.T) {
	mb := mock.NewBroker()
	r := &reports{}
	d := core.NewDispatcher(mb, core.WithErrorHandler(r.handle))

	var calls atomic.Int32
	require.NoError(t, core.Register(d, "msg", codec.Int64{}, codec.JSON[user]{},
		func(ctx context.Context, m core.Message[int64, user]) error {
			calls.Add(1)
			return nil
		}))
	startDispatcher(t, d, mb, "msg")

	poison := &mock.Record{T: "msg", O: 3, V: []byte("not json")}
	require.NoError(t, mb.Deliver(context.Background(), "msg", poison))
	assert.Equal(t, 1, poison.AckCount())
	assert.False(t, poison.Nacked())

	errs := r.all()
	require.Len(t, errs, 1)
	var de *codec.DeserializationError
	assert.ErrorAs(t, errs[0], &de)
	assert.Zero(t, calls.Load())

	// The next record on the same destination is still processed.
	good := &mock.Record{T: "msg", O: 4, V: []byte(`{"name":"Bob"}`)}
	require.NoError(t, mb.Deliver(context.Background(), "msg", good))
	assert.True(t, good.Acked())
	assert.EqualValues(t, 1, calls.Load())
	assert.Len(t, r.all(), 1)
}

func TestDispatcher_NoHandlerWarning(t *testing.T) {
	mb := mock.NewBroker()
	obs, logs := observer.New(zapcore.InfoLevel)
	d := core.NewDispatcher(mb, core.WithLogger(zap.New(obs)))

	require.NoError(t, d.Handle("msg", func(context.Context, core.Record) error { return nil }))
	startDispatcher(t, d, mb, "msg")

	stray := &mock.Record{T: "unknown", P: 1, O: 9}
	require.NoError(t, mb.Deliver(context.Background(), "msg", stray))
	assert.True(t, stray.Acked())

	entries := logs.FilterMessage("dropping record without handler").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "unknown", entries[0].ContextMap()["destination"])
	assert.Equal(t, core.Running, d.State())
}

func TestDispatcher_NoHandlerReported(t *testing.T) {
	mb := mock.NewBroker()
	r := &reports{}
	d := core.NewDispatcher(mb, core.WithErrorHandler(r.handle))
	require.NoError(t, d.Handle("msg", func(context.Context, core.Record) error { return nil }))
	startDispatcher(t, d, mb, "msg")

	require.NoError(t, mb.Deliver(context.Background(), "msg", &mock.Record{T: "other", O: 5}))

	errs := r.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], core.ErrNoHandler)
	var warn *core.NoHandlerWarning
	require.ErrorAs(t, errs[0], &warn)
	assert.Equal(t, "other", warn.Destination)
	assert.EqualValues(t, 5, warn.Offset)
}

func TestDispatcher_HandlerErrorNacks(t *testing.T) {
	mb := mock.NewBroker()
	r := &reports{}
	d := core.NewDispatcher(mb, core.WithErrorHandler(r.handle))
	boom := errors.New("boom")
	require.NoError(t, d.Handle("msg", func(context.Context, core.Record) error { return boom }))
	startDispatcher(t, d, mb, "msg")

	rec := &mock.Record{T: "msg", P: 2, O: 8}
	err := mb.Deliver(context.Background(), "msg", rec)
	assert.ErrorIs(t, err, boom)
	assert.True(t, rec.Nacked())
	assert.False(t, rec.Acked())

	errs := r.all()
	require.Len(t, errs, 1)
	var he *core.HandlerError
	require.ErrorAs(t, errs[0], &he)
	assert.Equal(t, "msg", he.Destination)
	assert.Equal(t, 2, he.Partition)
	assert.EqualValues(t, 8, he.Offset)
	assert.Equal(t, core.Running, d.State())
}

func TestDispatcher_StopDrainsInFlight(t *testing.T) {
	mb := mock.NewBroker()
	d := core.NewDispatcher(mb)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	var handlerCtxErr atomic.Value
	require.NoError(t, d.Handle("msg", func(ctx context.Context, rec core.Record) error {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			handlerCtxErr.Store(err)
		}
		finished.Store(true)
		return nil
	}))
	startDispatcher(t, d, mb, "msg")

	rec := &mock.Record{T: "msg"}
	go func() { _ = mb.Deliver(context.Background(), "msg", rec) }()
	<-started

	stopped := make(chan struct{})
	go func() {
		_ = d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a handler was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("stop did not return")
	}

	assert.True(t, finished.Load())
	assert.Nil(t, handlerCtxErr.Load())
	assert.True(t, rec.Acked())
	assert.Equal(t, core.Stopped, d.State())
}

// capturingBroker keeps the handler passed to Subscribe so a test can invoke
// it at any time, as a transport with a delayed fetch would.
type capturingBroker struct {
	mu      sync.Mutex
	handler core.Handler
}

func (b *capturingBroker) Publish(context.Context, core.Envelope, core.AckFunc) error { return nil }

func (b *capturingBroker) Subscribe(ctx context.Context, _ string, h core.Handler) error {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (b *capturingBroker) Close() error { return nil }

func (b *capturingBroker) captured() core.Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler
}

func TestDispatcher_NoDeliveryAfterStop(t *testing.T) {
	cb := &capturingBroker{}
	d := core.NewDispatcher(cb)

	var calls atomic.Int32
	require.NoError(t, d.Handle("msg", func(context.Context, core.Record) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool { return cb.captured() != nil }, waitFor, tick)

	require.NoError(t, d.Stop())

	rec := &mock.Record{T: "msg", O: 1}
	err := cb.captured()(context.Background(), rec)
	assert.ErrorIs(t, err, core.ErrDispatcherStopped)
	assert.Zero(t, calls.Load())
	assert.False(t, rec.Acked())
	assert.False(t, rec.Nacked())
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	mb := mock.NewBroker()
	d := core.NewDispatcher(mb)

	assert.NoError(t, d.Stop())
	<-d.Done()

	require.NoError(t, d.Handle("msg", func(context.Context, core.Record) error { return nil }))
	startDispatcher(t, d, mb, "msg")

	assert.NoError(t, d.Stop())
	assert.NoError(t, d.Stop())
	assert.Equal(t, core.Stopped, d.State())
	assert.NoError(t, d.Err())
	assert.False(t, mb.IsClosed(), "the dispatcher does not own the broker")
}

func TestDispatcher_RunReturnsOnCancel(t *testing.T) {
	mb := mock.NewBroker()
	d := core.NewDispatcher(mb)
	require.NoError(t, d.Handle("msg", func(context.Context, core.Record) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return mb.Subscribed("msg") }, waitFor, tick)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("run did not return")
	}
}

func TestDispatcher_Reconnects(t *testing.T) {
	mb := mock.NewBroker()
	mb.FailSubscribes(core.ErrTransportUnavailable, core.ErrTransportUnavailable)
	d := core.NewDispatcher(mb, core.WithReconnectPolicy(fastReconnect(3)))
	require.NoError(t, d.Handle("msg", func(context.Context, core.Record) error { return nil }))

	startDispatcher(t, d, mb, "msg")
	assert.Equal(t, 3, mb.SubscribeCalls("msg"))

	mb.Disconnect("msg")
	require.Eventually(t, func() bool {
		return mb.SubscribeCalls("msg") == 4 && mb.Subscribed("msg")
	}, waitFor, tick)
	assert.Equal(t, core.Running, d.State())
}

func TestDispatcher_ReconnectExhausted(t *testing.T) {
	mb := mock.NewBroker()
	mb.SubscribeErr = core.ErrTransportUnavailable
	d := core.NewDispatcher(mb, core.WithReconnectPolicy(fastReconnect(2)))
	require.NoError(t, d.Handle("msg", func(context.Context, core.Record) error { return nil }))

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrReconnectExhausted)
	assert.ErrorIs(t, err, core.ErrTransportUnavailable)
	assert.Equal(t, 3, mb.SubscribeCalls("msg"))
	assert.Equal(t, core.Stopped, d.State())
}

func TestDispatcher_BrokerClosedIsFatal(t *testing.T) {
	mb := mock.NewBroker()
	d := core.NewDispatcher(mb, core.WithReconnectPolicy(fastReconnect(-1)))
	require.NoError(t, d.Handle("msg", func(context.Context, core.Record) error { return nil }))
	require.NoError(t, d.Handle("msg-text", func(context.Context, core.Record) error { return nil }))
	startDispatcher(t, d, mb, "msg", "msg-text")

	require.NoError(t, mb.Close())

	select {
	case <-d.Done():
	case <-time.After(waitFor):
		t.Fatal("dispatcher kept running after broker close")
	}
	assert.ErrorIs(t, d.Err(), core.ErrBrokerClosed)
}

func TestReconnectPolicy_Backoff(t *testing.T) {
	p := core.ReconnectPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(5))
	assert.Equal(t, time.Second, p.Backoff(20))

	uncapped := core.ReconnectPolicy{InitialBackoff: time.Second}
	assert.Equal(t, 8*time.Second, uncapped.Backoff(4))
	for _, attempt := range []int{40, 64, 100, 1000} {
		assert.Positive(t, uncapped.Backoff(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.Backoff(1000))

	assert.Zero(t, core.ReconnectPolicy{}.Backoff(3))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", core.Running.String())
	assert.Equal(t, "stopped", core.Stopped.String())
}
