package core

import (
	"context"
	"sync"
)

// Future is the pending outcome of Publisher.Send.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result SendResult
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve settles the future. Only the first call has an effect.
func (f *Future) resolve(res SendResult, err error) bool {
	settled := false
	f.once.Do(func() {
		f.result, f.err = res, err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Get waits for the outcome. A ctx that ends first only stops the wait;
// the send itself keeps its own deadline.
func (f *Future) Get(ctx context.Context) (SendResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return SendResult{}, ctx.Err()
	}
}

// Result returns the outcome and whether the future is resolved.
func (f *Future) Result() (SendResult, error, bool) {
	select {
	case <-f.done:
		return f.result, f.err, true
	default:
		return SendResult{}, nil, false
	}
}

// OnComplete runs fn on its own goroutine once the future resolves.
func (f *Future) OnComplete(fn func(SendResult, error)) {
	go func() {
		<-f.done
		fn(f.result, f.err)
	}()
}
