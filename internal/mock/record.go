package mock

import (
	"sync"
	"time"
)

// Record is a simple core.Record implementation for testing.
type Record struct {
	T       string
	P       int
	O       int64
	K       []byte
	V       []byte
	H       map[string]string
	Ts      time.Time
	AckErr  error
	NackErr error

	mu    sync.Mutex
	acks  int
	nacks int
}

func (r *Record) Topic() string              { return r.T }
func (r *Record) Partition() int             { return r.P }
func (r *Record) Offset() int64              { return r.O }
func (r *Record) Key() []byte                { return r.K }
func (r *Record) Value() []byte              { return r.V }
func (r *Record) Headers() map[string]string { return r.H }
func (r *Record) Time() time.Time            { return r.Ts }

func (r *Record) Ack() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks++
	return r.AckErr
}

func (r *Record) Nack() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nacks++
	return r.NackErr
}

// Acked reports whether Ack was called.
func (r *Record) Acked() bool { return r.AckCount() > 0 }

// Nacked reports whether Nack was called.
func (r *Record) Nacked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nacks > 0
}

// AckCount returns how often Ack was called.
func (r *Record) AckCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acks
}
