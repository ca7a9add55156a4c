package bus

import "sync"

// Ring is a bounded FIFO of the most recent envelopes, kept for
// introspection. Oldest entries are evicted first once full.
type Ring struct {
	mu    sync.Mutex
	buf   []*Envelope
	head  int // oldest entry
	count int
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]*Envelope, capacity)}
}

// Add appends an envelope, evicting the oldest when full.
func (r *Ring) Add(env *Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = env
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// Recent returns up to limit of the newest envelopes in publish order
// (oldest first). limit <= 0 returns everything held.
func (r *Ring) Recent(limit int) []*Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*Envelope, n)
	start := r.head + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of envelopes currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the configured capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
