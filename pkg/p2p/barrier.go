package p2p

import "sync"

// Barrier is a two-party rendezvous: each side arrives independently and
// the callback fires exactly once, when both have, in whatever order.
type Barrier struct {
	mu          sync.Mutex
	self, other bool
	fired       bool
	fn          func()
}

func NewBarrier(fn func()) *Barrier { return &Barrier{fn: fn} }

func (b *Barrier) Self()  { b.arrive(func() { b.self = true }) }
func (b *Barrier) Other() { b.arrive(func() { b.other = true }) }

func (b *Barrier) arrive(mark func()) {
	b.mu.Lock()
	mark()
	fire := b.self && b.other && !b.fired
	if fire {
		b.fired = true
	}
	b.mu.Unlock()
	if fire && b.fn != nil {
		b.fn()
	}
}

// Done reports whether the barrier has fired.
func (b *Barrier) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fired
}

// Reset re-arms the barrier for a new round.
func (b *Barrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.self, b.other, b.fired = false, false, false
}
