// Package progress delivers fractional completion to an optional observer
// without ever blocking the producer.
package progress

import (
	"sync"
)

// Func receives completion fractions in [0, 1].
type Func func(fraction float64)

// Reporter forwards fractions to a Func from its own goroutine. Every value
// is delivered in the order it was reported: 0.0 from Start, one fraction per
// Step and a final 1.0 from Close. Producers only append to a queue.
type Reporter struct {
	fn     Func
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	queue  []float64
	total  int
	count  int
	closed bool
}

// NewReporter returns a Reporter for total units of work. A nil fn yields a
// Reporter whose methods are no-ops.
func NewReporter(fn Func, total int) *Reporter {
	r := &Reporter{fn: fn, total: total}
	if fn == nil {
		return r
	}
	r.wake = make(chan struct{}, 1)
	r.done = make(chan struct{})
	go r.run()
	return r
}

func (r *Reporter) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		batch, closed := r.queue, r.closed
		r.queue = nil
		r.mu.Unlock()

		for _, f := range batch {
			r.fn(f)
		}
		// nothing is queued after close, so batch held the rest
		if closed {
			return
		}
		<-r.wake
	}
}

// Start reports 0.0.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.push(0)
}

// Step marks one unit complete and reports the new fraction.
func (r *Reporter) Step() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	f := 1.0
	if r.total > 0 {
		f = float64(r.count) / float64(r.total)
	}
	if f > 1 {
		f = 1
	}
	r.push(f)
}

// Close reports 1.0 and waits until the observer has received everything.
func (r *Reporter) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.push(1.0)
		r.closed = true
		r.mu.Unlock()
		if r.fn == nil {
			return
		}
		<-r.done
	})
}

// push must be called with r.mu held.
func (r *Reporter) push(f float64) {
	if r.fn == nil || r.closed {
		return
	}
	r.queue = append(r.queue, f)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
