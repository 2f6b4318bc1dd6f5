package reconcile

import (
	"sync"

	"qtrader/internal/core"
)

// tickQueue is a conflating FIFO for price ticks. A newer tick for a
// symbol replaces the undelivered older one; position and account deltas
// never pass through here because they must not be dropped.
type tickQueue struct {
	mu      sync.Mutex
	pending map[string]core.PriceTick
	order   []string
	signal  chan struct{}
}

func newTickQueue() *tickQueue {
	return &tickQueue{
		pending: make(map[string]core.PriceTick),
		signal:  make(chan struct{}, 1),
	}
}

// push enqueues a tick and reports whether it superseded a pending one
func (q *tickQueue) push(tick core.PriceTick) bool {
	q.mu.Lock()
	_, superseded := q.pending[tick.Symbol]
	q.pending[tick.Symbol] = tick
	if !superseded {
		q.order = append(q.order, tick.Symbol)
	}
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return superseded
}

// pop dequeues the oldest pending tick
func (q *tickQueue) pop() (core.PriceTick, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.order) > 0 {
		symbol := q.order[0]
		q.order = q.order[1:]
		if tick, ok := q.pending[symbol]; ok {
			delete(q.pending, symbol)
			return tick, true
		}
	}
	return core.PriceTick{}, false
}

// wait returns the channel signaled on new ticks
func (q *tickQueue) wait() <-chan struct{} {
	return q.signal
}

// depth returns the number of pending ticks
func (q *tickQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
