// Package queue provides the daemon's bounded severity priority queue.
package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/yairfalse/vigil/types"
)

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 10000

var (
	// ErrQueueFull is returned when an event is dropped for lack of room.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueClosed is returned by Push and Pop after Close.
	ErrQueueClosed = errors.New("queue is closed")
)

var urgentTypeKeywords = []string{"security", "breach", "unauthorized"}

var productionEnvironments = map[string]bool{
	"prod":       true,
	"production": true,
	"live":       true,
}

// Priority ranks an event for intake. Severity gives the base rank; a
// security-flavoured event type and a production environment each add one.
func Priority(e *types.Event) int {
	p := int(e.Severity)
	lowerType := e.LowerType()
	for _, kw := range urgentTypeKeywords {
		if strings.Contains(lowerType, kw) {
			p++
			break
		}
	}
	if productionEnvironments[e.Payload.Lower("environment")] {
		p++
	}
	return p
}

type item struct {
	priority int
	seq      uint64
	event    *types.Event
}

// Highest priority first, FIFO within a priority.
func less(a, b *item) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
}

// Queue is a bounded priority queue of events. When full, a new event
// evicts the lowest ranked queued event if it outranks it and is dropped
// otherwise.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tree   *btree.BTreeG[*item]
	size   int
	seq    uint64
	closed bool

	enqueued  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a queue holding at most size events.
func New(size int) *Queue {
	if size <= 0 {
		size = DefaultSize
	}
	q := &Queue{
		tree: btree.NewG[*item](32, less),
		size: size,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds an event. It returns ErrQueueFull when the event itself was
// dropped; an eviction of a lower ranked event is not an error.
func (q *Queue) Push(e *types.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	it := &item{priority: Priority(e), seq: q.seq, event: e}
	q.seq++

	if q.tree.Len() >= q.size {
		lowest, _ := q.tree.Max()
		if it.priority <= lowest.priority {
			q.dropped.Add(1)
			return ErrQueueFull
		}
		q.tree.DeleteMax()
		q.dropped.Add(1)
	}

	q.tree.ReplaceOrInsert(it)
	q.enqueued.Add(1)
	q.cond.Signal()
	return nil
}

// TryPop removes the highest ranked event without blocking.
func (q *Queue) TryPop() (*types.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (*types.Event, bool) {
	it, ok := q.tree.DeleteMin()
	if !ok {
		return nil, false
	}
	q.processed.Add(1)
	return it.event, true
}

// Pop blocks until an event is available, the queue is closed and drained,
// or ctx is done.
func (q *Queue) Pop(ctx context.Context) (*types.Event, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if e, ok := q.popLocked(); ok {
			return e, nil
		}
		if q.closed {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}
}

// Close stops accepting events and wakes blocked consumers. Queued events
// can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Dropped:   q.dropped.Load(),
		Depth:     q.Len(),
		Capacity:  q.size,
	}
}
