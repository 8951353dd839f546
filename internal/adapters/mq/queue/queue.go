// Package queue carries force samples from the device producer to the
// single pipeline consumer.
//
// The producer must never block on a slow consumer: under backpressure the
// queue drops the oldest queued sample, since real-time fidelity of the
// latest sample matters more than completeness. Control envelopes (cancel,
// end-of-stream) are never dropped and keep their position, so the consumer
// observes a cancel after every sample queued before it and before any
// queued after.
package queue

import (
	"context"
	"sync"

	"github.com/okian/jumplab/internal/domain/model"
	"github.com/okian/jumplab/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultCapacity = 8192
)

// Kind discriminates queue envelopes.
type Kind int

const (
	// KindSample carries one force sample.
	KindSample Kind = iota
	// KindCancel is the cooperative cancellation sentinel.
	KindCancel
	// KindEnd marks end of stream; Err explains why production stopped.
	KindEnd
)

// Envelope is the unit flowing through the queue.
type Envelope struct {
	Kind   Kind
	Sample model.ForceSample
	Err    error
}

// Queue provides drop-oldest enqueue and channel-based dequeue semantics.
type Queue interface {
	// Push adds a sample, evicting the oldest queued sample when full.
	// Returns false only if the queue is closed.
	Push(ctx context.Context, s model.ForceSample) bool

	// PushCancel appends the cancellation sentinel.
	PushCancel(ctx context.Context) bool

	// PushEnd appends the end-of-stream marker with its terminal error.
	PushEnd(ctx context.Context, err error) bool

	// Dequeue returns a channel delivering envelopes in order. The channel
	// closes when the queue is closed and drained, or ctx is done.
	Dequeue(ctx context.Context) <-chan Envelope

	// Len returns the number of queued envelopes.
	Len() int

	// Dropped returns how many samples were evicted under backpressure.
	Dropped() int

	// Close shuts the queue down; queued envelopes still drain.
	Close() error

	// IsClosed reports whether the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue with a mutex-guarded deque. A plain
// buffered channel cannot evict its oldest element without racing the
// consumer, and eviction must skip control envelopes.
type InMemoryQueue struct {
	mu       sync.Mutex
	buf      []Envelope
	capacity int
	dropped  int
	closed   bool
	notify   chan struct{}
}

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of queued envelopes.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultCapacity,
		notify:   make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(q)
	}

	metrics.UpdateQueueSize(0, q.capacity)

	return q
}

// Push adds a sample, evicting the oldest queued sample when full.
func (q *InMemoryQueue) Push(ctx context.Context, s model.ForceSample) bool {
	if ctx.Err() != nil {
		return false
	}
	return q.append(Envelope{Kind: KindSample, Sample: s})
}

// PushCancel appends the cancellation sentinel.
func (q *InMemoryQueue) PushCancel(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return q.append(Envelope{Kind: KindCancel})
}

// PushEnd appends the end-of-stream marker.
func (q *InMemoryQueue) PushEnd(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return q.append(Envelope{Kind: KindEnd, Err: err})
}

func (q *InMemoryQueue) append(e Envelope) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	if len(q.buf) >= q.capacity && e.Kind == KindSample {
		if !q.evictOldestSample() {
			q.mu.Unlock()
			return false // capacity full of control envelopes; drop the newcomer
		}
	}
	q.buf = append(q.buf, e)
	size := len(q.buf)
	q.mu.Unlock()

	metrics.UpdateQueueSize(size, q.capacity)
	q.wake()
	return true
}

// evictOldestSample removes the first sample envelope, preserving control
// envelope positions. Caller holds the lock.
func (q *InMemoryQueue) evictOldestSample() bool {
	for i := range q.buf {
		if q.buf[i].Kind == KindSample {
			q.buf = append(q.buf[:i], q.buf[i+1:]...)
			q.dropped++
			metrics.RecordSamplesDropped(1)
			return true
		}
	}
	return false
}

func (q *InMemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue returns a channel delivering envelopes in order.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Envelope {
	out := make(chan Envelope)
	go func() {
		defer close(out)
		for {
			q.mu.Lock()
			if len(q.buf) > 0 {
				e := q.buf[0]
				q.buf = q.buf[1:]
				size := len(q.buf)
				q.mu.Unlock()

				metrics.UpdateQueueSize(size, q.capacity)
				select {
				case out <- e:
					continue
				case <-ctx.Done():
					return
				}
			}
			closed := q.closed
			q.mu.Unlock()

			if closed {
				return
			}
			select {
			case <-q.notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the number of queued envelopes.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped returns how many samples were evicted under backpressure.
func (q *InMemoryQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close shuts the queue down. Already-queued envelopes still drain.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.wake()
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
