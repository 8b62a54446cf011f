package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/skuscan/internal/types"
)

// FrameQueue is a fixed-capacity FIFO hand-off between one producer and one consumer.
// A full queue drops the incoming frame instead of blocking the producer.
type FrameQueue struct {
	ch chan types.Frame

	mu     sync.RWMutex
	closed bool
}

// NewFrameQueue creates a queue that holds at most capacity frames.
func NewFrameQueue(capacity int) (*FrameQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be > 0, got %d", capacity)
	}
	return &FrameQueue{ch: make(chan types.Frame, capacity)}, nil
}

// TryEnqueue adds the frame if there is room. It never blocks.
// It returns false when the queue is full or closed; the frame is then dropped.
func (q *FrameQueue) TryEnqueue(f types.Frame) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- f:
		return true
	default:
		return false
	}
}

// Dequeue blocks until a frame is available. ok is false once the queue is closed
// and drained, or when ctx is done.
func (q *FrameQueue) Dequeue(ctx context.Context) (types.Frame, bool) {
	// Prefer queued frames over a concurrent cancellation
	select {
	case f, ok := <-q.ch:
		return f, ok
	default:
	}
	select {
	case f, ok := <-q.ch:
		return f, ok
	case <-ctx.Done():
		return types.Frame{}, false
	}
}

// Close marks the end of the stream. Frames already queued remain readable.
// Safe to call more than once.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the current occupancy.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Cap returns the fixed capacity.
func (q *FrameQueue) Cap() int { return cap(q.ch) }
