package perception

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Queue is a bounded frame buffer between an ingest goroutine and the frame
// loop. It implements Source.
type Queue struct {
	ch        chan *Frame
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewQueue returns a queue holding up to depth frames.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 1
	}
	return &Queue{ch: make(chan *Frame, depth), done: make(chan struct{})}
}

// Offer enqueues f without blocking. A full queue drops f and returns false.
func (q *Queue) Offer(f *Frame) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- f:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Put enqueues f, waiting for space. Used by replay, which must not drop.
func (q *Queue) Put(ctx context.Context, f *Frame) error {
	select {
	case <-q.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- f:
		return nil
	}
}

// Next returns the next frame. After Close it drains what is buffered and
// then returns io.EOF.
func (q *Queue) Next(ctx context.Context) (*Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	default:
	}
	select {
	case f := <-q.ch:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		select {
		case f := <-q.ch:
			return f, nil
		default:
			return nil, io.EOF
		}
	}
}

// Close marks the end of input.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// Dropped returns the number of frames lost to a full queue.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
