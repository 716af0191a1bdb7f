package wire

import "context"

// FrameQueue is a single-producer/single-consumer queue of radio
// frames. It stands in for the interrupt-driven byte queues that sit
// between the radio ISR and the cooperative async engine on real
// hardware (spec.md §4.G, §5 "ISR-shared state"): the writer commits a
// frame the way the ISR commits a received packet or the application
// commits a TX grant, and the single reader waits for the next one the
// way the async task awaits a grant.
type FrameQueue struct {
	ch chan Frame
}

// NewFrameQueue allocates a queue with room for capacity in-flight
// frames before a writer blocks.
func NewFrameQueue(capacity int) *FrameQueue {
	return &FrameQueue{ch: make(chan Frame, capacity)}
}

// Commit hands a frame to the single reader, blocking if the queue is
// full.
func (q *FrameQueue) Commit(ctx context.Context, f Frame) error {
	select {
	case q.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Grant waits for the next committed frame.
func (q *FrameQueue) Grant(ctx context.Context) (Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}
