// Package unboundedchan is a queue between a producer that must never block
// and a consumer of unpredictable speed.
package unboundedchan

import "sync/atomic"

// UnboundedChannel represents a queue, but data are entered and removed via channels.
// With a positive limit, the oldest queued item is dropped to make room once
// the queue holds limit items; Dropped counts them.
// Beware! You almost certainly want T to be a primitive type; use pointers for large objects.
type UnboundedChannel[T any] struct {
	in      chan T
	out     chan T
	queue   []T
	limit   int
	dropped atomic.Int64
}

// NewUnboundedChannel creates and initializes an UnboundedChannel with no limit.
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	return NewLimitedChannel[T](0)
}

// NewLimitedChannel creates a channel that queues at most limit items (0 for no limit).
func NewLimitedChannel[T any](limit int) *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:    make(chan T),
		out:   make(chan T),
		queue: make([]T, 0),
		limit: limit,
	}
	go uc.run()
	return uc
}

func (uc *UnboundedChannel[T]) push(val T) {
	if uc.limit > 0 && len(uc.queue) >= uc.limit {
		uc.queue = uc.queue[1:]
		uc.dropped.Add(1)
	}
	uc.queue = append(uc.queue, val)
}

func (uc *UnboundedChannel[T]) run() {
	for {
		if len(uc.queue) == 0 {
			// If queue is empty, only listen for new incoming data
			val, ok := <-uc.in
			if !ok {
				close(uc.out)
				return
			}
			uc.push(val)
		} else {
			// If queue has data, try to send it and also listen for new incoming data
			select {
			case uc.out <- uc.queue[0]:
				uc.queue = uc.queue[1:] // Remove the sent item
			case val, ok := <-uc.in:
				if !ok {
					// When the input channel is closed, send all data currently in the queue, then close the output.
					for _, item := range uc.queue {
						uc.out <- item
					}
					close(uc.out)
					return
				}
				uc.push(val)
			}
		}
	}
}

// In returns the input channel for sending data
func (uc *UnboundedChannel[T]) In() chan<- T {
	return uc.in
}

// Out returns the output channel for receiving data
func (uc *UnboundedChannel[T]) Out() <-chan T {
	return uc.out
}

// Dropped is the number of items discarded because the queue was at its limit.
func (uc *UnboundedChannel[T]) Dropped() int64 {
	return uc.dropped.Load()
}
