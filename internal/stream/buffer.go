// Package stream maintains the websocket market-data plane: multiplexed
// exchange streams feeding unbounded FIFO buffers, listener goroutines that
// project events into the in-memory caches, and periodic stream replacement.
package stream

import "sync"

// Buffer is an unbounded FIFO of stream events. Push never blocks on a slow
// consumer; a pump goroutine shuttles events from the intake to the output
// channel, queueing the backlog in between.
type Buffer struct {
	mu     sync.Mutex
	closed bool
	in     chan Event
	out    chan Event
	done   chan struct{}
}

// NewBuffer creates a buffer and starts its pump.
func NewBuffer() *Buffer {
	b := &Buffer{
		in:   make(chan Event),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	go b.pump()
	return b
}

func (b *Buffer) pump() {
	var queue []Event
	for {
		var out chan Event
		var next Event
		if len(queue) > 0 {
			out = b.out
			next = queue[0]
		}
		select {
		case ev, ok := <-b.in:
			if !ok {
				for _, queued := range queue {
					b.out <- queued
				}
				close(b.out)
				return
			}
			queue = append(queue, ev)
		case out <- next:
			queue = queue[1:]
		}
	}
}

// Push appends one event. Events pushed after Close are dropped.
func (b *Buffer) Push(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.in <- ev
}

// Out is the consumption side; it is closed after Close once the backlog
// drains.
func (b *Buffer) Out() <-chan Event {
	return b.out
}

// Close stops the intake. Queued events remain readable from Out.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.in)
}
