package mq

import (
	"sync"

	"github.com/campusmine/campusmine/events"
)

// MemoryQueue is the in-process queue used when no broker is configured.
type MemoryQueue struct {
	mu     sync.RWMutex
	ch     chan events.SessionEvent
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{ch: make(chan events.SessionEvent, size)}
}

// Publish never blocks: after Close, or when the buffer is full with no
// consumer draining it, the event is dropped. The commit behind it is
// already durable and the next broadcast tick re-reads ground truth.
func (q *MemoryQueue) Publish(evt events.SessionEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil
	}
	select {
	case q.ch <- evt:
	default:
	}
	return nil
}

func (q *MemoryQueue) Subscribe() <-chan events.SessionEvent {
	return q.ch
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
