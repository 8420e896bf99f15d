package mq

import (
	"testing"
	"time"

	"github.com/campusmine/campusmine/events"
)

func TestMemoryQueuePubSub(t *testing.T) {
	q := NewMemoryQueue(2)
	ch := q.Subscribe()
	_ = q.Publish(events.SessionEvent{Type: events.SessionStarted, StudentID: "s1"})
	_ = q.Publish(events.SessionEvent{Type: events.SessionStopped, StudentID: "s2"})
	e1 := <-ch
	e2 := <-ch
	if e1.StudentID != "s1" || e1.Type != events.SessionStarted {
		t.Fatal("first event")
	}
	if e2.StudentID != "s2" || e2.Type != events.SessionStopped {
		t.Fatal("second event")
	}
	_ = q.Close()
	if err := q.Publish(events.SessionEvent{}); err != nil {
		t.Fatal("publish after close should be a no-op")
	}
}

func TestMemoryQueueFullBufferNeverBlocks(t *testing.T) {
	q := NewMemoryQueue(1)
	done := make(chan struct{})
	go func() {
		// no consumer: everything past the buffer must be dropped, and
		// Close must still go through
		for i := 0; i < 5; i++ {
			_ = q.Publish(events.SessionEvent{Type: events.SessionStarted, StudentID: "s1"})
		}
		_ = q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
	evt, ok := <-q.Subscribe()
	if !ok || evt.StudentID != "s1" {
		t.Fatal("buffered event lost")
	}
}
