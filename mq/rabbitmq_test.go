package mq

import (
	"os"
	"testing"
	"time"

	"github.com/campusmine/campusmine/events"
)

func TestRabbit(t *testing.T) {
	url := os.Getenv("CM_MQ_URL")
	if url == "" {
		t.Skip("MQ URL not provided")
	}
	r, err := NewRabbitMQ(url, "campusmine_test")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ch := r.Subscribe()
	_ = r.Publish(events.SessionEvent{Type: events.SessionStarted, StudentID: "s1", Time: time.Now()})
	_ = r.Publish(events.SessionEvent{Type: events.SessionStopped, StudentID: "s2", Time: time.Now()})
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}
