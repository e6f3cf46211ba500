package logging

import (
	"testing"
	"time"
)

func TestHubBroadcast(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe(1)
	defer cancel()

	entry := LogEntry{Message: "hello"}
	h.broadcast(entry)

	select {
	case got := <-ch:
		if got.Message != "hello" {
			t.Fatalf("expected message hello, got %q", got.Message)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out waiting for log entry")
	}
}

func TestHubSubscriberCount(t *testing.T) {
	h := newHub()
	if h.count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", h.count())
	}
	_, cancelA := h.subscribe(1)
	_, cancelB := h.subscribe(1)
	if h.count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", h.count())
	}
	cancelA()
	cancelB()
	if h.count() != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", h.count())
	}
}

func TestHubClose(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe(1)
	cancel()
	h.close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel closed")
		}
	default:
	}
}
