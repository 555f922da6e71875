package progress

import (
	"testing"
	"time"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		current, total int
		want           float64
	}{
		{0, 10, 0},
		{5, 10, 50},
		{10, 10, 100},
		{12, 10, 100},
		{-1, 10, 0},
		{3, 0, 0},
	}
	for _, tt := range tests {
		if got := Percent(tt.current, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %v, want %v", tt.current, tt.total, got, tt.want)
		}
	}

	e := NewEvent("Encoding", 1, 4).WithFormat("gif").WithFile("out.gif")
	if e.Percent != 25 || e.Format != "gif" || e.File != "out.gif" {
		t.Errorf("event = %+v", e)
	}
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHubFanOut(t *testing.T) {
	h := NewHub(16)
	defer h.Close()

	a, unsubA := h.Subscribe()
	b, unsubB := h.Subscribe()
	defer unsubB()

	for i := 1; i <= 3; i++ {
		if !h.Publish(NewEvent("Encoding", i, 3)) {
			t.Fatalf("publish %d dropped", i)
		}
	}

	for _, ch := range []<-chan Event{a, b} {
		for i := 1; i <= 3; i++ {
			if e := receive(t, ch); e.Current != i {
				t.Fatalf("got current %d, want %d", e.Current, i)
			}
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Error("unsubscribed channel still open")
	}
}

func TestHubNeverBlocksProducer(t *testing.T) {
	h := NewHub(1)
	defer h.Close()
	_, unsub := h.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			h.Publish(NewEvent("Encoding", i, 10000))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}
	if h.Dropped() == 0 {
		t.Error("expected dropped events with a stalled subscriber")
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	h := NewHub(4)
	ch, unsub := h.Subscribe()
	h.Close()
	h.Close()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("subscriber channel not closed")
	}
	if h.Publish(NewEvent("x", 0, 0)) {
		t.Error("publish after close should fail")
	}
	late, _ := h.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after close should be closed")
	}
}
