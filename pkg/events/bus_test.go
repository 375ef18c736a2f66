package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewBus(0)
	s := b.Subscribe()
	defer s.Close()

	b.Publish(Event{Type: TypeDispatch, Command: "show-balance"})

	select {
	case e := <-s.C:
		if e.Command != "show-balance" || e.TS == "" {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(10)
	s := b.Subscribe()
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(Event{Type: TypeStatus})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}

	if got := len(b.Recent(0)); got != 10 {
		t.Fatalf("recent = %d, want 10", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBus(0)
	s := b.Subscribe()
	s.Close()
	s.Close()
	if b.SubscriberCount() != 0 {
		t.Fatal("subscriber still registered")
	}
	if _, ok := <-s.C; ok {
		t.Fatal("channel still open")
	}
	b.Publish(Event{Type: TypeStatus})
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: TypeStatus})
}

func TestEventJSON(t *testing.T) {
	var m map[string]any
	if err := json.Unmarshal(Event{Type: TypeError, Code: 412}.JSON(), &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "error" || m["code"].(float64) != 412 || m["ts"] == "" {
		t.Fatalf("json = %v", m)
	}
}
