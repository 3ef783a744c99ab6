package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishTargetsOwningUser(t *testing.T) {
	hub := testHub()
	alice := NewClient(hub, nil, 1)
	bob := NewClient(hub, nil, 2)
	hub.Register(alice)
	hub.Register(bob)

	hub.Publish(Event{Type: TypeUsageReserved, UserID: 1, Resource: "generation", Used: 3, Limit: 10})

	select {
	case data := <-alice.send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Type != TypeUsageReserved || ev.UserID != 1 || ev.Used != 3 {
			t.Errorf("event = %+v", ev)
		}
		if ev.At.IsZero() {
			t.Error("published event should carry a timestamp")
		}
	default:
		t.Fatal("alice should have received the event")
	}

	select {
	case <-bob.send:
		t.Fatal("bob must not receive alice's events")
	default:
	}
}

func TestPublishToAllConnectionsOfUser(t *testing.T) {
	hub := testHub()
	tab1 := NewClient(hub, nil, 1)
	tab2 := NewClient(hub, nil, 1)
	hub.Register(tab1)
	hub.Register(tab2)

	hub.Publish(Event{Type: TypePlanChanged, UserID: 1, Plan: "creator"})

	for i, c := range []*Client{tab1, tab2} {
		select {
		case <-c.send:
		default:
			t.Errorf("connection %d should have received the event", i)
		}
	}
}

func TestPublishOnNilHub(t *testing.T) {
	var hub *Hub
	// Must not panic; services publish without guarding the wiring.
	hub.Publish(Event{Type: TypeQuotaDenied, UserID: 1})
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	hub := testHub()
	c := NewClient(hub, nil, 1)
	hub.Register(c)

	for i := 0; i < sendBufferSize+5; i++ {
		hub.Publish(Event{Type: TypeUsageReserved, UserID: 1, Used: i})
	}

	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered = %d, want %d (overflow is dropped, not blocking)", got, sendBufferSize)
	}
}

func TestUnregister(t *testing.T) {
	hub := testHub()
	c := NewClient(hub, nil, 1)
	hub.Register(c)
	if hub.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(c)
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", hub.ClientCount())
	}

	// A second unregister is a no-op, not a double close.
	hub.Unregister(c)

	hub.Publish(Event{Type: TypeUsageReserved, UserID: 1})
}
