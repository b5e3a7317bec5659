package appointment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/navimed/navimed/internal/platform/websocket"
)

func TestForwardToHub(t *testing.T) {
	hub := websocket.NewHub(zerolog.Nop())
	client := &websocket.Client{ID: "tab-1", Topic: Topic("metro-general"), Send: make(chan []byte, 4)}
	other := &websocket.Client{ID: "tab-2", Topic: Topic("clinic-b"), Send: make(chan []byte, 4)}
	hub.Register(client)
	hub.Register(other)

	bus := NewBus()
	stop := ForwardToHub(bus, hub, zerolog.Nop())
	defer stop()

	s := NewStore("metro-general", Options{
		Backends:  []Backend{NewMemoryBackend("memory")},
		Notifiers: []Notifier{bus},
		Logger:    zerolog.Nop(),
	})
	id, err := s.CreateAppointment(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case msg := <-client.Send:
		var event websocket.Event
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("failed to decode event: %v", err)
		}
		if event.Type != ChangeCreated || event.Key != s.Key() {
			t.Fatalf("unexpected event %+v", event)
		}
		var c Change
		if err := json.Unmarshal(event.Data, &c); err != nil {
			t.Fatalf("failed to decode change: %v", err)
		}
		if c.Record == nil || c.Record.ID != id {
			t.Fatalf("expected created record in event data, got %+v", c.Record)
		}
	case <-time.After(time.Second):
		t.Fatal("tab did not receive the change")
	}

	select {
	case <-other.Send:
		t.Fatal("another tenant's tab must not receive the change")
	default:
	}
}
