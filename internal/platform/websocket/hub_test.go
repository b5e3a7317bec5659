package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newClient(id, topic string) *Client {
	return &Client{ID: id, Topic: topic, Send: make(chan []byte, sendBuffer)}
}

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Register(newClient("client-1", "appointments/metro-general"))

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("appointments/metro-general") != 1 {
		t.Fatalf("expected 1 client on topic, got %d", hub.TopicCount("appointments/metro-general"))
	}
}

func TestHub_UnregisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("client-2", "appointments/a")

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount("appointments/a") != 0 {
		t.Fatalf("expected 0 clients on topic, got %d", hub.TopicCount("appointments/a"))
	}
}

func TestHub_UnregisterClosesChannelOnce(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("close-1", "appointments/a")
	hub.Register(client)

	hub.Unregister(client)
	hub.Unregister(client)

	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	subscriber := newClient("sub-1", "appointments/a")
	other := newClient("other-1", "appointments/b")
	hub.Register(subscriber)
	hub.Register(other)

	hub.Broadcast("appointments/a", Event{
		Type:      "appointment.created",
		Topic:     "appointments/a",
		Key:       "unified_appointments:a",
		Timestamp: time.Now(),
	})

	select {
	case msg := <-subscriber.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if received.Type != "appointment.created" {
			t.Fatalf("expected appointment.created, got %s", received.Type)
		}
		if received.Key != "unified_appointments:a" {
			t.Fatalf("expected key to round-trip, got %s", received.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("client on another tenant topic should not receive event")
	default:
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Broadcast("appointments/nobody", Event{Type: "appointment.cleared"})
}

func TestHub_BroadcastSkipsFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := &Client{ID: "slow", Topic: "t", Send: make(chan []byte, 1)}
	hub.Register(slow)

	hub.Broadcast("t", Event{Type: "one"})
	done := make(chan struct{})
	go func() {
		hub.Broadcast("t", Event{Type: "two"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	if len(slow.Send) != 1 {
		t.Fatalf("expected 1 buffered message, got %d", len(slow.Send))
	}
}

func TestHub_PublishBroadcastsToEventTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("pub-1", "appointments/x")
	hub.Register(c)

	var pub EventPublisher = hub
	data := json.RawMessage(`[{"id":"unified_1_abc"}]`)
	if err := pub.Publish(context.Background(), Event{Type: "appointment.updated", Topic: "appointments/x", Data: data}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case msg := <-c.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if string(received.Data) != string(data) {
			t.Fatalf("expected data %s, got %s", data, received.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("client did not receive published event")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newClient(fmt.Sprintf("c-%d", i), "appointments/load")
			hub.Register(c)
			hub.Broadcast("appointments/load", Event{Type: "appointment.created"})
			hub.Unregister(c)
		}(i)
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after concurrent churn, got %d", hub.ClientCount())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	handler := NewHandler(NewHub(zerolog.Nop()), func(echo.Context) string { return "t" }, nil)

	e := echo.New()
	handler.RegisterRoutes(e.Group("/api/v1/appointments"))

	found := false
	for _, r := range e.Routes() {
		if r.Path == "/api/v1/appointments/ws" && r.Method == http.MethodGet {
			found = true
		}
	}
	if !found {
		t.Fatal("expected GET /api/v1/appointments/ws route to be registered")
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewHandler(hub, func(echo.Context) string { return "t" }, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
	if hub.ClientCount() != 0 {
		t.Fatal("failed upgrade must not register a client")
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewHandler(hub, func(echo.Context) string { return "t" }, []string{"http://localhost:5173"})

	e := echo.New()
	handler.RegisterRoutes(e.Group(""))
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected dial to fail for a foreign origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewHandler(hub, func(c echo.Context) string {
		return "appointments/" + c.QueryParam("tenant_id")
	}, nil)

	e := echo.New()
	handler.RegisterRoutes(e.Group(""))
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?tenant_id=clinic-1"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount("appointments/clinic-1") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not registered on its tenant topic")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast("appointments/clinic-1", Event{
		Type:      "appointment.created",
		Topic:     "appointments/clinic-1",
		Timestamp: time.Now(),
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "appointment.created" {
		t.Fatalf("expected appointment.created, got %s", received.Type)
	}
}
