package websocket

import (
	"context"
	"encoding/json"
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

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("invalid event JSON: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("expected no event, got %s", data)
	default:
	}
}

func TestHub_RegisterClient(t *testing.T) {
	hub := newTestHub()
	client := NewClient("clinic_1")

	hub.Register(client, TopicNotifications)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("clinic_1", TopicNotifications) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount("clinic_1", TopicNotifications))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := newTestHub()
	client := NewClient("clinic_1")
	hub.Register(client, TopicNotifications)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount("clinic_1", TopicNotifications) != 0 {
		t.Fatal("expected topic to be cleaned up")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel to be closed")
	}

	// A second unregister is a no-op.
	hub.Unregister(client)
}

func TestHub_BroadcastIsTenantScoped(t *testing.T) {
	hub := newTestHub()
	a := NewClient("clinic_a")
	b := NewClient("clinic_b")
	hub.Register(a, TopicNotifications)
	hub.Register(b, TopicNotifications)

	hub.Broadcast(Event{Type: "notification", Topic: TopicNotifications, TenantID: "clinic_a", Resource: "note-sections"})

	evt := receive(t, a)
	if evt.Resource != "note-sections" || evt.TenantID != "clinic_a" {
		t.Errorf("unexpected event %+v", evt)
	}
	expectNothing(t, b)
}

func TestHub_BroadcastOnlyToTopic(t *testing.T) {
	hub := newTestHub()
	subscribed := NewClient("t")
	other := NewClient("t")
	hub.Register(subscribed, TopicNotifications)
	hub.Register(other, "templates")

	hub.Broadcast(Event{Topic: TopicNotifications, TenantID: "t"})

	receive(t, subscribed)
	expectNothing(t, other)
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := newTestHub()
	hub.Broadcast(Event{Topic: "nobody", TenantID: "t"})
}

func TestHub_FullQueueDropsEvent(t *testing.T) {
	hub := newTestHub()
	client := &Client{ID: "slow", TenantID: "t", Send: make(chan []byte, 1)}
	hub.Register(client, TopicNotifications)

	hub.Broadcast(Event{Topic: TopicNotifications, TenantID: "t", ResourceID: "1"})
	hub.Broadcast(Event{Topic: TopicNotifications, TenantID: "t", ResourceID: "2"})

	if evt := receive(t, client); evt.ResourceID != "1" {
		t.Errorf("expected first event kept, got %q", evt.ResourceID)
	}
	expectNothing(t, client)
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := newTestHub()
	client := NewClient("t")
	hub.Register(client)

	hub.Subscribe(client, []string{"a", "b", "a", " "})
	if got := hub.Topics(client); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b], got %v", got)
	}

	hub.Unsubscribe(client, []string{"a"})
	if got := hub.Topics(client); len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected [b], got %v", got)
	}
	if hub.TopicCount("t", "a") != 0 {
		t.Error("expected topic a to be empty")
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := newTestHub()
	client := NewClient("t")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicNotifications}})
	if hub.TopicCount("t", TopicNotifications) != 1 {
		t.Fatal("expected subscription")
	}
	hub.ProcessMessage(client, ClientMessage{Action: "bogus", Topics: []string{"x"}})
	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{TopicNotifications}})
	if hub.TopicCount("t", TopicNotifications) != 0 {
		t.Fatal("expected unsubscription")
	}
}

func TestHub_PublishSetsTimestamp(t *testing.T) {
	hub := newTestHub()
	client := NewClient("t")
	hub.Register(client, TopicNotifications)

	var pub EventPublisher = hub
	if err := pub.Publish(context.Background(), Event{Topic: TopicNotifications, TenantID: "t"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt := receive(t, client); evt.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient("t")
			hub.Register(c, TopicNotifications)
			hub.Broadcast(Event{Topic: TopicNotifications, TenantID: "t"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHandler(newTestHub(), nil)
	if err := h.HandleConnect(c); err == nil {
		t.Error("expected error for non-websocket request")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := newTestHub()
	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("tenant_id", "clinic_1")
			return next(c)
		}
	})
	NewHandler(hub, []string{"*"}).RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount("clinic_1", TopicNotifications) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount("clinic_1", TopicNotifications) != 1 {
		t.Fatal("expected default notifications subscription")
	}

	hub.Broadcast(Event{Type: "notification", Topic: TopicNotifications, TenantID: "clinic_1", ResourceID: "s-1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if evt.ResourceID != "s-1" || evt.Type != "notification" {
		t.Errorf("unexpected event %+v", evt)
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	e := echo.New()
	NewHandler(newTestHub(), []string{"https://admin.example"}).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected handshake to fail for foreign origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}
