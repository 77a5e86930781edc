// Package notification carries user-facing success/error messages produced by
// documentation operations. Services publish NotificationRequested events on
// a Bus; sinks decide what happens to them (log line, recent-events buffer
// served over HTTP, websocket push).
package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicaldocs/internal/platform/db"
	"github.com/ehr/clinicaldocs/internal/platform/websocket"
)

// Kind classifies a notification for display.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// NotificationRequested asks the UI to show Text to the user.
type NotificationRequested struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text"`
	TenantID   string    `json:"tenant_id,omitempty"`
	Resource   string    `json:"resource,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Success builds a success notification about a resource.
func Success(resource, resourceID, text string) NotificationRequested {
	return NotificationRequested{Kind: KindSuccess, Resource: resource, ResourceID: resourceID, Text: text}
}

// Failure builds an error notification about a resource.
func Failure(resource, resourceID, text string) NotificationRequested {
	return NotificationRequested{Kind: KindError, Resource: resource, ResourceID: resourceID, Text: text}
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, n NotificationRequested)
}

// Nop discards notifications. Useful in tests and CLI commands.
type Nop struct{}

func (Nop) Publish(context.Context, NotificationRequested) {}

// Sink receives every published notification.
type Sink interface {
	Deliver(ctx context.Context, n NotificationRequested) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n NotificationRequested) error

func (f SinkFunc) Deliver(ctx context.Context, n NotificationRequested) error { return f(ctx, n) }

// Bus fans notifications out to its sinks synchronously. A failing sink is
// logged and does not stop delivery to the others or fail the publisher.
type Bus struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewBus returns a bus delivering to sinks in order.
func NewBus(logger zerolog.Logger, sinks ...Sink) *Bus {
	return &Bus{sinks: sinks, logger: logger}
}

// Publish stamps n with an id, time and (when missing) the tenant from ctx,
// then delivers it.
func (b *Bus) Publish(ctx context.Context, n NotificationRequested) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.TenantID == "" {
		n.TenantID = db.TenantFromContext(ctx)
	}
	if n.Kind == "" {
		n.Kind = KindInfo
	}
	for _, s := range b.sinks {
		if err := s.Deliver(ctx, n); err != nil {
			b.logger.Warn().Err(err).Str("notification_id", n.ID).Msg("notification sink failed")
		}
	}
}

// LogSink writes each notification as a structured log line.
func LogSink(logger zerolog.Logger) Sink {
	return SinkFunc(func(_ context.Context, n NotificationRequested) error {
		evt := logger.Info()
		if n.Kind == KindError {
			evt = logger.Warn()
		}
		evt.
			Str("type", "notification").
			Str("notification_id", n.ID).
			Str("kind", string(n.Kind)).
			Str("tenant_id", n.TenantID).
			Str("resource", n.Resource).
			Str("resource_id", n.ResourceID).
			Msg(n.Text)
		return nil
	})
}

// WebSocketSink pushes notifications to clients subscribed to the
// notifications topic of the notification's tenant.
func WebSocketSink(pub websocket.EventPublisher) Sink {
	return SinkFunc(func(ctx context.Context, n NotificationRequested) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return pub.Publish(ctx, websocket.Event{
			Type:       "notification",
			Topic:      websocket.TopicNotifications,
			TenantID:   n.TenantID,
			Resource:   n.Resource,
			ResourceID: n.ResourceID,
			Timestamp:  n.CreatedAt,
			Data:       data,
		})
	})
}

// Recent is a bounded in-memory history of notifications, newest kept.
type Recent struct {
	mu    sync.RWMutex
	items []NotificationRequested
	next  int
	full  bool
}

// NewRecent keeps the last capacity notifications across all tenants.
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = 100
	}
	return &Recent{items: make([]NotificationRequested, capacity)}
}

// Deliver implements Sink.
func (r *Recent) Deliver(_ context.Context, n NotificationRequested) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = n
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// List returns up to limit notifications of tenantID, newest first. An empty
// kind matches every kind.
func (r *Recent) List(tenantID string, kind Kind, limit int) []NotificationRequested {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.items)
	}
	out := make([]NotificationRequested, 0, min(limit, size))
	for i := 1; i <= size && len(out) < limit; i++ {
		n := r.items[(r.next-i+len(r.items))%len(r.items)]
		if n.TenantID != tenantID {
			continue
		}
		if kind != "" && n.Kind != kind {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Handler serves the recent notification history.
type Handler struct {
	recent *Recent
}

func NewHandler(recent *Recent) *Handler {
	return &Handler{recent: recent}
}

// RegisterRoutes registers GET /notifications on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.List)
}

// List handles GET /notifications?kind=&limit=.
func (h *Handler) List(c echo.Context) error {
	limit := 20
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, 100)
	}
	kind := Kind(c.QueryParam("kind"))
	switch kind {
	case "", KindSuccess, KindError, KindInfo:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be success, error or info")
	}

	tenantID, _ := c.Get("tenant_id").(string)
	items := h.recent.List(tenantID, kind, limit)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
	})
}
