package session

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// EventKind labels a lifecycle event.
type EventKind string

const (
	EventOpened           EventKind = "session_open"
	EventParticipantJoin  EventKind = "participant_join"
	EventParticipantLeave EventKind = "participant_leave"
	EventStateChange      EventKind = "state_change"
	EventClosed           EventKind = "session_close"
)

// Event is one lifecycle notification. From/To are set for state changes.
type Event struct {
	SessionID     string    `json:"session_id"`
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id,omitempty"`
	Kind          EventKind `json:"event"`
	From          State     `json:"from,omitempty"`
	To            State     `json:"to,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"timestamp"`
}

// Observer receives lifecycle events. Implementations must not block; slow
// sinks offload to their own goroutine.
type Observer interface {
	OnSessionEvent(ev Event)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnSessionEvent(Event) {}

// LogObserver writes events to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) OnSessionEvent(ev Event) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("session event",
		"event", ev.Kind,
		"session_id", ev.SessionID,
		"room_id", ev.RoomID,
		"participant_id", ev.ParticipantID,
		"from", ev.From,
		"to", ev.To,
		"reason", ev.Reason)
}

// MultiObserver fans one event out to several observers.
type MultiObserver []Observer

func (m MultiObserver) OnSessionEvent(ev Event) {
	for _, o := range m {
		if o != nil {
			o.OnSessionEvent(ev)
		}
	}
}

// WebhookObserver posts join/leave/close events to an HTTP endpoint,
// fire-and-forget. Delivery failures only log.
type WebhookObserver struct {
	url    string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookObserver builds an observer posting to url.
func NewWebhookObserver(url, apiKey string, logger *slog.Logger) *WebhookObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookObserver{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "lifecycle_webhook"),
	}
}

func (o *WebhookObserver) OnSessionEvent(ev Event) {
	switch ev.Kind {
	case EventParticipantJoin, EventParticipantLeave, EventClosed:
	default:
		return
	}
	go o.post(ev)
}

func (o *WebhookObserver) post(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		o.logger.Warn("webhook request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		o.logger.Warn("webhook delivery failed", "event", ev.Kind, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		o.logger.Warn("webhook rejected", "event", ev.Kind, "status", resp.StatusCode)
	}
}
