package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/optiflow-ai/voice-core/pkg/session"
	"github.com/optiflow-ai/voice-core/pkg/workflow/store"
)

// auditObserver records one row per session lifetime in the workflow store.
type auditObserver struct {
	store  *store.Store
	logger *slog.Logger

	mu   sync.Mutex
	open map[string]*store.SessionAudit
}

func newAuditObserver(st *store.Store, logger *slog.Logger) *auditObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &auditObserver{
		store:  st,
		logger: logger.With("component", "audit"),
		open:   make(map[string]*store.SessionAudit),
	}
}

func (a *auditObserver) OnSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventOpened:
		a.mu.Lock()
		a.open[ev.SessionID] = &store.SessionAudit{
			SessionID: ev.SessionID,
			RoomID:    ev.RoomID,
			OpenedAt:  ev.At,
		}
		a.mu.Unlock()
	case session.EventParticipantJoin:
		a.mu.Lock()
		if rec := a.open[ev.SessionID]; rec != nil {
			rec.ParticipantID = ev.ParticipantID
		}
		a.mu.Unlock()
	case session.EventClosed:
		a.mu.Lock()
		rec := a.open[ev.SessionID]
		delete(a.open, ev.SessionID)
		a.mu.Unlock()
		if rec == nil {
			return
		}
		rec.Reason = ev.Reason
		rec.ClosedAt = ev.At

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.store.RecordSessionAudit(ctx, *rec); err != nil {
				a.logger.Warn("session audit write failed", "session_id", rec.SessionID, "error", err)
			}
		}()
	}
}
