package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiflow-ai/voice-core/pkg/session"
	"github.com/optiflow-ai/voice-core/pkg/workflow/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAuditObserverRecordsFullLifetime(t *testing.T) {
	st := openTestStore(t)
	obs := newAuditObserver(st, nil)

	opened := time.Now().Add(-time.Minute)
	obs.OnSessionEvent(session.Event{Kind: session.EventOpened, SessionID: "sess_1", RoomID: "room-1", At: opened})
	obs.OnSessionEvent(session.Event{Kind: session.EventParticipantJoin, SessionID: "sess_1", RoomID: "room-1", ParticipantID: "user-1", At: opened})
	obs.OnSessionEvent(session.Event{Kind: session.EventClosed, SessionID: "sess_1", RoomID: "room-1", Reason: "idle timeout", At: time.Now()})

	require.Eventually(t, func() bool {
		audits, err := st.SessionAuditsForRoom(context.Background(), "room-1")
		return err == nil && len(audits) == 1
	}, 2*time.Second, 10*time.Millisecond)

	audits, err := st.SessionAuditsForRoom(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "sess_1", audits[0].SessionID)
	assert.Equal(t, "user-1", audits[0].ParticipantID)
	assert.Equal(t, "idle timeout", audits[0].Reason)
}

func TestAuditObserverIgnoresUnknownClose(t *testing.T) {
	st := openTestStore(t)
	obs := newAuditObserver(st, nil)

	obs.OnSessionEvent(session.Event{Kind: session.EventClosed, SessionID: "sess_x", RoomID: "room-x", At: time.Now()})

	time.Sleep(50 * time.Millisecond)
	audits, err := st.SessionAuditsForRoom(context.Background(), "room-x")
	require.NoError(t, err)
	assert.Empty(t, audits)
}
