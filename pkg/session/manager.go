package session

import (
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/optiflow-ai/voice-core/pkg/command"
	"github.com/optiflow-ai/voice-core/pkg/dispatch"
	"github.com/optiflow-ai/voice-core/pkg/memory"
	"github.com/optiflow-ai/voice-core/pkg/respond"
	"github.com/optiflow-ai/voice-core/pkg/room"
	"github.com/optiflow-ai/voice-core/pkg/workflow"
)

// ManagerDeps holds the collaborators shared by every session the manager
// opens. NewExecutor builds the per-owner workflow executor; NewPipeline
// (optional) builds one speech pipeline per session.
type ManagerDeps struct {
	Grammar     *command.Grammar
	Responder   respond.Responder
	Observer    Observer
	Memory      memory.Store
	NewExecutor func(owner string) workflow.Executor
	NewPipeline func() SpeechPipeline
	Logger      *slog.Logger
	Config      Config
	Now         func() time.Time
}

// Manager opens room-bound sessions with shared collaborators.
type Manager struct {
	deps   ManagerDeps
	logger *slog.Logger
}

// NewManager builds a manager. NewExecutor is required.
func NewManager(deps ManagerDeps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Grammar == nil {
		deps.Grammar = command.Default()
	}
	if deps.Responder == nil {
		deps.Responder = respond.Static{}
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{deps: deps, logger: deps.Logger}
}

// Open binds a new session to roomID. It never fails: the session starts in
// Connecting and settles into WaitingForParticipant on its own loop.
func (m *Manager) Open(roomID string, transport room.Transport) *Session {
	sessionID := "sess_" + strings.ToLower(ulid.Make().String())

	var pipeline SpeechPipeline
	if m.deps.NewPipeline != nil {
		pipeline = m.deps.NewPipeline()
	}

	s := newSession(Dependencies{
		SessionID: sessionID,
		RoomID:    roomID,
		Transport: transport,
		Pipeline:  pipeline,
		Grammar:   m.deps.Grammar,
		NewDispatcher: func(owner string) *dispatch.Dispatcher {
			return dispatch.New(m.deps.NewExecutor(owner), m.deps.Memory, m.deps.Logger)
		},
		Responder: m.deps.Responder,
		Observer:  m.deps.Observer,
		Logger:    m.deps.Logger,
		Config:    m.deps.Config,
		Now:       m.deps.Now,
	})
	go s.run()

	m.logger.Info("session opened", "session_id", sessionID, "room_id", roomID)
	return s
}
