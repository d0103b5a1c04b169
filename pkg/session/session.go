// Package session binds a communication room to one agent session: a state
// machine, a strict FIFO event loop, and the routing between envelopes, the
// speech pipeline, the command grammar, and the dispatcher.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/optiflow-ai/voice-core/pkg/command"
	"github.com/optiflow-ai/voice-core/pkg/dispatch"
	"github.com/optiflow-ai/voice-core/pkg/memory"
	"github.com/optiflow-ai/voice-core/pkg/protocol"
	"github.com/optiflow-ai/voice-core/pkg/respond"
	"github.com/optiflow-ai/voice-core/pkg/room"
	"github.com/optiflow-ai/voice-core/pkg/speech"
	"github.com/optiflow-ai/voice-core/pkg/speech/stt"
	"github.com/optiflow-ai/voice-core/pkg/workflow"
)

// State is the session lifecycle position. Closed is terminal.
type State string

const (
	StateConnecting            State = "connecting"
	StateWaitingForParticipant State = "waiting_for_participant"
	StateActive                State = "active"
	StateDraining              State = "draining"
	StateClosed                State = "closed"
)

// ErrSessionClosed is returned for any operation on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Error codes used in error envelopes emitted by the session.
const (
	CodeSessionClosed        = "SessionClosed"
	CodeSpeechBackendFailure = "SpeechBackendFailure"
	CodeParticipantExists    = "ParticipantExists"
)

// DefaultGreeting is spoken when a participant joins.
const DefaultGreeting = "Hi! I'm Jarvis, your workflow assistant. How can I help you today?"

const (
	DefaultIdleTimeout = 5 * time.Minute
	DefaultDrainGrace  = 10 * time.Second
)

// Config tunes one session's behavior.
type Config struct {
	IdleTimeout      time.Duration
	DrainGrace       time.Duration
	HistoryCapacity  int
	WaitForReconnect bool
	Greeting         string
	MaxAudioFPS      int
	MaxAudioBPS      int64
	BurstSeconds     int
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = DefaultDrainGrace
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = workflow.DefaultHistoryCapacity
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	return c
}

// SpeechPipeline is the session's view of its speech adaptation. Satisfied
// by *speech.Pipeline; tests substitute fakes.
type SpeechPipeline interface {
	Start(ctx context.Context) error
	PushFrame(frame []byte) error
	Say(ctx context.Context, text string, opts speech.SayOpts) error
	Events() <-chan stt.TranscriptDelta
	Audio() <-chan []byte
	Failures() <-chan speech.Failure
	Close() error
}

// Dependencies wires one session. Pipeline, Responder, and Observer are
// optional.
type Dependencies struct {
	SessionID     string
	RoomID        string
	Transport     room.Transport
	Pipeline      SpeechPipeline
	Grammar       *command.Grammar
	NewDispatcher func(owner string) *dispatch.Dispatcher
	Responder     respond.Responder
	Observer      Observer
	Logger        *slog.Logger
	Config        Config
	Now           func() time.Time
}

type inboundEvent struct {
	env              *protocol.Envelope
	join             *protocol.ConfigData
	leave            bool
	closeReason      string
	disconnectReason string
}

type loopResult struct {
	env   protocol.Envelope
	say   string
	graph bool
}

// Session is one room-bound agent session. All handlers funnel into a single
// event loop goroutine; no two handlers for one session run concurrently.
type Session struct {
	id        string
	roomID    string
	cfg       Config
	logger    *slog.Logger
	transport room.Transport
	pipeline  SpeechPipeline
	grammar   *command.Grammar
	newDisp   func(owner string) *dispatch.Dispatcher
	responder respond.Responder
	observer  Observer
	now       func() time.Time

	ledger     *workflow.Ledger
	dispatcher *dispatch.Dispatcher
	limiter    *audioLimiter

	participantID string
	scope         memory.Scope
	pipelineUp    bool
	inflight      int
	disconnected  bool

	state atomic.Value // State

	ctx     context.Context
	cancel  context.CancelFunc
	inbound chan inboundEvent
	results chan loopResult
	done    chan struct{}
}

func newSession(deps Dependencies) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
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
	cfg := deps.Config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        deps.SessionID,
		roomID:    deps.RoomID,
		cfg:       cfg,
		logger:    deps.Logger.With("component", "session", "session_id", deps.SessionID, "room_id", deps.RoomID),
		transport: deps.Transport,
		pipeline:  deps.Pipeline,
		grammar:   deps.Grammar,
		newDisp:   deps.NewDispatcher,
		responder: deps.Responder,
		observer:  deps.Observer,
		now:       deps.Now,
		ledger:    workflow.NewLedger(cfg.HistoryCapacity),
		limiter:   newAudioLimiter(deps.Now, cfg.MaxAudioFPS, cfg.MaxAudioBPS, cfg.BurstSeconds),
		ctx:       ctx,
		cancel:    cancel,
		inbound:   make(chan inboundEvent, 64),
		results:   make(chan loopResult, 16),
		done:      make(chan struct{}),
	}
	s.state.Store(StateConnecting)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// RoomID returns the bound room.
func (s *Session) RoomID() string { return s.roomID }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state.Load().(State) }

// Ledger exposes the session's history for undo/redo inspection.
func (s *Session) Ledger() *workflow.Ledger { return s.ledger }

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// HandleParticipantJoin admits a participant. A second join while one is
// active is rejected on the wire.
func (s *Session) HandleParticipantJoin(participantID string) error {
	return s.enqueue(inboundEvent{join: &protocol.ConfigData{ParticipantID: participantID}})
}

// HandleParticipantLeave reports the active participant leaving.
func (s *Session) HandleParticipantLeave() error {
	return s.enqueue(inboundEvent{leave: true})
}

// HandleEnvelope feeds one decoded envelope into the session.
func (s *Session) HandleEnvelope(env protocol.Envelope) error {
	return s.enqueue(inboundEvent{env: &env})
}

// HandleDisconnect reports the room transport dropping. In-flight dispatches
// finish within the drain grace with their side effects intact; the results
// have nowhere to go and are discarded.
func (s *Session) HandleDisconnect(reason string) error {
	if reason == "" {
		reason = "room disconnected"
	}
	err := s.enqueue(inboundEvent{disconnectReason: reason})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// Close moves the session to Closed immediately. Idempotent.
func (s *Session) Close(reason string) error {
	if reason == "" {
		reason = "closed"
	}
	err := s.enqueue(inboundEvent{closeReason: reason})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

func (s *Session) enqueue(ev inboundEvent) error {
	select {
	case <-s.done:
		return s.rejectClosed(ev)
	default:
	}
	select {
	case <-s.done:
		return s.rejectClosed(ev)
	case s.inbound <- ev:
		return nil
	}
}

func (s *Session) rejectClosed(ev inboundEvent) error {
	if ev.env != nil {
		s.logger.Info("envelope dropped after close", "type", ev.env.Type)
	}
	return ErrSessionClosed
}

func (s *Session) run() {
	defer close(s.done)
	defer s.teardown()

	s.emit(EventOpened, "", "")
	s.setState(StateWaitingForParticipant, "opened")

	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	var drainC <-chan time.Time
	closeReason := "closed"

	events, failures := s.pipelineChannels()

	for {
		select {
		case ev := <-s.inbound:
			switch {
			case ev.closeReason != "":
				s.setState(StateClosed, ev.closeReason)
				return
			case ev.join != nil:
				s.resetIdle(idle)
				s.handleJoin(*ev.join)
			case ev.leave:
				if done, c, reason := s.handleLeave(closeReason, drainC); done {
					drainC, closeReason = c, reason
					if drainC == nil {
						return
					}
				}
			case ev.disconnectReason != "":
				if done, c, reason := s.handleDisconnect(ev.disconnectReason, closeReason, drainC); done {
					drainC, closeReason = c, reason
					if drainC == nil {
						return
					}
				}
			case ev.env != nil:
				s.resetIdle(idle)
				s.routeEnvelope(*ev.env)
			}

		case delta, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.resetIdle(idle)
			s.handleTranscript(delta)

		case failure, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			s.logger.Warn("speech backend failure", "stage", failure.Stage, "error", failure.Err)
			s.send(protocol.NewError(CodeSpeechBackendFailure, failure.Stage+" backend failure"))

		case res := <-s.results:
			s.inflight--
			s.deliver(res)
			if s.State() == StateDraining && s.inflight == 0 {
				s.setState(StateClosed, closeReason)
				return
			}

		case <-idle.C:
			if s.State() == StateDraining {
				continue
			}
			closeReason = "idle_timeout"
			if s.inflight == 0 {
				s.setState(StateClosed, closeReason)
				return
			}
			s.setState(StateDraining, closeReason)
			drainC = time.After(s.cfg.DrainGrace)

		case <-drainC:
			s.setState(StateClosed, closeReason)
			return
		}
	}
}

// handleLeave returns (true, drainChannel, reason) when the leave changed
// lifecycle; a nil drain channel means the session closed outright.
func (s *Session) handleLeave(closeReason string, drainC <-chan time.Time) (bool, <-chan time.Time, string) {
	if s.State() != StateActive {
		return false, drainC, closeReason
	}
	s.emit(EventParticipantLeave, "", "participant_left")
	if s.cfg.WaitForReconnect {
		s.participantID = ""
		s.setState(StateWaitingForParticipant, "participant_left")
		return false, drainC, closeReason
	}
	reason := "participant_left"
	if s.inflight == 0 {
		s.setState(StateClosed, reason)
		return true, nil, reason
	}
	s.setState(StateDraining, reason)
	return true, time.After(s.cfg.DrainGrace), reason
}

// handleDisconnect mirrors handleLeave for transport loss. The session
// context stays alive until Closed so in-flight executor and action-proxy
// calls run to completion inside the grace window.
func (s *Session) handleDisconnect(reason, closeReason string, drainC <-chan time.Time) (bool, <-chan time.Time, string) {
	s.disconnected = true
	if s.State() == StateDraining {
		return false, drainC, closeReason
	}
	if s.inflight == 0 {
		s.setState(StateClosed, reason)
		return true, nil, reason
	}
	s.setState(StateDraining, reason)
	return true, time.After(s.cfg.DrainGrace), reason
}

func (s *Session) handleJoin(cfg protocol.ConfigData) {
	switch s.State() {
	case StateActive:
		s.logger.Warn("second participant rejected", "participant_id", cfg.ParticipantID)
		s.send(protocol.NewError(CodeParticipantExists, "session already has a participant"))
		return
	case StateWaitingForParticipant:
	default:
		s.logger.Info("join ignored", "state", s.State())
		return
	}

	s.participantID = cfg.ParticipantID
	s.scope = memory.Scope{Kind: memory.ScopeUser, ID: cfg.ParticipantID}
	if kind, err := memory.ParseScopeKind(cfg.Scope); err == nil && cfg.ScopeID != "" {
		s.scope = memory.Scope{Kind: kind, ID: cfg.ScopeID}
	}
	if s.newDisp != nil {
		s.dispatcher = s.newDisp(cfg.ParticipantID)
	}

	s.startPipeline()
	s.setState(StateActive, "participant_joined")
	s.emit(EventParticipantJoin, cfg.ParticipantID, "")

	// Greeting failures never block the transition.
	s.say(s.cfg.Greeting, speech.SayOpts{})
	s.send(protocol.NewAgentResponse(s.cfg.Greeting, true))
}

func (s *Session) startPipeline() {
	if s.pipeline == nil || s.pipelineUp {
		return
	}
	if err := s.pipeline.Start(s.ctx); err != nil {
		s.logger.Warn("speech pipeline start failed", "error", err)
		s.send(protocol.NewError(CodeSpeechBackendFailure, "speech unavailable"))
		return
	}
	s.pipelineUp = true
	go s.forwardAudio()
}

func (s *Session) forwardAudio() {
	for frame := range s.pipeline.Audio() {
		if err := s.transport.SendAudio(frame); err != nil {
			if errors.Is(err, room.ErrBackpressure) {
				s.logger.Warn("audio frame dropped, outbound backpressure")
				continue
			}
			return
		}
	}
}

func (s *Session) routeEnvelope(env protocol.Envelope) {
	if env.Type == protocol.TypeConfig {
		if payload, err := env.Payload(); err == nil {
			cfg := payload.(protocol.ConfigData)
			s.handleJoin(cfg)
		}
		return
	}
	if env.Type == protocol.TypePing {
		s.send(protocol.Pong(env))
		return
	}
	if s.State() != StateActive {
		s.logger.Debug("envelope ignored", "type", env.Type, "state", s.State())
		return
	}

	switch env.Type {
	case protocol.TypeAudio:
		payload, err := env.Payload()
		if err != nil {
			s.logger.Debug("bad audio payload", "error", err)
			return
		}
		s.handleAudio(payload.(protocol.AudioData))
	case protocol.TypeText:
		payload, err := env.Payload()
		if err != nil {
			return
		}
		s.handleUtterance(payload.(protocol.TextData).Text)
	case protocol.TypeTranscription:
		payload, err := env.Payload()
		if err != nil {
			return
		}
		data := payload.(protocol.TranscriptionData)
		if data.IsFinal {
			s.handleUtterance(data.Text)
		}
	default:
		s.logger.Debug("envelope ignored", "type", env.Type)
	}
}

func (s *Session) handleAudio(data protocol.AudioData) {
	frame, err := base64.StdEncoding.DecodeString(data.FrameB64)
	if err != nil {
		s.logger.Debug("bad audio frame encoding", "seq", data.Seq)
		return
	}
	if !s.limiter.allow(len(frame)) {
		s.logger.Debug("audio frame dropped, rate limited", "seq", data.Seq)
		return
	}
	if !s.pipelineUp {
		s.logger.Debug("audio frame dropped, no speech pipeline")
		return
	}
	if err := s.pipeline.PushFrame(frame); err != nil {
		s.logger.Warn("push frame failed", "error", err)
	}
}

func (s *Session) handleTranscript(delta stt.TranscriptDelta) {
	s.send(protocol.NewTranscription(delta.Text, delta.IsFinal, delta.Confidence))
	if delta.IsFinal && s.State() == StateActive {
		s.handleUtterance(delta.Text)
	}
}

func (s *Session) handleUtterance(text string) {
	if s.handleHistoryIntent(text) {
		return
	}

	cmd, ok := s.grammar.Parse(text)
	if !ok {
		s.dispatchFallback(text)
		return
	}
	if s.dispatcher == nil {
		s.logger.Warn("command before participant join", "kind", cmd.Kind)
		return
	}

	sessCtx := dispatch.SessionContext{
		SessionID:     s.id,
		RoomID:        s.roomID,
		ParticipantID: s.participantID,
		Transcript:    text,
		Scope:         s.scope,
		Ledger:        s.ledger,
	}
	correlationID := uuid.NewString()
	s.inflight++
	go func() {
		env := s.dispatcher.Dispatch(s.ctx, sessCtx, cmd)
		env.CorrelationID = correlationID

		res := loopResult{env: env}
		if env.Type == protocol.TypeAgentResponse {
			if payload, err := env.Payload(); err == nil {
				res.say = payload.(protocol.AgentResponseData).Text
			}
			res.graph = cmd.MutatesGraph() || cmd.Kind == command.KindLoadWorkflow
		}
		select {
		case s.results <- res:
		case <-s.done:
		}
	}()
}

// handleHistoryIntent services undo/redo against the session's ledger
// before grammar dispatch.
func (s *Session) handleHistoryIntent(text string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.TrimRight(norm, ".!?")
	switch norm {
	case "undo", "undo that", "undo last change":
		if _, ok := s.ledger.Undo(); ok {
			s.say("Undone.", speech.SayOpts{BargeIn: true})
			s.send(protocol.NewAgentResponse("Undone.", true))
			s.sendGraph()
		} else {
			s.say("Nothing to undo.", speech.SayOpts{})
			s.send(protocol.NewAgentResponse("Nothing to undo.", true))
		}
		return true
	case "redo", "redo that":
		if _, ok := s.ledger.Redo(); ok {
			s.say("Redone.", speech.SayOpts{BargeIn: true})
			s.send(protocol.NewAgentResponse("Redone.", true))
			s.sendGraph()
		} else {
			s.say("Nothing to redo.", speech.SayOpts{})
			s.send(protocol.NewAgentResponse("Nothing to redo.", true))
		}
		return true
	}
	return false
}

func (s *Session) dispatchFallback(text string) {
	s.inflight++
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
		defer cancel()
		reply, err := s.responder.Reply(ctx, text, nil)
		if err != nil {
			s.logger.Warn("fallback responder failed", "error", err)
			reply = respond.DefaultClarification
		}
		res := loopResult{env: protocol.NewAgentResponse(reply, true), say: reply}
		select {
		case s.results <- res:
		case <-s.done:
		}
	}()
}

func (s *Session) deliver(res loopResult) {
	if s.State() == StateClosed || s.disconnected {
		return
	}
	s.send(res.env)
	if res.say != "" {
		s.say(res.say, speech.SayOpts{})
	}
	if res.graph {
		s.sendGraph()
	}
}

func (s *Session) sendGraph() {
	raw, err := json.Marshal(s.ledger.Current().Graph)
	if err != nil {
		return
	}
	env, err := protocol.New(protocol.TypeWorkflow, protocol.WorkflowData{Graph: raw})
	if err != nil {
		return
	}
	s.send(env)
}

func (s *Session) send(env protocol.Envelope) {
	if err := s.transport.Send(env); err != nil {
		s.logger.Warn("send failed", "type", env.Type, "error", err)
	}
}

func (s *Session) say(text string, opts speech.SayOpts) {
	if !s.pipelineUp {
		return
	}
	if err := s.pipeline.Say(s.ctx, text, opts); err != nil {
		s.logger.Warn("say failed", "error", err)
	}
}

func (s *Session) pipelineChannels() (<-chan stt.TranscriptDelta, <-chan speech.Failure) {
	if s.pipeline == nil {
		return nil, nil
	}
	return s.pipeline.Events(), s.pipeline.Failures()
}

func (s *Session) resetIdle(idle *time.Timer) {
	if !idle.Stop() {
		select {
		case <-idle.C:
		default:
		}
	}
	idle.Reset(s.cfg.IdleTimeout)
}

func (s *Session) setState(to State, reason string) {
	from := s.State()
	if from == to || from == StateClosed {
		return
	}
	s.state.Store(to)
	s.logger.Info("state change", "from", from, "to", to, "reason", reason)
	s.observer.OnSessionEvent(Event{
		SessionID:     s.id,
		RoomID:        s.roomID,
		ParticipantID: s.participantID,
		Kind:          EventStateChange,
		From:          from,
		To:            to,
		Reason:        reason,
		At:            s.now(),
	})
	if to == StateClosed {
		s.emit(EventClosed, "", reason)
	}
}

func (s *Session) emit(kind EventKind, participantID, reason string) {
	if participantID == "" {
		participantID = s.participantID
	}
	s.observer.OnSessionEvent(Event{
		SessionID:     s.id,
		RoomID:        s.roomID,
		ParticipantID: participantID,
		Kind:          kind,
		Reason:        reason,
		At:            s.now(),
	})
}

func (s *Session) teardown() {
	s.cancel()
	if s.pipeline != nil {
		if err := s.pipeline.Close(); err != nil {
			s.logger.Debug("pipeline close", "error", err)
		}
	}
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("transport close", "error", err)
	}
}
