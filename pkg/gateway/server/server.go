// Package server exposes the voice gateway over HTTP: a health probe and a
// per-room websocket endpoint that binds each connection to an agent
// session.
package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/optiflow-ai/voice-core/pkg/gateway/config"
	"github.com/optiflow-ai/voice-core/pkg/gateway/sessions"
	"github.com/optiflow-ai/voice-core/pkg/protocol"
	"github.com/optiflow-ai/voice-core/pkg/room"
	"github.com/optiflow-ai/voice-core/pkg/session"
)

// Server routes room connections into sessions.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	mux     *http.ServeMux
	manager *session.Manager
	tracker *sessions.Tracker
}

// New builds the HTTP surface around a session manager.
func New(cfg config.Config, manager *session.Manager, tracker *sessions.Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		mux:     http.NewServeMux(),
		manager: manager,
		tracker: tracker,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /v1/rooms/{roomID}/ws", s.handleRoom)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.tracker.Count(),
	})
}

// handleRoom upgrades the connection and runs the read side until the room
// disconnects. Text frames are envelopes; binary frames are raw audio.
func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "room_id", roomID, "error", err)
		return
	}
	if s.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	transport := room.NewWebsocket(conn, room.WriterConfig{
		QueueSize: s.cfg.OutboundQueueSize,
	}, s.logger)

	sess := s.manager.Open(roomID, transport)
	unregister := s.tracker.Register(sess.ID(), sess)
	go func() {
		<-sess.Done()
		unregister()
	}()

	s.readLoop(conn, sess)
}

func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("room read ended", "session_id", sess.ID(), "error", err)
			}
			_ = sess.HandleDisconnect("room disconnected")
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			env, err := protocol.New(protocol.TypeAudio, protocol.AudioData{
				FrameB64: base64.StdEncoding.EncodeToString(data),
			})
			if err != nil {
				continue
			}
			if err := sess.HandleEnvelope(env); err != nil {
				s.closeForSession(conn, sess, err)
				return
			}
		case websocket.TextMessage:
			env, err := protocol.Decode(data)
			if err != nil {
				var decodeErr *protocol.DecodeError
				if errors.As(err, &decodeErr) {
					s.logger.Debug("bad envelope", "session_id", sess.ID(), "code", decodeErr.Code, "param", decodeErr.Param)
				}
				continue
			}
			if err := sess.HandleEnvelope(env); err != nil {
				s.closeForSession(conn, sess, err)
				return
			}
		}
	}
}

func (s *Server) closeForSession(conn *websocket.Conn, sess *session.Session, err error) {
	if errors.Is(err, session.ErrSessionClosed) {
		s.logger.Info("session closed, dropping connection", "session_id", sess.ID())
	}
	_ = conn.Close()
}
