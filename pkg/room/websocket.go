package room

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/optiflow-ai/voice-core/pkg/protocol"
)

const (
	defaultQueueSize    = 128
	priorityQueueSize   = 8
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// wsConn is the subset of *websocket.Conn the writer needs. Tests substitute
// a recording fake.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type outFrame struct {
	text   []byte
	binary []byte
}

// WriterConfig tunes the websocket transport.
type WriterConfig struct {
	QueueSize    int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// WebsocketTransport implements Transport over one gorilla websocket
// connection. Error and pong envelopes jump the queue so failures are not
// stuck behind audio.
type WebsocketTransport struct {
	conn     wsConn
	cfg      WriterConfig
	logger   *slog.Logger
	priority chan outFrame
	normal   chan outFrame
	done     chan struct{}
	closed   atomic.Bool
	writeErr atomic.Value // error
}

// NewWebsocket wraps conn and starts the writer goroutine.
func NewWebsocket(conn *websocket.Conn, cfg WriterConfig, logger *slog.Logger) *WebsocketTransport {
	return newWebsocket(conn, cfg, logger)
}

func newWebsocket(conn wsConn, cfg WriterConfig, logger *slog.Logger) *WebsocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	t := &WebsocketTransport{
		conn:     conn,
		cfg:      cfg,
		logger:   logger.With("component", "room"),
		priority: make(chan outFrame, priorityQueueSize),
		normal:   make(chan outFrame, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	go t.writeLoop()
	return t
}

// Send queues an envelope. Error and pong envelopes take the priority lane.
func (t *WebsocketTransport) Send(env protocol.Envelope) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	queue := t.normal
	if env.Type == protocol.TypeError || env.Type == protocol.TypePong {
		queue = t.priority
	}
	select {
	case queue <- outFrame{text: data}:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		return ErrBackpressure
	}
}

// SendAudio queues one binary audio frame.
func (t *WebsocketTransport) SendAudio(frame []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	select {
	case t.normal <- outFrame{binary: frame}:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		return ErrBackpressure
	}
}

// Close flushes queued priority frames, sends a close frame, and closes the
// connection.
func (t *WebsocketTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)
	if err, ok := t.writeErr.Load().(error); ok {
		return err
	}
	return nil
}

func (t *WebsocketTransport) writeLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		// Urgent frames preempt everything queued behind them.
		select {
		case frame := <-t.priority:
			if err := t.write(frame); err != nil {
				t.fail(err)
				return
			}
			continue
		default:
		}

		select {
		case <-t.done:
			t.flushPriority()
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = t.conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				t.fail(err)
				return
			}
		case frame := <-t.priority:
			if err := t.write(frame); err != nil {
				t.fail(err)
				return
			}
		case frame := <-t.normal:
			if err := t.write(frame); err != nil {
				t.fail(err)
				return
			}
		}
	}
}

func (t *WebsocketTransport) flushPriority() {
	for i := 0; i < priorityQueueSize; i++ {
		select {
		case frame := <-t.priority:
			if err := t.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *WebsocketTransport) write(frame outFrame) error {
	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if frame.binary != nil {
		return t.conn.WriteMessage(websocket.BinaryMessage, frame.binary)
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame.text)
}

func (t *WebsocketTransport) fail(err error) {
	t.writeErr.Store(err)
	t.logger.Warn("write loop ended", "error", err)
	_ = t.conn.Close()
}
