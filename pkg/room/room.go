// Package room abstracts the communication room a session is bound to.
// A Transport delivers envelopes and synthesized audio to the room's
// participants; the websocket implementation serializes all writes through a
// single writer goroutine.
package room

import (
	"errors"

	"github.com/optiflow-ai/voice-core/pkg/protocol"
)

// ErrBackpressure is returned when the outbound queue is full. The caller
// decides whether to drop or surface it.
var ErrBackpressure = errors.New("room outbound backpressure")

// ErrTransportClosed is returned by sends after Close.
var ErrTransportClosed = errors.New("room transport closed")

// Transport is the session's one-way view of its room.
type Transport interface {
	// Send queues an envelope for delivery.
	Send(env protocol.Envelope) error

	// SendAudio queues one synthesized audio frame for delivery.
	SendAudio(frame []byte) error

	// Close flushes urgent frames and tears the connection down.
	Close() error
}
