// Package stt provides streaming speech-to-text.
package stt

import "context"

// Provider opens streaming transcription sessions.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewSession opens a live transcription session. Audio is sent
	// incrementally via SendAudio and deltas received via Transcripts.
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// Session is one live transcription stream.
type Session interface {
	// SendAudio sends one raw audio frame.
	SendAudio(frame []byte) error

	// Finalize flushes buffered audio and forces a final transcript without
	// closing the session.
	Finalize() error

	// Transcripts returns the channel of transcript deltas. It is closed
	// when the session ends.
	Transcripts() <-chan TranscriptDelta

	// Close ends the session.
	Close() error
}

// SessionOptions configures a transcription session.
type SessionOptions struct {
	Model      string // provider-specific model name
	Language   string // ISO language code (default "en")
	Encoding   string // raw audio encoding (default "linear16")
	SampleRate int    // sample rate in Hz (default 16000)
}

// TranscriptDelta is a streaming transcript update. Partial deltas refine the
// in-progress utterance; a final delta ends it.
type TranscriptDelta struct {
	Text       string
	IsFinal    bool
	Confidence float64
}
