// Package protocol defines the envelope format exchanged over a room's
// reliable data channel. Every message is a JSON object with a type tag, a
// type-dependent payload, and an optional millisecond timestamp. Readers must
// accept envelopes with unknown types and ignore them; the payload of a known
// type is validated strictly against its schema.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type tags an envelope's payload shape.
type Type string

const (
	TypeConfig        Type = "config"
	TypeAudio         Type = "audio"
	TypeText          Type = "text"
	TypePing          Type = "ping"
	TypePong          Type = "pong"
	TypeTranscription Type = "transcription"
	TypeAgentResponse Type = "agent_response"
	TypeWorkflow      Type = "workflow"
	TypeError         Type = "error"
)

var knownTypes = map[Type]struct{}{
	TypeConfig:        {},
	TypeAudio:         {},
	TypeText:          {},
	TypePing:          {},
	TypePong:          {},
	TypeTranscription: {},
	TypeAgentResponse: {},
	TypeWorkflow:      {},
	TypeError:         {},
}

// Known reports whether t is part of the envelope schema this codec
// understands. Unknown types still decode into an opaque Envelope.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// DecodeError describes why an envelope was rejected.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badEnvelope(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_envelope", Message: message, Param: param}
}

// Envelope is the wire unit. Data holds the raw payload; use Payload to
// obtain the typed form for known types.
type Envelope struct {
	Type          Type            `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	TimestampMS   int64           `json:"timestamp,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// ConfigData announces the joining participant and its session preferences.
type ConfigData struct {
	ParticipantID string `json:"participant_id"`
	Scope         string `json:"scope,omitempty"`
	ScopeID       string `json:"scope_id,omitempty"`
	Language      string `json:"language,omitempty"`
	VoiceID       string `json:"voice_id,omitempty"`
}

// AudioData carries one base64-encoded audio frame.
type AudioData struct {
	FrameB64 string `json:"frame_b64"`
	Seq      int64  `json:"seq,omitempty"`
}

// TextData is a typed (non-spoken) user utterance.
type TextData struct {
	Text string `json:"text"`
}

// TranscriptionData is a speech-to-text result. Partial results carry
// IsFinal=false and are for display only.
type TranscriptionData struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence,omitempty"`
}

// AgentResponseData is a synthesized agent reply mirrored as text.
type AgentResponseData struct {
	Text  string `json:"text"`
	Final bool   `json:"final,omitempty"`
}

// WorkflowData carries a full workflow graph state.
type WorkflowData struct {
	Name  string          `json:"name,omitempty"`
	Graph json.RawMessage `json:"graph"`
}

// ErrorData is the only shape user-visible failures take on the wire.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decode parses raw bytes into an Envelope. Envelopes with an unknown type
// are accepted as-is; envelopes with a known type are validated against that
// type's payload schema and rejected with a DecodeError on mismatch.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, badEnvelope("invalid json frame", "")
	}
	typ := Type(strings.TrimSpace(string(env.Type)))
	if typ == "" {
		return Envelope{}, badEnvelope("missing type", "type")
	}
	env.Type = typ
	if !typ.Known() {
		return env, nil
	}
	if _, err := env.Payload(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Payload decodes Data into the typed struct for the envelope's type.
// Unknown types return the raw bytes.
func (e Envelope) Payload() (any, error) {
	switch e.Type {
	case TypeConfig:
		var p ConfigData
		if err := unmarshalData(e.Data, &p); err != nil {
			return nil, badEnvelope("invalid config payload", "data")
		}
		if strings.TrimSpace(p.ParticipantID) == "" {
			return nil, badEnvelope("config.participant_id is required", "data.participant_id")
		}
		return p, nil
	case TypeAudio:
		var p AudioData
		if err := unmarshalData(e.Data, &p); err != nil {
			return nil, badEnvelope("invalid audio payload", "data")
		}
		if strings.TrimSpace(p.FrameB64) == "" {
			return nil, badEnvelope("audio.frame_b64 is required", "data.frame_b64")
		}
		return p, nil
	case TypeText:
		var p TextData
		if err := unmarshalData(e.Data, &p); err != nil {
			return nil, badEnvelope("invalid text payload", "data")
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, badEnvelope("text.text is required", "data.text")
		}
		return p, nil
	case TypePing, TypePong:
		return nil, nil
	case TypeTranscription:
		var p TranscriptionData
		if err := unmarshalData(e.Data, &p); err != nil {
			return nil, badEnvelope("invalid transcription payload", "data")
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, badEnvelope("transcription.text is required", "data.text")
		}
		return p, nil
	case TypeAgentResponse:
		var p AgentResponseData
		if err := unmarshalData(e.Data, &p); err != nil {
			return nil, badEnvelope("invalid agent_response payload", "data")
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, badEnvelope("agent_response.text is required", "data.text")
		}
		return p, nil
	case TypeWorkflow:
		var p WorkflowData
		if err := unmarshalData(e.Data, &p); err != nil {
			return nil, badEnvelope("invalid workflow payload", "data")
		}
		if len(p.Graph) == 0 {
			return nil, badEnvelope("workflow.graph is required", "data.graph")
		}
		return p, nil
	case TypeError:
		var p ErrorData
		if err := unmarshalData(e.Data, &p); err != nil {
			return nil, badEnvelope("invalid error payload", "data")
		}
		if strings.TrimSpace(p.Code) == "" {
			return nil, badEnvelope("error.code is required", "data.code")
		}
		return p, nil
	default:
		return []byte(e.Data), nil
	}
}

func unmarshalData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Encode serializes an envelope, stamping the send time if the caller has
// not set one.
func Encode(env Envelope) ([]byte, error) {
	if env.TimestampMS == 0 {
		env.TimestampMS = time.Now().UnixMilli()
	}
	return json.Marshal(env)
}

// New builds an envelope with the given typed payload.
func New(typ Type, payload any) (Envelope, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Data = raw
	}
	return env, nil
}

// NewError builds an error envelope with a stable code and short message.
func NewError(code, message string) Envelope {
	env, _ := New(TypeError, ErrorData{Code: code, Message: message})
	return env
}

// NewAgentResponse builds an agent_response envelope.
func NewAgentResponse(text string, final bool) Envelope {
	env, _ := New(TypeAgentResponse, AgentResponseData{Text: text, Final: final})
	return env
}

// NewTranscription builds a transcription envelope.
func NewTranscription(text string, isFinal bool, confidence float64) Envelope {
	env, _ := New(TypeTranscription, TranscriptionData{Text: text, IsFinal: isFinal, Confidence: confidence})
	return env
}

// Pong builds the reply to a ping, echoing its correlation id.
func Pong(ping Envelope) Envelope {
	return Envelope{Type: TypePong, CorrelationID: ping.CorrelationID}
}
