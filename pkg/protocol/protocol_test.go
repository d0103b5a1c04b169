package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownTypes(t *testing.T) {
	env, err := Decode([]byte(`{"type":"text","data":{"text":"create a node"},"timestamp":123}`))
	require.NoError(t, err)
	assert.Equal(t, TypeText, env.Type)
	assert.Equal(t, int64(123), env.TimestampMS)

	payload, err := env.Payload()
	require.NoError(t, err)
	assert.Equal(t, TextData{Text: "create a node"}, payload)
}

func TestDecode_UnknownTypeAccepted(t *testing.T) {
	env, err := Decode([]byte(`{"type":"telemetry_v2","data":{"anything":true}}`))
	require.NoError(t, err)
	assert.Equal(t, Type("telemetry_v2"), env.Type)
	assert.False(t, env.Type.Known())
}

func TestDecode_RejectsMismatchedPayload(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"missing type", `{"data":{}}`},
		{"not json", `{{`},
		{"audio without frame", `{"type":"audio","data":{"seq":1}}`},
		{"text with wrong shape", `{"type":"text","data":{"frame_b64":"zz"}}`},
		{"error without code", `{"type":"error","data":{"message":"boom"}}`},
		{"transcription without text", `{"type":"transcription","data":{"is_final":true}}`},
		{"config without participant", `{"type":"config","data":{"scope":"user"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.frame))
			require.Error(t, err)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
		})
	}
}

func TestEncode_StampsTimestamp(t *testing.T) {
	raw, err := Encode(NewAgentResponse("hello", true))
	require.NoError(t, err)

	var decoded struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "agent_response", decoded.Type)
	assert.Positive(t, decoded.Timestamp)
}

func TestPong_EchoesCorrelationID(t *testing.T) {
	ping := Envelope{Type: TypePing, CorrelationID: "c-1"}
	pong := Pong(ping)
	assert.Equal(t, TypePong, pong.Type)
	assert.Equal(t, "c-1", pong.CorrelationID)
}

func TestNewError_RoundTrips(t *testing.T) {
	env := NewError("ExecutorFailure", "workflow executor unavailable")
	raw, err := Encode(env)
	require.NoError(t, err)

	back, err := Decode(raw)
	require.NoError(t, err)
	payload, err := back.Payload()
	require.NoError(t, err)
	assert.Equal(t, ErrorData{Code: "ExecutorFailure", Message: "workflow executor unavailable"}, payload)
}
