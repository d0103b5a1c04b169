package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiflow-ai/voice-core/pkg/gateway/config"
	"github.com/optiflow-ai/voice-core/pkg/gateway/sessions"
	"github.com/optiflow-ai/voice-core/pkg/protocol"
	"github.com/optiflow-ai/voice-core/pkg/session"
	"github.com/optiflow-ai/voice-core/pkg/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *sessions.Tracker) {
	t.Helper()

	manager := session.NewManager(session.ManagerDeps{
		NewExecutor: func(owner string) workflow.Executor {
			return workflow.NewGraphExecutor(nil, nil, owner)
		},
	})
	tracker := sessions.NewTracker()
	srv := New(config.Config{
		OutboundQueueSize: 16,
		MaxMessageBytes:   1 << 20,
	}, manager, tracker, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tracker
}

func dialRoom(t *testing.T, ts *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/rooms/" + roomID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, typ protocol.Type, payload any) {
	t.Helper()

	env, err := protocol.New(typ, payload)
	require.NoError(t, err)
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readUntilType drains incoming envelopes until one of the wanted type
// arrives.
func readUntilType(t *testing.T, conn *websocket.Conn, typ protocol.Type) protocol.Envelope {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		if env.Type == typ {
			return env
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestRoomJoinGreetsAndDispatches(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialRoom(t, ts, "room-1")

	sendEnvelope(t, conn, protocol.TypeConfig, protocol.ConfigData{ParticipantID: "user-1"})

	greeting := readUntilType(t, conn, protocol.TypeAgentResponse)
	var reply protocol.AgentResponseData
	require.NoError(t, json.Unmarshal(greeting.Data, &reply))
	assert.NotEmpty(t, reply.Text)

	sendEnvelope(t, conn, protocol.TypeText, protocol.TextData{Text: "create a new trigger node"})

	graphEnv := readUntilType(t, conn, protocol.TypeWorkflow)
	var snap protocol.WorkflowData
	require.NoError(t, json.Unmarshal(graphEnv.Data, &snap))
	var g workflow.Graph
	require.NoError(t, json.Unmarshal(snap.Graph, &g))
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "trigger", g.Nodes[0].Type)
}

func TestRoomPingRepliesOutOfBand(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialRoom(t, ts, "room-2")

	env, err := protocol.New(protocol.TypePing, nil)
	require.NoError(t, err)
	env.CorrelationID = "ping-42"
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	pong := readUntilType(t, conn, protocol.TypePong)
	assert.Equal(t, "ping-42", pong.CorrelationID)
}

func TestRoomDisconnectUnregistersSession(t *testing.T) {
	ts, tracker := newTestServer(t)
	conn := dialRoom(t, ts, "room-3")

	require.Eventually(t, func() bool {
		return tracker.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return tracker.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedEnvelopeIsIgnored(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialRoom(t, ts, "room-4")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	sendEnvelope(t, conn, protocol.TypeConfig, protocol.ConfigData{ParticipantID: "user-4"})
	greeting := readUntilType(t, conn, protocol.TypeAgentResponse)
	assert.Equal(t, protocol.TypeAgentResponse, greeting.Type)
}
