package httpapi

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

	"github.com/doeshing/opsai/internal/domain"
)

func dialSocket(t *testing.T, f *fixture, header http.Header) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.server.Router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return f.server.deps.Hub.Connected(header.Get(HeaderUserID)) == 1
	}, time.Second, 10*time.Millisecond)
	return conn
}

func userHeader(id string) http.Header {
	h := http.Header{}
	h.Set(HeaderUserID, id)
	return h
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: raw}))
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func readError(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, domain.EventError, frame.Event)
	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	return payload.Message
}

func TestSocketExecuteStreamsEvents(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	conn := dialSocket(t, f, userHeader("alice"))

	sendFrame(t, conn, domain.ActionExecute, domain.ExecuteRequest{ServerID: "srv-1", Prompt: "check disk"})

	frame := readFrame(t, conn)
	assert.Equal(t, domain.EventStatus, frame.Event)
	var status domain.StatusPayload
	require.NoError(t, json.Unmarshal(frame.Data, &status))
	assert.Equal(t, domain.StatusPlanning, status.Status)
	assert.Equal(t, "exec-2", status.ExecutionID)

	f.server.Wait()
	assert.Equal(t, []string{"execute:srv-1:check disk"}, f.orch.recorded())
	assert.Equal(t, "alice", f.orch.lastUser.ID)
}

func TestSocketActionsDispatch(t *testing.T) {
	f := newFixture(t, Options{ActionsPerSecond: 100, ActionBurst: 100}, nil)
	conn := dialSocket(t, f, userHeader("alice"))

	sendFrame(t, conn, domain.ActionConfirm, executionRef{ExecutionID: "exec-1"})
	sendFrame(t, conn, domain.ActionCancel, executionRef{ExecutionID: "exec-1"})
	sendFrame(t, conn, domain.ActionOverride, executionRef{ExecutionID: "exec-1"})
	sendFrame(t, conn, domain.ActionChat, chatRequest{Message: "hi", ServerID: "srv-1"})

	frame := readFrame(t, conn)
	assert.Equal(t, domain.EventChatResponse, frame.Event)

	f.server.Wait()
	assert.ElementsMatch(t, []string{
		"confirm:exec-1",
		"cancel:exec-1",
		"override:exec-1",
		"chat:hi:srv-1",
	}, f.orch.recorded())
}

func TestSocketEventsStayWithTheirUser(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	alice := dialSocket(t, f, userHeader("alice"))
	bob := dialSocket(t, f, userHeader("bob"))

	sendFrame(t, alice, domain.ActionChat, chatRequest{Message: "hi"})
	assert.Equal(t, domain.EventChatResponse, readFrame(t, alice).Event)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestSocketRejectsBadFrames(t *testing.T) {
	f := newFixture(t, Options{ActionsPerSecond: 100, ActionBurst: 100}, nil)
	conn := dialSocket(t, f, userHeader("alice"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "malformed frame", readError(t, conn))

	require.NoError(t, conn.WriteJSON(Frame{Event: "reboot"}))
	assert.Equal(t, "unknown event: reboot", readError(t, conn))

	require.NoError(t, conn.WriteJSON(Frame{Event: domain.ActionConfirm}))
	assert.Equal(t, "missing data for confirm", readError(t, conn))

	require.NoError(t, conn.WriteJSON(Frame{Event: domain.ActionExecute, Data: json.RawMessage(`"text"`)}))
	assert.Equal(t, "malformed data for execute", readError(t, conn))

	f.server.Wait()
	assert.Empty(t, f.orch.recorded())
}

func TestSocketRateLimit(t *testing.T) {
	f := newFixture(t, Options{ActionsPerSecond: 0.001, ActionBurst: 1}, nil)
	conn := dialSocket(t, f, userHeader("alice"))

	sendFrame(t, conn, domain.ActionChat, chatRequest{Message: "one"})
	sendFrame(t, conn, domain.ActionChat, chatRequest{Message: "two"})

	events := map[string]string{}
	for range 2 {
		frame := readFrame(t, conn)
		events[frame.Event] = string(frame.Data)
	}
	assert.Contains(t, events, domain.EventChatResponse)
	assert.Contains(t, events[domain.EventError], "rate limit exceeded")

	f.server.Wait()
	assert.Equal(t, []string{"chat:one:"}, f.orch.recorded())
}

func TestSocketOriginCheck(t *testing.T) {
	f := newFixture(t, Options{AllowedOrigins: []string{"https://ops.example.com"}}, nil)
	srv := httptest.NewServer(f.server.Router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"

	header := userHeader("alice")
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url, http.Header{})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubDropsClosedClients(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	conn := dialSocket(t, f, userHeader("alice"))
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return f.server.deps.Hub.Connected("alice") == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Notifying a user with no sockets is a no-op.
	f.server.deps.Hub.Notify(domain.Event{Name: domain.EventStatus, UserID: "alice", Data: domain.StatusPayload{}})
}

func TestHubCloseDisconnectsSockets(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	conn := dialSocket(t, f, userHeader("alice"))

	f.server.deps.Hub.Close()
	assert.Equal(t, 0, f.server.deps.Hub.Connected("alice"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
