package server_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/duochat/internal/server"
	"github.com/Tyrowin/duochat/internal/testhelpers"
)

func waitForUsers(t *testing.T, env *testEnv, handle string, n int) {
	t.Helper()
	testhelpers.Eventually(t, func() bool {
		return len(env.engine.ConnectedUsers(handle)) == n
	}, "waiting for connected users")
}

func TestWebSocketUpgradeRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	t.Run("GET without websocket headers", func(t *testing.T) {
		resp := testhelpers.MakeRequest(t, http.MethodGet, env.http.URL+"/ws/"+handle)
		defer func() { _ = resp.Body.Close() }()
		testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
	})

	t.Run("disallowed origin", func(t *testing.T) {
		_, resp, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(env.http, handle), "http://evil.test")
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("missing origin", func(t *testing.T) {
		_, resp, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(env.http, handle), "")
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestWebSocketHandshakeFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	tests := []struct {
		name   string
		handle string
		frame  string
		reason string
	}{
		{"wrong password", handle, `{"password":"nope","username":"mallory"}`, "invalid password"},
		{"unknown room", strings.Repeat("0", 64), `{"password":"pw1","username":"mallory"}`, "room not found"},
		{"not json", handle, `hello`, "malformed authentication message"},
		{"not an object", handle, `["pw1","mallory"]`, "malformed authentication message"},
		{"missing username", handle, `{"password":"pw1"}`, "malformed authentication message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(env.http, tt.handle), testhelpers.TestOrigin)
			require.NoError(t, err)
			defer func() { _ = conn.Close() }()

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)))

			closeErr := testhelpers.ExpectClose(t, conn)
			assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
			assert.Equal(t, tt.reason, closeErr.Text)
		})
	}

	assert.Empty(t, env.engine.ConnectedUsers(handle), "failed handshakes must not add sessions")
}

func TestWebSocketAuthTimeout(t *testing.T) {
	env := newTestEnv(t, func(cfg *server.Config) { cfg.AuthTimeout = 100 * time.Millisecond })
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	conn, _, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(env.http, handle), testhelpers.TestOrigin)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	closeErr := testhelpers.ExpectClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "authentication required", closeErr.Text)
}

func TestWebSocketPendingBufferFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	alice := testhelpers.Join(t, env.http, handle, "pw1", "alice")
	waitForUsers(t, env, handle, 1)

	testhelpers.SendChat(t, alice, "hi")
	echo := testhelpers.ReadDelivery(t, alice)
	assert.Equal(t, "alice", echo.Username)
	assert.Equal(t, "hi", echo.Text)
	_, err := time.Parse(time.RFC3339Nano, echo.Timestamp)
	require.NoError(t, err, "timestamp should be RFC 3339")

	bob := testhelpers.Join(t, env.http, handle, "pw1", "bob")
	backlog := testhelpers.ReadDelivery(t, bob)
	assert.Equal(t, echo, backlog, "bob receives the buffered message unchanged")
	waitForUsers(t, env, handle, 2)

	testhelpers.SendChat(t, bob, "hello")
	for _, conn := range []*websocket.Conn{alice, bob} {
		got := testhelpers.ReadDelivery(t, conn)
		assert.Equal(t, "bob", got.Username)
		assert.Equal(t, "hello", got.Text)
	}

	carol := testhelpers.Join(t, env.http, handle, "pw1", "carol")
	waitForUsers(t, env, handle, 3)
	testhelpers.ExpectNoMessage(t, carol, 150*time.Millisecond)
}

func TestWebSocketBacklogLargerThanSendBuffer(t *testing.T) {
	env := newTestEnv(t, func(cfg *server.Config) {
		cfg.SendBuffer = 8
		cfg.RateLimit = server.RateLimitConfig{Burst: 1000, RefillInterval: time.Second}
	})
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	alice := testhelpers.Join(t, env.http, handle, "pw1", "alice")
	waitForUsers(t, env, handle, 1)

	const total = 100
	for i := 0; i < total; i++ {
		testhelpers.SendChat(t, alice, fmt.Sprintf("m%d", i))
		testhelpers.ReadDelivery(t, alice)
	}

	bob := testhelpers.Join(t, env.http, handle, "pw1", "bob")
	for i := 0; i < total; i++ {
		got := testhelpers.ReadDelivery(t, bob)
		require.Equal(t, fmt.Sprintf("m%d", i), got.Text)
	}
	waitForUsers(t, env, handle, 2)
	assert.Equal(t, []string{"alice", "bob"}, env.engine.ConnectedUsers(handle))

	testhelpers.SendChat(t, alice, "live")
	assert.Equal(t, "live", testhelpers.ReadDelivery(t, bob).Text)
}

func TestWebSocketIgnoresUnrecognizedFrames(t *testing.T) {
	env := newTestEnv(t, nil)
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	alice := testhelpers.Join(t, env.http, handle, "pw1", "alice")
	waitForUsers(t, env, handle, 1)
	bob := testhelpers.Join(t, env.http, handle, "pw1", "bob")
	waitForUsers(t, env, handle, 2)

	for _, frame := range []string{
		`not valid json`,
		`{"type":"typing"}`,
		`{"type":"message","text":42}`,
		`[1,2,3]`,
	} {
		require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	testhelpers.ExpectNoMessage(t, bob, 150*time.Millisecond)
	assert.Len(t, env.engine.ConnectedUsers(handle), 2, "ignored frames keep the session open")

	testhelpers.SendChat(t, alice, "still here")
	got := testhelpers.ReadDelivery(t, bob)
	assert.Equal(t, "still here", got.Text)
}

func TestWebSocketDisconnectRemovesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	alice := testhelpers.Join(t, env.http, handle, "pw1", "alice")
	waitForUsers(t, env, handle, 1)
	bob := testhelpers.Join(t, env.http, handle, "pw1", "bob")
	waitForUsers(t, env, handle, 2)

	require.NoError(t, testhelpers.CloseWebSocket(bob))
	waitForUsers(t, env, handle, 1)
	assert.Equal(t, []string{"alice"}, env.engine.ConnectedUsers(handle))

	// alone again, so the message is buffered for the next joiner
	testhelpers.SendChat(t, alice, "anyone?")
	testhelpers.ReadDelivery(t, alice)

	dave := testhelpers.Join(t, env.http, handle, "pw1", "dave")
	got := testhelpers.ReadDelivery(t, dave)
	assert.Equal(t, "anyone?", got.Text)
}

func TestWebSocketRoomFull(t *testing.T) {
	env := newTestEnv(t, func(cfg *server.Config) { cfg.MaxParticipants = 1 })
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	testhelpers.Join(t, env.http, handle, "pw1", "alice")
	waitForUsers(t, env, handle, 1)

	bob := testhelpers.Join(t, env.http, handle, "pw1", "bob")
	closeErr := testhelpers.ExpectClose(t, bob)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "room is full", closeErr.Text)
	assert.Equal(t, []string{"alice"}, env.engine.ConnectedUsers(handle))
}

func TestWebSocketOversizedFrameClosesConnection(t *testing.T) {
	env := newTestEnv(t, func(cfg *server.Config) { cfg.MaxMessageSize = 128 })
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	alice := testhelpers.Join(t, env.http, handle, "pw1", "alice")
	waitForUsers(t, env, handle, 1)

	testhelpers.SendChat(t, alice, strings.Repeat("x", 512))
	testhelpers.ExpectClose(t, alice)
	waitForUsers(t, env, handle, 0)
}

func TestWebSocketRateLimitDropsExcessFrames(t *testing.T) {
	env := newTestEnv(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	alice := testhelpers.Join(t, env.http, handle, "pw1", "alice")
	waitForUsers(t, env, handle, 1)
	bob := testhelpers.Join(t, env.http, handle, "pw1", "bob")
	waitForUsers(t, env, handle, 2)

	for _, text := range []string{"one", "two", "three"} {
		testhelpers.SendChat(t, alice, text)
	}

	assert.Equal(t, "one", testhelpers.ReadDelivery(t, bob).Text)
	assert.Equal(t, "two", testhelpers.ReadDelivery(t, bob).Text)
	testhelpers.ExpectNoMessage(t, bob, 150*time.Millisecond)
}

func TestHubShutdownClosesClients(t *testing.T) {
	env := newTestEnv(t, nil)
	handle := testhelpers.CreateRoom(t, env.http, "alice", "pw1")

	conns := make([]*websocket.Conn, 0, 3)
	for i, name := range []string{"alice", "bob", "carol"} {
		conns = append(conns, testhelpers.Join(t, env.http, handle, "pw1", name))
		waitForUsers(t, env, handle, i+1)
	}
	assert.Equal(t, 3, env.server.Hub().ClientCount())

	require.NoError(t, env.server.Hub().Shutdown(5*time.Second))

	for _, conn := range conns {
		closeErr := testhelpers.ExpectClose(t, conn)
		assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	}
	assert.Zero(t, env.server.Hub().ClientCount())
	assert.Empty(t, env.engine.ConnectedUsers(handle))

	late, _, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(env.http, handle), testhelpers.TestOrigin)
	require.NoError(t, err)
	defer func() { _ = late.Close() }()
	closeErr := testhelpers.ExpectClose(t, late)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code, "sockets opened during shutdown are turned away")
}
