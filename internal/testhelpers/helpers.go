// Package testhelpers provides HTTP and WebSocket helpers shared by the
// duochat server tests: issuing requests, authenticating sockets, and
// reading deliveries and close frames.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestOrigin is the browser origin the default server configuration allows.
const TestOrigin = "http://localhost:8080"

// Delivery mirrors the outbound chat frame.
type Delivery struct {
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	require.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	require.Equal(t, expected, resp.Header.Get("Content-Type"), "unexpected content type")
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "make request")
	return resp
}

// PostJSON posts body encoded as JSON and returns the response.
func PostJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err, "post %s", url)
	return resp
}

// DecodeJSON decodes the response body into a generic object and closes it.
func DecodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// CreateRoom creates a room on srv and returns its handle.
func CreateRoom(t *testing.T, srv *httptest.Server, username, password string) string {
	t.Helper()

	resp := PostJSON(t, srv.URL+"/create-room", map[string]string{
		"username": username,
		"password": password,
	})
	AssertStatusCode(t, resp, http.StatusCreated)
	body := DecodeJSON(t, resp)

	handle, ok := body["room"].(string)
	require.True(t, ok, "room handle missing from %v", body)
	return handle
}

// WebSocketURL converts the test server URL into the socket URL for handle.
func WebSocketURL(srv *httptest.Server, handle string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + handle
}

// ConnectWebSocket dials url with the given Origin header. An empty origin
// sends no header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Join dials the room behind handle and sends the authentication frame.
func Join(t *testing.T, srv *httptest.Server, handle, password, username string) *websocket.Conn {
	t.Helper()

	conn, _, err := ConnectWebSocket(WebSocketURL(srv, handle), TestOrigin)
	require.NoError(t, err, "dial room %s", handle)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(map[string]string{
		"password": password,
		"username": username,
	}))
	return conn
}

// SendChat sends one chat frame.
func SendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "text": text}))
}

// ReadDelivery waits up to two seconds for the next delivery.
func ReadDelivery(t *testing.T, conn *websocket.Conn) Delivery {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var d Delivery
	require.NoError(t, conn.ReadJSON(&d), "read delivery")
	return d
}

// ExpectNoMessage asserts nothing arrives on conn within wait.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, payload, err := conn.ReadMessage()
	require.Error(t, err, "unexpected message %q", payload)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
}

// ExpectClose reads until the server closes conn and returns the close frame.
func ExpectClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		return closeErr
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Eventually polls cond until it holds or two seconds pass.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}
