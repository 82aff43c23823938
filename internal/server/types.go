// Package server defines close reasons and utility helpers that are reused
// across client and hub logic.
package server

import (
	"errors"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/duochat/internal/protocol"
	"github.com/Tyrowin/duochat/internal/relay"
)

// closeFrame is the status sent to a client when the server ends a socket.
type closeFrame struct {
	code   int
	reason string
}

var (
	closeNormal   = closeFrame{websocket.CloseNormalClosure, ""}
	closeShutdown = closeFrame{websocket.CloseGoingAway, "server shutting down"}
	closeInternal = closeFrame{websocket.CloseInternalServerErr, "internal error"}
)

// handshakeClose maps a failed handshake or join to the close frame the
// client receives.
func handshakeClose(err error) closeFrame {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return closeFrame{websocket.ClosePolicyViolation, "malformed authentication message"}
	case errors.Is(err, relay.ErrRoomNotFound):
		return closeFrame{websocket.ClosePolicyViolation, "room not found"}
	case errors.Is(err, relay.ErrUnauthorized):
		return closeFrame{websocket.ClosePolicyViolation, "invalid password"}
	case errors.Is(err, relay.ErrRoomFull):
		return closeFrame{websocket.ClosePolicyViolation, "room is full"}
	case errors.Is(err, errAuthRequired):
		return closeFrame{websocket.ClosePolicyViolation, "authentication required"}
	default:
		return closeInternal
	}
}

var errAuthRequired = errors.New("authentication frame not received")

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
