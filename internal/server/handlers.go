// Package server exposes HTTP handlers, including WebSocket upgrades, room
// administration, health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Tyrowin/duochat/internal/relay"
)

const (
	msgFieldsRequired  = "All fields are required."
	msgRoomIDNotFound  = "Room ID not found."
	msgRoomNotFound    = "Room not found."
	msgInvalidPassword = "Invalid password."
	msgUsernameTaken   = "Username already taken in this room."
	msgRoomFull        = "This room is full."
	msgInternal        = "Something went wrong. Please try again."
)

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode json response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// readFields reads named string fields from a JSON body or a form body.
func readFields(r *http.Request, names ...string) (map[string]string, error) {
	fields := make(map[string]string, len(names))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		for _, name := range names {
			if v, ok := body[name].(string); ok {
				fields[name] = v
			}
		}
		return fields, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	for _, name := range names {
		fields[name] = r.PostFormValue(name)
	}
	return fields, nil
}

func roomURL(handle, username string) string {
	u := "/room/" + handle
	if username != "" {
		u += "?username=" + url.QueryEscape(username)
	}
	return u
}

// HealthHandler reports that the server is up.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"rooms":        s.engine.RoomCount(),
		"active_rooms": s.engine.ActiveRooms(),
		"clients":      s.hub.ClientCount(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

// IndexHandler answers the root path with a plain status line.
func (s *Server) IndexHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "duochat server is running!")
}

// ListRoomsHandler returns every live room handle.
func (s *Server) ListRoomsHandler(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string][]string{"rooms": s.engine.Rooms()})
}

// CreateRoomHandler creates a room from {username, password}.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(r, "username", "password")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, msgFieldsRequired)
		return
	}
	username := strings.TrimSpace(fields["username"])
	password := fields["password"]
	if username == "" || password == "" {
		s.errorResponse(w, http.StatusBadRequest, msgFieldsRequired)
		return
	}

	handle, err := s.engine.CreateRoom(username, password)
	if err != nil {
		s.logger.Error("create room", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, msgInternal)
		return
	}

	target := roomURL(handle, username)
	w.Header().Set("Location", target)
	s.jsonResponse(w, http.StatusCreated, map[string]string{"room": handle, "url": target})
}

// JoinRoomByIDHandler validates {room_id, password, username} and returns
// the handle to connect to.
func (s *Server) JoinRoomByIDHandler(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(r, "room_id", "password", "username")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, msgFieldsRequired)
		return
	}
	roomID := strings.TrimSpace(fields["room_id"])
	password := fields["password"]
	username := strings.TrimSpace(fields["username"])
	if roomID == "" || password == "" || username == "" {
		s.errorResponse(w, http.StatusBadRequest, msgFieldsRequired)
		return
	}

	handle, err := s.engine.JoinByID(roomID, password, username)
	if err != nil {
		status, message := joinFailure(err)
		s.logger.Warn("join by id rejected", "room", roomID, "username", username, "error", err)
		s.errorResponse(w, status, message)
		return
	}

	s.logger.Info("user joining room", "room", roomID, "username", username)
	s.jsonResponse(w, http.StatusOK, map[string]string{"room": handle, "url": roomURL(handle, username)})
}

func joinFailure(err error) (int, string) {
	switch {
	case errors.Is(err, relay.ErrRoomNotFound):
		return http.StatusNotFound, msgRoomIDNotFound
	case errors.Is(err, relay.ErrUnauthorized):
		return http.StatusUnauthorized, msgInvalidPassword
	case errors.Is(err, relay.ErrUsernameConflict):
		return http.StatusConflict, msgUsernameTaken
	case errors.Is(err, relay.ErrRoomFull):
		return http.StatusConflict, msgRoomFull
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// RoomHandler describes the room behind {handle}.
func (s *Server) RoomHandler(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	roomID, err := s.engine.RoomID(handle)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, msgRoomNotFound)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"room":     handle,
		"room_id":  roomID,
		"username": r.URL.Query().Get("username"),
	})
}

// ConnectedUsersHandler lists usernames joined to the room behind {handle}.
func (s *Server) ConnectedUsersHandler(w http.ResponseWriter, r *http.Request) {
	users := s.engine.ConnectedUsers(r.PathValue("handle"))
	s.jsonResponse(w, http.StatusOK, map[string][]string{"users": users})
}

// WebSocketHandler upgrades the request and hands the socket to a Client,
// which performs the authentication handshake for the room behind {handle}.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "room", handle, "error", err)
		return
	}

	client := newClient(conn, s, handle, r.RemoteAddr)
	if !s.hub.serve(client) {
		client.closeWith(closeShutdown)
		client.writeClose()
		_ = conn.Close()
	}
}
