// Package relay applies the join, leave and broadcast policy of a room on
// top of the room registry and the session store.
//
// A room holding exactly one session buffers every broadcast message in
// addition to echoing it to that session. The buffer is flushed to the next
// session that joins and is then empty. Rooms with two or more sessions
// fan messages out to every session and never buffer.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tyrowin/duochat/internal/room"
	"github.com/Tyrowin/duochat/internal/session"
)

var (
	// ErrRoomNotFound is returned when a handle or identifier names no room.
	ErrRoomNotFound = room.ErrNotFound
	// ErrUnauthorized is returned when a password does not match.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUsernameConflict is returned when a username is already active in
	// the room.
	ErrUsernameConflict = errors.New("username already taken")
	// ErrRoomFull is returned when a participant cap is configured and the
	// room has reached it.
	ErrRoomFull = errors.New("room is full")
)

// Options configures an Engine.
type Options struct {
	// MaxParticipants caps sessions per room. Zero means unbounded.
	MaxParticipants int
	Logger          *slog.Logger
	Now             func() time.Time
}

// Engine orchestrates room lifecycle and message delivery.
type Engine struct {
	rooms           *room.Registry
	sessions        *session.Store
	maxParticipants int
	now             func() time.Time
	logger          *slog.Logger
}

// New wires an Engine over rooms and sessions.
func New(rooms *room.Registry, sessions *session.Store, opts Options) *Engine {
	e := &Engine{
		rooms:           rooms,
		sessions:        sessions,
		maxParticipants: opts.MaxParticipants,
		now:             opts.Now,
		logger:          opts.Logger,
	}
	if e.maxParticipants < 0 {
		e.maxParticipants = 0
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Report summarizes one broadcast.
type Report struct {
	Message   session.Message
	Delivered int
	Buffered  bool
	// Failed holds the sessions whose delivery failed. They have been
	// removed from the room and their connections closed.
	Failed []string
}

// CreateRoom mints a password-protected room and returns its handle.
func (e *Engine) CreateRoom(creator, password string) (string, error) {
	created, err := e.rooms.Create(password)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	e.sessions.Open(created.ID)

	e.logger.Info("room creation requested", "creator", creator, "room", created.ID)
	return created.Handle, nil
}

// Authenticate checks handshake credentials against the room behind handle.
func (e *Engine) Authenticate(handle, password string) error {
	if _, err := e.rooms.ResolveHandle(handle); err != nil {
		return err
	}
	if !e.rooms.VerifyPassword(handle, password) {
		return ErrUnauthorized
	}
	return nil
}

// Join attaches conn to the room behind handle and flushes the pending
// buffer to it as one batch. The new session is returned.
func (e *Engine) Join(handle string, conn session.Conn, username string) (*session.Session, error) {
	id, err := e.rooms.ResolveHandle(handle)
	if err != nil {
		return nil, err
	}

	var joined *session.Session
	err = e.sessions.Update(id, func(tx *session.Tx) error {
		if e.maxParticipants > 0 && tx.Count() >= e.maxParticipants {
			return ErrRoomFull
		}

		res := tx.Join(conn, username)
		if backlog := tx.Drain(); len(backlog) > 0 {
			if err := conn.SendBacklog(backlog); err != nil {
				for _, msg := range backlog {
					tx.Buffer(msg)
				}
				tx.Leave(res.Session.ID)
				return fmt.Errorf("flush backlog to %s: %w", username, err)
			}
			e.logger.Info("pending messages flushed",
				"room", id, "session", res.Session.ID, "count", len(backlog), "first", res.First())
		}

		e.rooms.Touch(handle)
		joined = res.Session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return joined, nil
}

// Broadcast stamps a message from username and delivers it to the room
// behind handle. A failed delivery removes that session and does not stop
// delivery to the others.
func (e *Engine) Broadcast(handle, username, text string) (Report, error) {
	id, err := e.rooms.ResolveHandle(handle)
	if err != nil {
		return Report{}, err
	}

	var (
		report Report
		failed []session.Conn
	)
	err = e.sessions.Update(id, func(tx *session.Tx) error {
		msg := session.Message{Username: username, Text: text, Timestamp: e.now()}
		report.Message = msg

		sessions := tx.Sessions()
		if len(sessions) <= 1 {
			tx.Buffer(msg)
			report.Buffered = true
		}

		for _, sess := range sessions {
			if err := sess.Conn.Send(msg); err != nil {
				e.logger.Warn("delivery failed; removing session",
					"room", id, "session", sess.ID, "username", sess.Username, "error", err)
				tx.Leave(sess.ID)
				report.Failed = append(report.Failed, sess.ID)
				failed = append(failed, sess.Conn)
				continue
			}
			report.Delivered++
		}

		e.rooms.Touch(handle)
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	for _, conn := range failed {
		if err := conn.Close(); err != nil {
			e.logger.Debug("close after failed delivery", "room", id, "error", err)
		}
	}

	e.logger.Debug("message broadcast",
		"room", id, "delivered", report.Delivered, "buffered", report.Buffered)
	return report, nil
}

// Leave detaches a session. Unknown rooms and sessions are ignored.
func (e *Engine) Leave(handle, sessionID string) {
	id, err := e.rooms.ResolveHandle(handle)
	if err != nil {
		return
	}
	_ = e.sessions.Update(id, func(tx *session.Tx) error {
		if _, ok := tx.Leave(sessionID); ok {
			e.rooms.Touch(handle)
		}
		return nil
	})
}

// JoinByID validates a request to enter the room with the given numeric
// identifier and returns the handle to connect to.
func (e *Engine) JoinByID(id, password, username string) (string, error) {
	handle, err := e.rooms.ResolveIdentifier(id)
	if err != nil {
		return "", err
	}
	if !e.rooms.VerifyPassword(handle, password) {
		return "", ErrUnauthorized
	}

	roomID, err := e.rooms.ResolveHandle(handle)
	if err != nil {
		return "", err
	}
	if e.sessions.UsernameTaken(roomID, username) {
		return "", ErrUsernameConflict
	}
	if e.maxParticipants > 0 && e.sessions.Count(roomID) >= e.maxParticipants {
		return "", ErrRoomFull
	}
	return handle, nil
}

// RoomID returns the numeric identifier behind handle.
func (e *Engine) RoomID(handle string) (string, error) {
	return e.rooms.ResolveHandle(handle)
}

// RoomCount reports the number of live rooms.
func (e *Engine) RoomCount() int {
	return e.rooms.Len()
}

// ActiveRooms reports the number of rooms holding at least one session.
func (e *Engine) ActiveRooms() int {
	return len(e.sessions.Occupied())
}

// Rooms lists every live room handle.
func (e *Engine) Rooms() []string {
	return e.rooms.Handles()
}

// ConnectedUsers lists the usernames joined to the room behind handle, in
// join order. Unknown rooms have no users.
func (e *Engine) ConnectedUsers(handle string) []string {
	id, err := e.rooms.ResolveHandle(handle)
	if err != nil {
		return []string{}
	}
	users := e.sessions.Usernames(id)
	if users == nil {
		return []string{}
	}
	return users
}

var (
	errOccupied = errors.New("room occupied")
	errActive   = errors.New("room active")
)

// Sweep removes rooms that hold no sessions and have seen no activity for
// ttl. It returns the number of rooms removed.
func (e *Engine) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	cutoff := e.now().Add(-ttl)
	removed := 0
	for _, idle := range e.rooms.Idle(cutoff) {
		if e.expire(idle, cutoff) {
			removed++
		}
	}
	return removed
}

// expire removes one room found idle before cutoff. Occupancy and activity
// are checked again under the room lock since the idle list may be stale.
func (e *Engine) expire(idle room.Room, cutoff time.Time) bool {
	err := e.sessions.Update(idle.ID, func(tx *session.Tx) error {
		if tx.Count() > 0 {
			return errOccupied
		}
		if last, ok := e.rooms.LastActive(idle.Handle); ok && !last.Before(cutoff) {
			return errActive
		}
		e.rooms.Remove(idle.Handle)
		return nil
	})
	if errors.Is(err, errOccupied) || errors.Is(err, errActive) {
		return false
	}
	if err != nil {
		// no session state left for the room
		e.rooms.Remove(idle.Handle)
	}

	dropped := len(e.sessions.Pending(idle.ID))
	for _, sess := range e.sessions.Discard(idle.ID) {
		_ = sess.Conn.Close()
	}
	e.logger.Info("room expired",
		"room", idle.ID, "last_active", idle.LastActive, "dropped_messages", dropped)
	return true
}

// RunJanitor sweeps expired rooms every interval until ctx is done.
func (e *Engine) RunJanitor(ctx context.Context, interval, ttl time.Duration) error {
	if ttl <= 0 || interval <= 0 {
		e.logger.Info("room expiration disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("room janitor started", "interval", interval, "ttl", ttl)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := e.Sweep(ttl); n > 0 {
				e.logger.Info("expired rooms removed", "count", n)
			}
		}
	}
}
