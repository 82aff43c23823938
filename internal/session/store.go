// Package session tracks live connections per room together with the
// per-room buffer of messages awaiting a second participant.
//
// All state belonging to one room is guarded by that room's lock. Callers
// that need several steps to observe one consistent view of a room use
// Store.Update, which runs a function against a Tx while the lock is held.
package session

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/duochat/internal/room"
)

var (
	// ErrDeliveryFailed reports that a message could not be handed to a
	// connection.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrClosed reports a send on a connection that has already terminated.
	ErrClosed = errors.New("connection closed")
)

// Message is an immutable chat record. Timestamp is assigned when the
// message is broadcast.
type Message struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn is the outbound side of a live connection.
type Conn interface {
	// Send hands msg to the connection without blocking. It returns an
	// error wrapping ErrDeliveryFailed or ErrClosed when the message cannot
	// be queued.
	Send(msg Message) error
	// SendBacklog hands msgs to the connection as one unit without
	// blocking: either every message is queued or none is. It does not
	// count against the per-message queue bound.
	SendBacklog(msgs []Message) error
	// Close terminates the connection.
	Close() error
}

// Session binds one connection to one room under a username.
type Session struct {
	ID       string
	Username string
	Conn     Conn
	JoinedAt time.Time
}

// JoinResult describes the room right after a join.
type JoinResult struct {
	Session *Session
	// Participants is the number of sessions including the new one.
	Participants int
}

// First reports whether the join took the room from empty to one session.
func (r JoinResult) First() bool {
	return r.Participants == 1
}

type roomState struct {
	mu       sync.Mutex
	closed   bool
	sessions []*Session
	pending  []Message
}

// Store owns session sets and pending buffers for every open room.
type Store struct {
	mu     sync.RWMutex
	rooms  map[string]*roomState
	now    func() time.Time
	logger *slog.Logger
}

// NewStore creates an empty store. A nil logger selects slog.Default().
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rooms:  make(map[string]*roomState),
		now:    time.Now,
		logger: logger,
	}
}

// Open prepares an empty session set and pending buffer for id. Opening an
// already open room leaves it untouched.
func (s *Store) Open(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		s.rooms[id] = &roomState{}
	}
}

// Discard drops every session and buffered message for id. It returns the
// sessions that were still attached so the caller can close them.
func (s *Store) Discard(id string) []*Session {
	s.mu.Lock()
	st, ok := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	sessions := st.sessions
	st.sessions = nil
	st.pending = nil
	return sessions
}

// Update runs fn with the room's lock held. It returns room.ErrNotFound if
// id was never opened or has been discarded.
func (s *Store) Update(id string, fn func(tx *Tx) error) error {
	s.mu.RLock()
	st, ok := s.rooms[id]
	s.mu.RUnlock()
	if !ok {
		return room.ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return room.ErrNotFound
	}
	return fn(&Tx{id: id, state: st, store: s})
}

// Join registers conn under id as username.
func (s *Store) Join(id string, conn Conn, username string) (JoinResult, error) {
	var result JoinResult
	err := s.Update(id, func(tx *Tx) error {
		result = tx.Join(conn, username)
		return nil
	})
	return result, err
}

// Leave removes the session. Leaving an absent session or room is a no-op.
func (s *Store) Leave(id, sessionID string) bool {
	var removed bool
	_ = s.Update(id, func(tx *Tx) error {
		_, removed = tx.Leave(sessionID)
		return nil
	})
	return removed
}

// Usernames lists the room's participants in join order.
func (s *Store) Usernames(id string) []string {
	var names []string
	_ = s.Update(id, func(tx *Tx) error {
		names = tx.Usernames()
		return nil
	})
	return names
}

// UsernameTaken reports whether username is held by a live session in id.
func (s *Store) UsernameTaken(id, username string) bool {
	return slices.Contains(s.Usernames(id), username)
}

// Count reports the number of live sessions in id.
func (s *Store) Count(id string) int {
	var n int
	_ = s.Update(id, func(tx *Tx) error {
		n = tx.Count()
		return nil
	})
	return n
}

// Pending returns a copy of the buffered messages for id.
func (s *Store) Pending(id string) []Message {
	var pending []Message
	_ = s.Update(id, func(tx *Tx) error {
		pending = slices.Clone(tx.state.pending)
		return nil
	})
	return pending
}

// Occupied lists rooms that currently hold at least one session.
func (s *Store) Occupied() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.rooms))
	states := make([]*roomState, 0, len(s.rooms))
	for id, st := range s.rooms {
		ids = append(ids, id)
		states = append(states, st)
	}
	s.mu.RUnlock()

	var occupied []string
	for i, st := range states {
		st.mu.Lock()
		if st.sessions != nil {
			occupied = append(occupied, ids[i])
		}
		st.mu.Unlock()
	}
	slices.Sort(occupied)
	return occupied
}

// Tx is a locked view of one room. It must not be retained after the
// Update callback returns.
type Tx struct {
	id    string
	state *roomState
	store *Store
}

// Join appends a new session for conn.
func (tx *Tx) Join(conn Conn, username string) JoinResult {
	sess := &Session{
		ID:       uuid.NewString(),
		Username: username,
		Conn:     conn,
		JoinedAt: tx.store.now(),
	}
	tx.state.sessions = append(tx.state.sessions, sess)
	n := len(tx.state.sessions)

	tx.store.logger.Info("session joined",
		"room", tx.id, "session", sess.ID, "username", username, "participants", n)
	return JoinResult{Session: sess, Participants: n}
}

// Leave removes the session with sessionID. When the last session leaves
// the room's session set is dropped; the pending buffer is kept.
func (tx *Tx) Leave(sessionID string) (*Session, bool) {
	i := slices.IndexFunc(tx.state.sessions, func(s *Session) bool {
		return s.ID == sessionID
	})
	if i < 0 {
		return nil, false
	}

	sess := tx.state.sessions[i]
	tx.state.sessions = slices.Delete(tx.state.sessions, i, i+1)
	remaining := len(tx.state.sessions)
	tx.store.logger.Info("session left",
		"room", tx.id, "session", sess.ID, "username", sess.Username, "participants", remaining)

	if remaining == 0 {
		tx.state.sessions = nil
		tx.store.logger.Info("room session set removed", "room", tx.id)
	}
	return sess, true
}

// Sessions returns the live sessions in join order.
func (tx *Tx) Sessions() []*Session {
	return slices.Clone(tx.state.sessions)
}

// Usernames returns participant names in join order.
func (tx *Tx) Usernames() []string {
	names := make([]string, len(tx.state.sessions))
	for i, sess := range tx.state.sessions {
		names[i] = sess.Username
	}
	return names
}

// Count returns the number of live sessions.
func (tx *Tx) Count() int {
	return len(tx.state.sessions)
}

// Buffer appends msg to the pending buffer.
func (tx *Tx) Buffer(msg Message) {
	tx.state.pending = append(tx.state.pending, msg)
}

// Drain returns the pending buffer and leaves it empty. A second Drain
// returns nothing.
func (tx *Tx) Drain() []Message {
	pending := tx.state.pending
	tx.state.pending = nil
	return pending
}
