// Package room owns live room definitions: the numeric room identifier, the
// opaque handle derived from it, and the stored password hash.
package room

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	nanoid "github.com/jaevor/go-nanoid"

	"github.com/Tyrowin/duochat/internal/credential"
)

const (
	// DefaultIDLength is the number of digits in a generated room identifier.
	DefaultIDLength = 6

	digits        = "0123456789"
	maxIDAttempts = 1000
	minIDLength   = 4
	maxIDLength   = 32
)

var (
	// ErrNotFound is returned when a handle or identifier names no live room.
	ErrNotFound = errors.New("room not found")
	// ErrIDSpaceExhausted is returned when no unused identifier could be
	// generated within the retry budget.
	ErrIDSpaceExhausted = errors.New("room identifier space exhausted")
)

// Room is a live room definition.
type Room struct {
	ID           string
	Handle       string
	PasswordHash string
	CreatedAt    time.Time
	LastActive   time.Time
}

// Options configures a Registry. Zero values select defaults.
type Options struct {
	IDLength int
	Hasher   credential.PasswordHasher
	Logger   *slog.Logger

	// Generate overrides the identifier generator.
	Generate func() string
	// Now overrides the clock.
	Now func() time.Time
}

// Registry maps room handles to identifiers and stored password hashes.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	byHandle map[string]*Room
	byID     map[string]string

	hasher   credential.PasswordHasher
	generate func() string
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	length := opts.IDLength
	if length == 0 {
		length = DefaultIDLength
	}
	if length < minIDLength || length > maxIDLength {
		return nil, fmt.Errorf("room id length %d out of range [%d, %d]", length, minIDLength, maxIDLength)
	}

	generate := opts.Generate
	if generate == nil {
		gen, err := nanoid.CustomASCII(digits, length)
		if err != nil {
			return nil, fmt.Errorf("room id generator: %w", err)
		}
		generate = gen
	}

	r := &Registry{
		byHandle: make(map[string]*Room),
		byID:     make(map[string]string),
		hasher:   opts.Hasher,
		generate: generate,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if r.hasher == nil {
		r.hasher = credential.DigestHasher{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Create mints a room protected by password and returns its definition.
// The identifier is retried until it collides with no live room.
func (r *Registry) Create(password string) (Room, error) {
	passwordHash, err := r.hasher.Hash(password)
	if err != nil {
		return Room{}, fmt.Errorf("hash password: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := r.generate()
		if _, taken := r.byID[id]; taken {
			r.logger.Debug("room id collision", "attempt", attempt)
			continue
		}
		handle := credential.Hash(id)
		if _, taken := r.byHandle[handle]; taken {
			continue
		}

		now := r.now()
		room := &Room{
			ID:           id,
			Handle:       handle,
			PasswordHash: passwordHash,
			CreatedAt:    now,
			LastActive:   now,
		}
		r.byHandle[handle] = room
		r.byID[id] = handle

		r.logger.Info("room created", "room", id, "handle", handle)
		return *room, nil
	}

	return Room{}, ErrIDSpaceExhausted
}

// ResolveHandle returns the identifier behind handle.
func (r *Registry) ResolveHandle(handle string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.byHandle[handle]
	if !ok {
		return "", ErrNotFound
	}
	return room.ID, nil
}

// ResolveIdentifier returns the handle derived from id.
func (r *Registry) ResolveIdentifier(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return "", ErrNotFound
	}
	return handle, nil
}

// VerifyPassword reports whether password matches the one the room was
// created with. Unknown handles never verify.
func (r *Registry) VerifyPassword(handle, password string) bool {
	r.mu.RLock()
	room, ok := r.byHandle[handle]
	var stored string
	if ok {
		stored = room.PasswordHash
	}
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return r.hasher.Verify(stored, password)
}

// Handles lists every live room handle, oldest first.
func (r *Registry) Handles() []string {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.byHandle))
	for _, room := range r.byHandle {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	slices.SortFunc(rooms, func(a, b *Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	handles := make([]string, len(rooms))
	for i, room := range rooms {
		handles[i] = room.Handle
	}
	return handles
}

// Touch records activity on the room behind handle.
func (r *Registry) Touch(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.byHandle[handle]; ok {
		room.LastActive = r.now()
	}
}

// LastActive returns the last recorded activity of the room behind handle.
func (r *Registry) LastActive(handle string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.byHandle[handle]
	if !ok {
		return time.Time{}, false
	}
	return room.LastActive, true
}

// Idle returns rooms whose last activity is before cutoff.
func (r *Registry) Idle(cutoff time.Time) []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []Room
	for _, room := range r.byHandle {
		if room.LastActive.Before(cutoff) {
			idle = append(idle, *room)
		}
	}
	return idle
}

// Remove deletes the room definition behind handle.
func (r *Registry) Remove(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.byHandle[handle]
	if !ok {
		return false
	}
	delete(r.byHandle, handle)
	delete(r.byID, room.ID)
	return true
}

// Len reports the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}
