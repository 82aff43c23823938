package room

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/duochat/internal/credential"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	r, err := NewRegistry(opts)
	require.NoError(t, err)
	return r
}

func sequence(ids ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func TestCreateGeneratesNumericIdentifier(t *testing.T) {
	r := newTestRegistry(t, Options{})

	created, err := r.Create("pw1")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), created.ID)
	assert.Equal(t, credential.Hash(created.ID), created.Handle)
	assert.NotEqual(t, "pw1", created.PasswordHash)
}

func TestCreateRetriesOnCollision(t *testing.T) {
	r := newTestRegistry(t, Options{Generate: sequence("111111", "111111", "222222")})

	first, err := r.Create("a")
	require.NoError(t, err)
	second, err := r.Create("b")
	require.NoError(t, err)

	assert.Equal(t, "111111", first.ID)
	assert.Equal(t, "222222", second.ID)
	assert.Equal(t, 2, r.Len())
}

func TestCreateExhausted(t *testing.T) {
	r := newTestRegistry(t, Options{Generate: sequence("123456")})

	_, err := r.Create("a")
	require.NoError(t, err)

	_, err = r.Create("b")
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestNewRegistryRejectsBadLength(t *testing.T) {
	_, err := NewRegistry(Options{IDLength: 2})
	assert.Error(t, err)
}

func TestResolveRoundTrip(t *testing.T) {
	r := newTestRegistry(t, Options{})
	created, err := r.Create("pw")
	require.NoError(t, err)

	id, err := r.ResolveHandle(created.Handle)
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)

	handle, err := r.ResolveIdentifier(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Handle, handle)

	_, err = r.ResolveHandle("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.ResolveIdentifier("000000x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyPassword(t *testing.T) {
	r := newTestRegistry(t, Options{})
	created, err := r.Create("pw1")
	require.NoError(t, err)

	assert.True(t, r.VerifyPassword(created.Handle, "pw1"))
	assert.False(t, r.VerifyPassword(created.Handle, "pw2"))
	assert.False(t, r.VerifyPassword("unknown", "pw1"))
}

func TestHandlesOrderedByCreation(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, Options{
		Generate: sequence("900000", "100000", "500000"),
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})

	var want []string
	for i := 0; i < 3; i++ {
		created, err := r.Create("pw")
		require.NoError(t, err)
		want = append(want, created.Handle)
	}

	assert.Equal(t, want, r.Handles())
}

func TestIdleTouchAndRemove(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, Options{Now: func() time.Time { return now }})

	stale, err := r.Create("a")
	require.NoError(t, err)
	fresh, err := r.Create("b")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	r.Touch(fresh.Handle)

	idle := r.Idle(now.Add(-30 * time.Minute))
	require.Len(t, idle, 1)
	assert.Equal(t, stale.Handle, idle[0].Handle)

	last, ok := r.LastActive(fresh.Handle)
	require.True(t, ok)
	assert.Equal(t, now, last)

	assert.True(t, r.Remove(stale.Handle))
	assert.False(t, r.Remove(stale.Handle))
	_, err = r.ResolveIdentifier(stale.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok = r.LastActive(stale.Handle)
	assert.False(t, ok)
	assert.Equal(t, []string{fresh.Handle}, r.Handles())
}

func TestConcurrentCreateUniqueIdentifiers(t *testing.T) {
	r := newTestRegistry(t, Options{})

	var wg sync.WaitGroup
	ids := make(chan string, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := r.Create("pw")
			if err == nil {
				ids <- created.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 200)
	assert.Equal(t, 200, r.Len())
}
