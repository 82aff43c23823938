package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/duochat/internal/room"
)

type nopConn struct{}

func (nopConn) Send(Message) error          { return nil }
func (nopConn) SendBacklog([]Message) error { return nil }
func (nopConn) Close() error                { return nil }

func TestJoinUnknownRoom(t *testing.T) {
	s := NewStore(nil)

	_, err := s.Join("123456", nopConn{}, "alice")
	assert.ErrorIs(t, err, room.ErrNotFound)
}

func TestJoinReportsPosition(t *testing.T) {
	s := NewStore(nil)
	s.Open("r1")

	first, err := s.Join("r1", nopConn{}, "alice")
	require.NoError(t, err)
	assert.True(t, first.First())
	assert.Equal(t, 1, first.Participants)
	assert.NotEmpty(t, first.Session.ID)

	second, err := s.Join("r1", nopConn{}, "bob")
	require.NoError(t, err)
	assert.False(t, second.First())
	assert.Equal(t, 2, second.Participants)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
}

func TestUsernamesInJoinOrder(t *testing.T) {
	s := NewStore(nil)
	s.Open("r1")

	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := s.Join("r1", nopConn{}, name)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"carol", "alice", "bob"}, s.Usernames("r1"))
	assert.True(t, s.UsernameTaken("r1", "alice"))
	assert.False(t, s.UsernameTaken("r1", "dave"))
	assert.False(t, s.UsernameTaken("missing", "alice"))
}

func TestLeaveIsIdempotent(t *testing.T) {
	s := NewStore(nil)
	s.Open("r1")

	a, err := s.Join("r1", nopConn{}, "alice")
	require.NoError(t, err)
	b, err := s.Join("r1", nopConn{}, "bob")
	require.NoError(t, err)

	assert.True(t, s.Leave("r1", b.Session.ID))
	assert.False(t, s.Leave("r1", b.Session.ID))
	assert.False(t, s.Leave("other", a.Session.ID))
	assert.Equal(t, []string{"alice"}, s.Usernames("r1"))
}

func TestLeaveLastDropsSessionSetButKeepsRoom(t *testing.T) {
	s := NewStore(nil)
	s.Open("r1")

	a, err := s.Join("r1", nopConn{}, "alice")
	require.NoError(t, err)
	require.NoError(t, s.Update("r1", func(tx *Tx) error {
		tx.Buffer(Message{Username: "alice", Text: "hi"})
		return nil
	}))
	assert.Equal(t, []string{"r1"}, s.Occupied())

	s.Leave("r1", a.Session.ID)
	assert.Empty(t, s.Occupied())
	assert.Equal(t, 0, s.Count("r1"))
	assert.Len(t, s.Pending("r1"), 1)

	again, err := s.Join("r1", nopConn{}, "alice")
	require.NoError(t, err)
	assert.True(t, again.First())
}

func TestDrainIsIdempotent(t *testing.T) {
	s := NewStore(nil)
	s.Open("r1")

	var first, second []Message
	require.NoError(t, s.Update("r1", func(tx *Tx) error {
		tx.Buffer(Message{Username: "alice", Text: "one"})
		tx.Buffer(Message{Username: "alice", Text: "two"})
		first = tx.Drain()
		second = tx.Drain()
		return nil
	}))

	require.Len(t, first, 2)
	assert.Equal(t, "one", first[0].Text)
	assert.Equal(t, "two", first[1].Text)
	assert.Empty(t, second)
	assert.Empty(t, s.Pending("r1"))
}

func TestDiscard(t *testing.T) {
	s := NewStore(nil)
	s.Open("r1")
	_, err := s.Join("r1", nopConn{}, "alice")
	require.NoError(t, err)

	attached := s.Discard("r1")
	require.Len(t, attached, 1)
	assert.Equal(t, "alice", attached[0].Username)

	_, err = s.Join("r1", nopConn{}, "bob")
	assert.ErrorIs(t, err, room.ErrNotFound)
	assert.Nil(t, s.Discard("r1"))
}

func TestUpdatePropagatesError(t *testing.T) {
	s := NewStore(nil)
	s.Open("r1")

	boom := fmt.Errorf("boom")
	assert.ErrorIs(t, s.Update("r1", func(*Tx) error { return boom }), boom)
}

func TestConcurrentJoinsHaveOneFirst(t *testing.T) {
	s := NewStore(nil)
	s.Open("r1")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Join("r1", nopConn{}, fmt.Sprintf("user-%d", i))
			if err != nil {
				t.Errorf("join: %v", err)
				return
			}
			if res.First() {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, firsts)
	assert.Equal(t, 50, s.Count("r1"))
}

func TestJoinedAtUsesClock(t *testing.T) {
	s := NewStore(nil)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	s.Open("r1")

	res, err := s.Join("r1", nopConn{}, "alice")
	require.NoError(t, err)
	assert.Equal(t, fixed, res.Session.JoinedAt)
}
