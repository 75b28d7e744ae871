package throttle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestKey(t *testing.T) {
	both := Key("10.0.0.1", "/login", true, true)
	addrOnly := Key("10.0.0.1", "/login", true, false)
	resourceOnly := Key("10.0.0.1", "/login", false, true)

	// Deterministic per input, distinct per flag combination.
	assert.Equal(t, both, Key("10.0.0.1", "/login", true, true))
	assert.NotEqual(t, both, addrOnly)
	assert.NotEqual(t, both, resourceOnly)
	assert.NotEqual(t, addrOnly, resourceOnly)

	assert.NotEqual(t, addrOnly, Key("10.0.0.2", "/login", true, false))
	assert.Equal(t, resourceOnly, Key("10.0.0.2", "/login", false, true))
	assert.Len(t, both, 64)
}

func TestLimiter(t *testing.T) {
	ctx := context.Background()

	newLimiter := func(now *time.Time) *Limiter {
		l := NewLimiter(NewMemoryStore(16, time.Hour), 3, 10*time.Minute, quietLogger())
		l.now = func() time.Time { return *now }
		return l
	}

	t.Run("blocks after the trial budget", func(t *testing.T) {
		now := time.Now()
		l := newLimiter(&now)
		hash := Key("10.0.0.1", "/login", true, false)

		for i := 1; i <= 3; i++ {
			require.NoError(t, l.Check(ctx, hash))
			assert.Equal(t, i, l.Register(ctx, hash))
		}

		err := l.Check(ctx, hash)
		var tooMany *TooManyAttemptsError
		require.True(t, errors.As(err, &tooMany))
		assert.Greater(t, tooMany.RetryAfter, time.Duration(0))
	})

	t.Run("window expiry resets the count", func(t *testing.T) {
		now := time.Now()
		l := newLimiter(&now)
		hash := Key("10.0.0.2", "/login", true, false)

		for i := 0; i < 3; i++ {
			l.Register(ctx, hash)
		}
		require.Error(t, l.Check(ctx, hash))

		now = now.Add(10 * time.Minute)
		require.NoError(t, l.Check(ctx, hash))
		assert.Equal(t, 1, l.Register(ctx, hash), "stale series restarts at one trial")
	})

	t.Run("every trial restarts the window", func(t *testing.T) {
		now := time.Now()
		l := newLimiter(&now)
		hash := Key("10.0.0.3", "/login", true, false)

		for i := 0; i < 3; i++ {
			l.Register(ctx, hash)
			now = now.Add(5 * time.Minute)
		}

		// Trials kept coming, so the block outlives the first trial's window.
		now = now.Add(-time.Minute)
		require.Error(t, l.Check(ctx, hash))
	})

	t.Run("clear lifts the block", func(t *testing.T) {
		now := time.Now()
		l := newLimiter(&now)
		hash := Key("10.0.0.4", "/login", true, false)

		for i := 0; i < 3; i++ {
			l.Register(ctx, hash)
		}
		require.Error(t, l.Check(ctx, hash))

		l.Clear(ctx, hash)
		require.NoError(t, l.Check(ctx, hash))
	})
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*Attempt, error) {
	return nil, fmt.Errorf("store down")
}
func (failingStore) Put(context.Context, *Attempt) error { return fmt.Errorf("store down") }
func (failingStore) Clear(context.Context, string) error { return fmt.Errorf("store down") }

func TestLimiterFailsOpen(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(failingStore{}, 3, 10*time.Minute, quietLogger())
	hash := Key("10.0.0.1", "/login", true, false)

	// A broken attempt store must not lock anyone out.
	require.NoError(t, l.Check(ctx, hash))
	assert.Equal(t, 0, l.Register(ctx, hash))
	l.Clear(ctx, hash)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, time.Hour)

	a, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, a)

	require.NoError(t, s.Put(ctx, &Attempt{Hash: "h1", At: time.Now(), Trials: 2}))
	a, err = s.Get(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 2, a.Trials)

	require.NoError(t, s.Clear(ctx, "h1"))
	a, err = s.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, a)

	// LRU eviction caps the record count.
	require.NoError(t, s.Put(ctx, &Attempt{Hash: "h2"}))
	require.NoError(t, s.Put(ctx, &Attempt{Hash: "h3"}))
	require.NoError(t, s.Put(ctx, &Attempt{Hash: "h4"}))
	a, err = s.Get(ctx, "h2")
	require.NoError(t, err)
	assert.Nil(t, a)
}
