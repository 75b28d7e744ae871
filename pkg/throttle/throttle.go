// Package throttle tracks failed login attempts and blocks callers that
// exceed a trial budget inside a sliding window. Attempt records are keyed
// by an opaque hash derived from the caller's address and the requested
// resource, so no raw addresses are persisted.
package throttle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Attempt is one tracked series of failed trials for a hash.
type Attempt struct {
	Hash   string    `json:"hash"`
	At     time.Time `json:"at"`
	Trials int       `json:"trials"`
}

// TooManyAttemptsError is returned by Check when the trial budget for a
// hash is exhausted inside the window.
type TooManyAttemptsError struct {
	Hash       string
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

// Store persists attempt records. A Get miss is (nil, nil). Implementations
// expire records on their own after the window they were configured with.
type Store interface {
	Get(ctx context.Context, hash string) (*Attempt, error)
	Put(ctx context.Context, attempt *Attempt) error
	Clear(ctx context.Context, hash string) error
}

// Key derives the attempt hash for a caller address and resource. The two
// include flags choose which parts participate, so deployments can throttle
// per address, per resource, or per combination.
func Key(addr, resource string, includeAddr, includeResource bool) string {
	h := sha256.New()
	if includeAddr {
		h.Write([]byte(addr))
		h.Write([]byte{0})
	}
	if includeResource {
		h.Write([]byte(resource))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Limiter enforces the trial budget. Store failures never block a caller;
// they are logged and the check passes. Blocking a login because the
// attempt store is down would turn a cache outage into a lockout.
type Limiter struct {
	store     Store
	maxTrials int
	window    time.Duration
	log       *logrus.Logger
	now       func() time.Time
}

// NewLimiter creates a limiter allowing maxTrials failed attempts per
// window. A nil logger falls back to a default logrus logger.
func NewLimiter(store Store, maxTrials int, window time.Duration, log *logrus.Logger) *Limiter {
	if log == nil {
		log = logrus.New()
	}
	return &Limiter{
		store:     store,
		maxTrials: maxTrials,
		window:    window,
		log:       log,
		now:       time.Now,
	}
}

// Check returns TooManyAttemptsError when the hash has exhausted its trial
// budget inside the window. Attempts older than the window do not count.
// Store errors fail open.
func (l *Limiter) Check(ctx context.Context, hash string) error {
	attempt, err := l.store.Get(ctx, hash)
	if err != nil {
		l.log.WithError(err).Warn("attempt store unavailable, failing open")
		return nil
	}
	if attempt == nil {
		return nil
	}

	age := l.now().Sub(attempt.At)
	if age >= l.window {
		return nil
	}
	if attempt.Trials < l.maxTrials {
		return nil
	}
	return &TooManyAttemptsError{Hash: hash, RetryAfter: l.window - age}
}

// Register records one failed trial for the hash and returns the updated
// trial count. The window restarts with every trial, so steady failures
// keep the block alive. Store errors fail open and report zero trials.
func (l *Limiter) Register(ctx context.Context, hash string) int {
	attempt, err := l.store.Get(ctx, hash)
	if err != nil {
		l.log.WithError(err).Warn("attempt store unavailable, trial not recorded")
		return 0
	}

	now := l.now()
	if attempt == nil || now.Sub(attempt.At) >= l.window {
		attempt = &Attempt{Hash: hash}
	}
	attempt.At = now
	attempt.Trials++

	if err := l.store.Put(ctx, attempt); err != nil {
		l.log.WithError(err).Warn("attempt store unavailable, trial not recorded")
		return 0
	}
	return attempt.Trials
}

// Clear forgets the attempt series for the hash, typically after a
// successful login.
func (l *Limiter) Clear(ctx context.Context, hash string) {
	if err := l.store.Clear(ctx, hash); err != nil {
		l.log.WithError(err).Warn("failed to clear attempt record")
	}
}
