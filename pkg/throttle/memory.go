package throttle

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps attempt records in a process-local expirable LRU. Suited
// for single-instance deployments; multi-instance setups want RedisStore so
// attempts aggregate across processes.
type MemoryStore struct {
	lru *expirable.LRU[string, Attempt]
}

// NewMemoryStore creates a memory store holding at most size records, each
// expiring after the window.
func NewMemoryStore(size int, window time.Duration) *MemoryStore {
	return &MemoryStore{
		lru: expirable.NewLRU[string, Attempt](size, nil, window),
	}
}

func (s *MemoryStore) Get(_ context.Context, hash string) (*Attempt, error) {
	a, ok := s.lru.Get(hash)
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *MemoryStore) Put(_ context.Context, attempt *Attempt) error {
	s.lru.Add(attempt.Hash, *attempt)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, hash string) error {
	s.lru.Remove(hash)
	return nil
}
