package csrf

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore keeps tokens in a bounded LRU. When full, the least recently
// touched session is evicted.
type MemoryStore struct {
	cache *lru.Cache[string, Entry]
}

func NewMemoryStore(maxSessions int) (*MemoryStore, error) {
	cache, err := lru.New[string, Entry](maxSessions)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) Put(_ context.Context, sessionKey string, e Entry) error {
	s.cache.Add(sessionKey, e)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionKey string) (Entry, bool, error) {
	e, ok := s.cache.Get(sessionKey)
	return e, ok, nil
}

func (s *MemoryStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	removed := 0
	for _, key := range s.cache.Keys() {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		e, ok := s.cache.Peek(key)
		if ok && e.IssuedAt.Before(olderThan) {
			s.cache.Remove(key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
