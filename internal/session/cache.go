package session

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSessions bounds the in-memory cache when no size is configured.
const DefaultMaxSessions = 1000

// Cache holds session views keyed by user and session.
// Get returns (nil, false, nil) on a miss.
type Cache interface {
	Get(ctx context.Context, userID, sessionID string) (*Entry, bool, error)
	Set(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, userID, sessionID string) error
}

// MemoryCache is a bounded, least-recently-used in-process Cache.
// Entries are cloned on the way in and out.
type MemoryCache struct {
	entries *lru.Cache[string, *Entry]
}

// NewMemoryCache creates a cache holding at most maxSessions entries.
func NewMemoryCache(maxSessions int) (*MemoryCache, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	entries, err := lru.New[string, *Entry](maxSessions)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &MemoryCache{entries: entries}, nil
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, userID, sessionID string) (*Entry, bool, error) {
	e, ok := c.entries.Get(Key(userID, sessionID))
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, e *Entry) error {
	c.entries.Add(Key(e.UserID, e.SessionID), e.Clone())
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, userID, sessionID string) error {
	c.entries.Remove(Key(userID, sessionID))
	return nil
}

// Len returns the number of cached sessions.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
