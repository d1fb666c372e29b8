// ABOUTME: Message cache with TTL freshness over an injectable Store
// ABOUTME: Store failures are logged and treated as misses, never surfaced to callers

package msgcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/alumni-dm/internal/chat"
)

// DefaultTTL is how long a cached history stays fresh.
const DefaultTTL = 24 * time.Hour

// Cache reads and writes whole per-conversation message histories.
type Cache struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New creates a cache over store. A nil store disables caching: reads miss and
// writes are dropped. A non-positive ttl uses DefaultTTL.
func New(store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "msgcache"),
	}
}

// SetClock replaces the time source, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Read returns the cached messages for a conversation if the entry is fresh.
// The second result is false on a miss, a stale entry, or any store error.
func (c *Cache) Read(ctx context.Context, conversationID string) ([]chat.Message, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}

	rec, err := c.store.Get(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("cache read failed, treating as miss",
				"conversation_id", conversationID,
				"error", err)
		}
		return nil, false
	}

	if c.now().Sub(rec.StoredAt) >= c.ttl {
		return nil, false
	}

	var msgs []chat.Message
	if err := json.Unmarshal(rec.Data, &msgs); err != nil {
		c.logger.Warn("cache entry undecodable, treating as miss",
			"conversation_id", conversationID,
			"error", err)
		return nil, false
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs, true
}

// Write replaces the entry for a conversation with msgs, stamped now.
// Callers pass the full, ordered list they want cached.
func (c *Cache) Write(ctx context.Context, conversationID string, msgs []chat.Message) {
	if c == nil || c.store == nil {
		return
	}

	if msgs == nil {
		msgs = []chat.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		c.logger.Warn("cache entry unencodable, skipping write",
			"conversation_id", conversationID,
			"error", err)
		return
	}

	if err := c.store.Set(ctx, conversationID, Record{Data: data, StoredAt: c.now()}); err != nil {
		c.logger.Warn("cache write failed",
			"conversation_id", conversationID,
			"error", err)
	}
}

// Clear drops the entry for a conversation.
func (c *Cache) Clear(ctx context.Context, conversationID string) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, conversationID); err != nil {
		c.logger.Warn("cache clear failed",
			"conversation_id", conversationID,
			"error", err)
	}
}
