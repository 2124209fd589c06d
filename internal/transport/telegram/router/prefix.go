package router

import (
	"context"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

type prefixEntry struct {
	value string
	set   bool
	at    time.Time
}

// prefixCache keeps custom prefixes so routing does not hit the store for
// every message. Writers call invalidate after changing a prefix.
type prefixCache struct {
	src PrefixSource
	ttl time.Duration

	mu sync.Mutex
	m  map[int64]prefixEntry
}

func newPrefixCache(src PrefixSource, ttl time.Duration) *prefixCache {
	return &prefixCache{src: src, ttl: ttl, m: map[int64]prefixEntry{}}
}

func (c *prefixCache) get(ctx context.Context, chatID int64, log logx.Logger) (string, bool) {
	if c == nil || c.src == nil {
		return "", false
	}
	now := time.Now()
	c.mu.Lock()
	e, ok := c.m[chatID]
	c.mu.Unlock()
	if ok && now.Sub(e.at) < c.ttl {
		return e.value, e.set
	}

	lctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	p, set, err := c.src.Prefix(lctx, chatID)
	if err != nil {
		// fall back to the default prefix; retry on the next message
		log.Warn("prefix lookup failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return "", false
	}
	c.mu.Lock()
	if len(c.m) > 10000 {
		clear(c.m)
	}
	c.m[chatID] = prefixEntry{value: p, set: set, at: now}
	c.mu.Unlock()
	return p, set
}

func (c *prefixCache) invalidate(chatID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.m, chatID)
	c.mu.Unlock()
}
