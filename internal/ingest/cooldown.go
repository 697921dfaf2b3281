package ingest

import (
	"sync"
	"time"
)

// Cooldown admits one action per key per window.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{
		last: make(map[string]time.Time),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (c *Cooldown) Allow(key string, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && now.Sub(ts) < window {
		return false
	}
	c.last[key] = now
	return true
}
