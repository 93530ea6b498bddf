package application

import (
	"sync"
	"time"

	escalation "safeflame/internal/escalation/domain"
)

type cooldownKey struct {
	kind escalation.AlertKind
	zone string
}

// Cooldown suppresses repeats of the same (kind, zone) pair inside one shared window.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[cooldownKey]time.Time
}

// NewCooldown constructs a filter with the given window.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window,
		last:   make(map[cooldownKey]time.Time),
	}
}

// SetWindow replaces the window; recorded emissions are kept.
func (c *Cooldown) SetWindow(window time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.window = window
	c.mu.Unlock()
}

// Window returns the active window.
func (c *Cooldown) Window() time.Duration {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// Allow reports whether an alert may be emitted at now and records it when so.
// A rejected call leaves the stored timestamp untouched.
func (c *Cooldown) Allow(kind escalation.AlertKind, zone string, now time.Time) bool {
	if c == nil {
		return true
	}
	key := cooldownKey{kind: kind, zone: zone}
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[key] = now
	return true
}
