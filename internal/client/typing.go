package client

import (
	"sync"
	"time"
)

// typingFlag is a self-expiring indicator. Each Set renews the expiry, so the
// flag stays up while pulses keep arriving and clears on its own afterwards.
type typingFlag struct {
	mu    sync.Mutex
	ttl   time.Duration
	until time.Time
	now   func() time.Time
}

func newTypingFlag(ttl time.Duration) *typingFlag {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &typingFlag{ttl: ttl, now: time.Now}
}

// Set raises the flag for the configured ttl from now.
func (f *typingFlag) Set() {
	f.mu.Lock()
	f.until = f.now().Add(f.ttl)
	f.mu.Unlock()
}

// Clear lowers the flag immediately, used when a message arrives.
func (f *typingFlag) Clear() {
	f.mu.Lock()
	f.until = time.Time{}
	f.mu.Unlock()
}

// Active reports whether the flag is currently raised.
func (f *typingFlag) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(f.until)
}
