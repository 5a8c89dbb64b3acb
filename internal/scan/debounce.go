package scan

import (
	"sync"
	"time"
)

// Debouncer suppresses a token seen again within the cooldown of its last
// accepted scan. A different token is always accepted and becomes the one
// being tracked.
type Debouncer struct {
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last string
	at   time.Time
}

// NewDebouncer returns a debouncer; a non-positive cooldown defaults to 3s.
func NewDebouncer(cooldown time.Duration) *Debouncer {
	if cooldown <= 0 {
		cooldown = 3 * time.Second
	}
	return &Debouncer{cooldown: cooldown, now: time.Now}
}

// Allow reports whether token should be handled, recording it if so.
func (d *Debouncer) Allow(token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if token == d.last && now.Sub(d.at) < d.cooldown {
		return false
	}
	d.last, d.at = token, now
	return true
}

// Reset forgets the last token.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.last, d.at = "", time.Time{}
	d.mu.Unlock()
}
