package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiters holds an optional per-profile rate.Limiter so a profile freshly
// recovered from cooldown is not immediately saturated by every queued
// request piling onto it at once.
type Limiters struct {
	mu  sync.Mutex
	r   rate.Limit
	b   int
	all map[string]*rate.Limiter
}

// NewLimiters builds a Limiters issuing r events/sec with burst b for any
// profile that requests one. r<=0 disables limiting (Allow always true).
func NewLimiters(r rate.Limit, b int) *Limiters {
	return &Limiters{r: r, b: b, all: make(map[string]*rate.Limiter)}
}

// Allow reports whether profileID may proceed right now, consuming a token
// if so. Always true when limiting is disabled.
func (l *Limiters) Allow(profileID string) bool {
	if l.r <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.all[profileID]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.all[profileID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
