package bot

import (
	"sync"
	"time"
)

// rateLimiter allows at most limit events per chat within window.
type rateLimiter struct {
	now    func() time.Time
	chats  map[int64][]time.Time
	window time.Duration
	limit  int
	mu     sync.Mutex
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		now:    time.Now,
		chats:  make(map[int64][]time.Time),
		window: window,
		limit:  limit,
	}
}

func (rl *rateLimiter) allow(chatID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	// Clean old entries
	var recent []time.Time
	for _, ts := range rl.chats[chatID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= rl.limit {
		rl.chats[chatID] = recent
		return false
	}

	rl.chats[chatID] = append(recent, now)
	return true
}
