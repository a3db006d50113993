package rate

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter: misma semántica de sliding window que RedisLimiter, sobre
// go-cache. Para dev y tests; no sirve para múltiples réplicas.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   *gocache.Cache
	Max    int64
	Window time.Duration

	now func() time.Time // inyectable en tests
}

type window struct{ stamps []time.Time }

func NewMemoryLimiter(max int, windowDur time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		hits:   gocache.New(windowDur*2, windowDur*4),
		Max:    int64(max),
		Window: windowDur,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.Window)

	var w *window
	if v, ok := l.hits.Get(key); ok {
		w = v.(*window)
	} else {
		w = &window{}
	}

	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = append(kept, now)
	l.hits.Set(key, w, l.Window*2)

	hits := int64(len(w.stamps))
	res := Result{Allowed: hits <= l.Max, Remaining: max64(l.Max-hits, 0)}
	if !res.Allowed {
		res.RetryAfter = w.stamps[0].Add(l.Window).Sub(now)
		if res.RetryAfter <= 0 {
			res.RetryAfter = l.Window
		}
	}
	return res, nil
}
