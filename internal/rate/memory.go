package rate

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter es el mismo fixed window que RedisLimiter pero local al
// proceso. Sirve para un solo nodo o cuando no hay Redis configurado.
type MemoryLimiter struct {
	c      *gocache.Cache
	Prefix string
	Max    int64
	Window time.Duration

	now func() time.Time
}

func NewMemoryLimiter(c *gocache.Cache, prefix string, max int, window time.Duration) *MemoryLimiter {
	if c == nil {
		c = gocache.New(gocache.NoExpiration, time.Minute)
	}
	if prefix == "" {
		prefix = "rl:"
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{c: c, Prefix: prefix, Max: int64(max), Window: window, now: time.Now}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	now := l.now().UTC()
	winStart := now.Truncate(l.Window)
	k := windowKey(l.Prefix, key, winStart)
	ttl := winStart.Add(l.Window).Sub(now)

	// Add falla si la clave ya existe; en ese caso incrementamos.
	var hits int64 = 1
	if err := l.c.Add(k, int64(1), l.Window); err != nil {
		n, err := l.c.IncrementInt64(k, 1)
		if err != nil {
			// la entrada expiró entre Add e Increment
			l.c.Set(k, int64(1), l.Window)
			n = 1
		}
		hits = n
	}
	return result(hits, l.Max, ttl, l.Window), nil
}
