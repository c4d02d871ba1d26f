package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"
)

// Factory construye un Limiter para una configuración limit+window.
type Factory func(limit int, window time.Duration) Limiter

// Pool mantiene un Limiter cacheado por configuración, así cada endpoint
// puede pedir su propio límite sin crear limiters en cada request.
type Pool struct {
	factory Factory
	mu      sync.RWMutex
	// Cache de limiters por configuración
	limiters map[string]Limiter

	defLimit  int
	defWindow time.Duration
}

func NewPool(f Factory, defLimit int, defWindow time.Duration) *Pool {
	if defLimit <= 0 {
		defLimit = 60
	}
	if defWindow <= 0 {
		defWindow = time.Minute
	}
	return &Pool{factory: f, limiters: make(map[string]Limiter), defLimit: defLimit, defWindow: defWindow}
}

// NewRedisPool arma un Pool sobre Redis.
func NewRedisPool(client rdb.UniversalClient, prefix string, defLimit int, defWindow time.Duration) *Pool {
	return NewPool(func(limit int, window time.Duration) Limiter {
		return NewRedisLimiter(client, prefix, limit, window)
	}, defLimit, defWindow)
}

// NewMemoryPool arma un Pool en memoria; todos los limiters comparten el
// mismo go-cache.
func NewMemoryPool(prefix string, defLimit int, defWindow time.Duration) *Pool {
	c := gocache.New(gocache.NoExpiration, time.Minute)
	return NewPool(func(limit int, window time.Duration) Limiter {
		return NewMemoryLimiter(c, prefix, limit, window)
	}, defLimit, defWindow)
}

func (p *Pool) AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	configKey := fmt.Sprintf("%d:%s", limit, window.String())

	p.mu.RLock()
	limiter, exists := p.limiters[configKey]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		// double-check
		if limiter, exists = p.limiters[configKey]; !exists {
			limiter = p.factory(limit, window)
			p.limiters[configKey] = limiter
		}
		p.mu.Unlock()
	}
	// la clave incluye la configuración para que dos límites sobre la misma
	// clave no compartan contador
	return limiter.Allow(ctx, configKey+"|"+key)
}

// Allow usa el límite por defecto del pool.
func (p *Pool) Allow(ctx context.Context, key string) (Result, error) {
	return p.AllowWithLimits(ctx, key, p.defLimit, p.defWindow)
}
