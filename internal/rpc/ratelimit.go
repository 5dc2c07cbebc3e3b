package rpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-IP token bucket. Entries idle for more than
// ten minutes are dropped by the sweeper.
type rateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*ipLimiter

	stop chan struct{}
	once sync.Once
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	rl := &rateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*ipLimiter),
		stop:     make(chan struct{}),
	}
	go rl.sweep(5 * time.Minute)
	return rl
}

// Allow reports whether a request from ip may proceed.
func (rl *rateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	rl.mu.Unlock()
	return l.limiter.Allow()
}

func (rl *rateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			for ip, l := range rl.limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(rl.limiters, ip)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Close stops the sweeper.
func (rl *rateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}
