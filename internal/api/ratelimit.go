package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxClients bounds the limiter table. A full table sweeps idle clients first and
	// then evicts the least recently seen one.
	maxClients = 10_000

	// clientIdle is how long an unused limiter is kept.
	clientIdle = 10 * time.Minute
)

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
	max     int
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter allows rps requests per second per IP with the given burst.
func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst < 1 {
		burst = 1
	}

	return &rateLimiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(rps),
		burst:   burst,
		max:     maxClients,
		now:     time.Now,
	}
}

// allow reports whether the client at key may make a request now.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	c, ok := rl.clients[key]
	if !ok {
		if len(rl.clients) >= rl.max {
			rl.sweep(now)
		}

		if len(rl.clients) >= rl.max {
			rl.evictOldest()
		}

		c = &client{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[key] = c
	}

	c.lastSeen = now

	return c.limiter.AllowN(now, 1)
}

// sweep drops clients idle for longer than clientIdle. Caller holds mu.
func (rl *rateLimiter) sweep(now time.Time) {
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > clientIdle {
			delete(rl.clients, key)
		}
	}
}

// evictOldest drops the least recently seen client. Caller holds mu.
func (rl *rateLimiter) evictOldest() {
	var (
		oldest string
		seen   time.Time
		found  bool
	)

	for key, c := range rl.clients {
		if !found || c.lastSeen.Before(seen) {
			oldest, seen, found = key, c.lastSeen, true
		}
	}

	delete(rl.clients, oldest)
}

// clientIP returns the remote host without port. Forwarding headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
