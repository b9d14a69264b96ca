package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientIdleTTL is how long a client's bucket is kept after its last request
const clientIdleTTL = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client address. Buckets of clients that
// stayed quiet for clientIdleTTL are dropped on the next sweep.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time

	limit rate.Limit
	burst int
	now   func() time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per client
func NewRateLimiter(rps, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// allow takes a token for key. When none is left it returns how long until one is.
func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	if now.Sub(rl.lastSweep) >= clientIdleTTL {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) >= clientIdleTTL {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	reservation := c.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, 0
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// clientCount is the number of buckets currently held
func (rl *RateLimiter) clientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitMiddleware answers 429 with a Retry-After header once a client's bucket is empty
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, wait := rl.allow(clientKey(r))
			if !allowed {
				seconds := int(math.Ceil(wait.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				respondError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "Rate limit exceeded. Please try again later.", map[string]interface{}{
					"limit":      float64(rl.limit),
					"retryAfter": seconds,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
