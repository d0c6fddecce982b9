package mid

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitOpts configures per-client rate limiting.
type RateLimitOpts struct {
	// RPS is the sustained requests per second per client. Zero disables.
	RPS float64
	// Burst is the bucket size. Zero uses max(1, RPS).
	Burst int
	// IdleTTL evicts limiters for clients silent this long.
	IdleTTL time.Duration
}

// retryAfter is the Retry-After hint, in seconds, sent with a 429.
const retryAfter = 1

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimit rejects clients exceeding their token bucket with 429. Clients
// are keyed by remote IP.
func RateLimit(opts RateLimitOpts) Middleware {
	if opts.RPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.RPS))
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}

	var mu sync.Mutex
	clients := make(map[string]*clientLimiter)
	lastSweep := time.Now()

	limiterFor := func(key string, now time.Time) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if now.Sub(lastSweep) > opts.IdleTTL {
			for k, c := range clients {
				if now.Sub(c.seen) > opts.IdleTTL {
					delete(clients, k)
				}
			}
			lastSweep = now
		}
		c, ok := clients[key]
		if !ok {
			c = &clientLimiter{lim: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst)}
			clients[key] = c
		}
		c.seen = now
		return c.lim
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			if !limiterFor(clientKey(r), now).AllowN(now, 1) {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
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
