package server

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/makr-code/loraforge/internal/auth"
)

// limiterIdleTTL is how long a per-key limiter may sit unused before
// limiterFor's sweep reclaims it. Generous relative to any realistic
// request gap within a single session, tight enough to bound memory for a
// service that sees a steadily churning population of remote addresses or
// user IDs over its lifetime.
const limiterIdleTTL = 10 * time.Minute

// rateLimiter bounds requests per authenticated principal (falling back to
// remote address for anonymous requests), one token bucket per key. The
// per-key rate.Limiter itself is the same type the corpus's outbound API
// clients use to throttle calls they make; here it throttles calls made
// to this service instead.
type rateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rps       rate.Limit
	burst     int
	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter builds a rateLimiter allowing ratePerSecond sustained
// requests with a burst of up to burst, per key.
func newRateLimiter(ratePerSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(ratePerSecond),
		burst:    burst,
	}
}

func (rl *rateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now

	if now.Sub(rl.lastSweep) >= limiterIdleTTL {
		for k, entry := range rl.limiters {
			if now.Sub(entry.lastSeen) >= limiterIdleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}

	return e.limiter
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if p := auth.PrincipalFromContext(r.Context()); p != nil && p.UserID != "" {
			key = p.UserID
		}
		if !rl.limiterFor(key).Allow() {
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
