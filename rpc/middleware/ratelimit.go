package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorTTL = 10 * time.Minute

type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per caller key. A zero limit disables it.
type RateLimiter struct {
	limit    RateLimit
	logger   *slog.Logger
	mu       sync.Mutex
	visitors map[string]*visitor
	clockNow func() time.Time
}

func NewRateLimiter(limit RateLimit, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		limit:    limit,
		logger:   logger,
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

// Enabled reports whether the limiter throttles anything.
func (r *RateLimiter) Enabled() bool {
	return r != nil && r.limit.RequestsPerSecond > 0
}

// Allow consumes one token from key's bucket.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}
	now := r.clockNow()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict(now)
	v, ok := r.visitors[key]
	if !ok {
		burst := r.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(r.limit.RequestsPerSecond), burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	if !v.limiter.AllowN(now, 1) {
		r.logger.Debug("rate limit exceeded", "key", key)
		return false
	}
	return true
}

func (r *RateLimiter) evict(now time.Time) {
	for key, v := range r.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(r.visitors, key)
		}
	}
}

// Middleware throttles every request by caller key.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Allow(CallerKey(req)) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// CallerKey identifies the caller of req: the authenticated subject when
// present, otherwise the client address.
func CallerKey(req *http.Request) string {
	if p, ok := PrincipalFrom(req.Context()); ok && p.Subject != "" {
		return "sub:" + strings.ToLower(p.Subject)
	}
	return "ip:" + clientIP(req)
}

func clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
