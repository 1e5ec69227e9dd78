package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// RateLimitConfig is a budget of RequestsPerWindow per WindowDuration plus
// BurstSize extra requests for an idle key
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
	BurstSize         int
}

// Capacity is the most requests a key may make back to back
func (c RateLimitConfig) Capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

func (c RateLimitConfig) perSecond() float64 {
	if c.WindowDuration <= 0 {
		return 0
	}
	return float64(c.RequestsPerWindow) / c.WindowDuration.Seconds()
}

// DefaultShareLinkRateLimitConfig returns the limits for public share-link requests
func DefaultShareLinkRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// Limiter decides whether one more request for key may proceed
type Limiter interface {
	Take(ctx context.Context, key string) (bool, error)
	Config() RateLimitConfig
	SetConfig(config *RateLimitConfig)
}

// RateLimiter is an in-process token bucket per key. It refills
// continuously at RequestsPerWindow per WindowDuration.
type RateLimiter struct {
	clock vfs.Clock

	mu      sync.Mutex
	config  RateLimitConfig
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter creates a limiter; nil config and clock take the defaults
func NewRateLimiter(config *RateLimitConfig, clock vfs.Clock) *RateLimiter {
	if config == nil {
		config = DefaultShareLinkRateLimitConfig()
	}
	if clock == nil {
		clock = vfs.RealClock{}
	}
	return &RateLimiter{
		clock:   clock,
		config:  *config,
		buckets: make(map[string]*bucket),
	}
}

// refill returns key's bucket topped up to now. Callers hold mu.
func (rl *RateLimiter) refill(key string) *bucket {
	now := rl.clock.Now()
	capacity := float64(rl.config.Capacity())

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, seen: now}
		rl.buckets[key] = b
		return b
	}
	if elapsed := now.Sub(b.seen); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed.Seconds()*rl.config.perSecond())
	}
	b.seen = now
	return b
}

// Allow spends one token of key's bucket if there is one
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.refill(key)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Take implements Limiter and never fails
func (rl *RateLimiter) Take(_ context.Context, key string) (bool, error) {
	return rl.Allow(key), nil
}

// Remaining is the number of whole tokens key has left
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if _, ok := rl.buckets[key]; !ok {
		return rl.config.Capacity()
	}
	return int(rl.refill(key).tokens)
}

func (rl *RateLimiter) Config() RateLimitConfig {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.config
}

// SetConfig replaces the limits. Buckets above the new capacity are clamped.
func (rl *RateLimiter) SetConfig(config *RateLimitConfig) {
	if config == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.config = *config
	capacity := float64(config.Capacity())
	for _, b := range rl.buckets {
		b.tokens = math.Min(b.tokens, capacity)
	}
}

// Cleanup forgets keys idle for more than two windows; they start full again
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.clock.Now().Add(-2 * rl.config.WindowDuration)
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(rl.Config().WindowDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitByVar limits requests per value of a mux path variable, falling
// back to the client IP when the variable is absent. Limiter errors fail open.
func RateLimitByVar(limiter Limiter, varName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := varName + ":" + mux.Vars(r)[varName]
			if mux.Vars(r)[varName] == "" {
				key = "ip:" + getClientIP(r)
			}

			config := limiter.Config()
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))

			allowed, err := limiter.Take(r.Context(), key)
			if err == nil && !allowed {
				retryAfter := strconv.Itoa(int(math.Ceil(config.WindowDuration.Seconds())))
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("X-RateLimit-Remaining", "0")
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded, retry after "+retryAfter+"s")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's address
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
