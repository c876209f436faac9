// Package ratelimit throttles webhook deliveries per sender with token
// buckets. Idle buckets expire so the key space stays bounded.
package ratelimit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"webhook-verifier/internal/common/logging"
)

// Config controls the per-key token buckets.
type Config struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops a key's bucket after this long without traffic.
	IdleTTL time.Duration
	// TrustProxyHeaders keys on X-Forwarded-For and X-Real-IP. Only enable
	// behind a proxy that overwrites them; otherwise senders pick their key.
	TrustProxyHeaders bool
}

// DefaultConfig returns a disabled limiter configuration with sane rates.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		RequestsPerSecond: 10,
		BurstSize:         20,
		IdleTTL:           10 * time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if c.BurstSize < 1 {
		return fmt.Errorf("burst size must be at least 1")
	}
	return nil
}

// Limiter hands out one token bucket per key.
type Limiter struct {
	config   Config
	limiters *gocache.Cache
}

// NewLimiter creates a limiter. A zero IdleTTL defaults to ten minutes.
func NewLimiter(config Config) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}

	return &Limiter{
		config:   config,
		limiters: gocache.New(config.IdleTTL, config.IdleTTL),
	}, nil
}

// Allow reports whether key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.limiterFor(key).Allow()
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	if v, ok := l.limiters.Get(key); ok {
		limiter := v.(*rate.Limiter)
		// Sliding expiry
		l.limiters.SetDefault(key, limiter)
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize)
	if err := l.limiters.Add(key, limiter, gocache.DefaultExpiration); err != nil {
		// Lost the race to another request for the same key
		if v, ok := l.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// HTTPMiddleware rejects requests over the limit with 429. Requests whose
// key is empty pass through.
func (l *Limiter) HTTPMiddleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	retryAfter := fmt.Sprintf("%d", int(math.Ceil(1/math.Max(l.config.RequestsPerSecond, 1e-9))))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" || l.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}

			logging.GetGlobalLogger().WithContext(r.Context()).Warn("Rate limit exceeded",
				logging.String("key", key),
				logging.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", retryAfter)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		})
	}
}

// IPBasedKey keys on the connection's remote host. Client-supplied headers
// are ignored.
func IPBasedKey(r *http.Request) string {
	return fmt.Sprintf("ip:%s", remoteHost(r))
}

// ForwardedIPKey keys on the first X-Forwarded-For hop, then X-Real-IP, then
// the remote host. Use it only behind a trusted proxy.
func ForwardedIPKey(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if i := strings.IndexByte(ip, ','); i >= 0 {
		ip = ip[:i]
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = strings.TrimSpace(r.Header.Get("X-Real-IP"))
	}
	if ip == "" {
		ip = remoteHost(r)
	}
	return fmt.Sprintf("ip:%s", ip)
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// EndpointIPKey scopes the client key to the request path so one noisy route
// does not starve another. Proxy headers count only if TrustProxyHeaders is set.
func (l *Limiter) EndpointIPKey(r *http.Request) string {
	key := IPBasedKey(r)
	if l.config.TrustProxyHeaders {
		key = ForwardedIPKey(r)
	}
	return fmt.Sprintf("%s:%s", r.URL.Path, key)
}
