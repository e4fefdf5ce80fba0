// Package middleware holds the HTTP middleware shared by the API routes.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Config tunes the per-IP token bucket limiter.
type Config struct {
	RequestsPerSecond int
	Burst             int
	// BlockDuration is how long an IP stays blocked after draining its
	// bucket.
	BlockDuration time.Duration

	CleanupInterval time.Duration
	BucketTTL       time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 100,
		Burst:             200,
		BlockDuration:     time.Minute,
		CleanupInterval:   5 * time.Minute,
		BucketTTL:         time.Hour,
	}
}

// Limiter is a token bucket rate limiter keyed by client IP.
type Limiter struct {
	cfg Config

	mu      sync.RWMutex
	buckets map[string]*bucket

	ticker *time.Ticker
	stopCh chan struct{}
}

type bucket struct {
	mu           sync.Mutex
	tokens       float64
	lastUpdate   time.Time
	blockedUntil time.Time
}

// NewLimiter creates a limiter and starts its cleanup loop.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.BucketTTL <= 0 {
		cfg.BucketTTL = def.BucketTTL
	}

	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		ticker:  time.NewTicker(cfg.CleanupInterval),
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Stop ends the cleanup loop.
func (l *Limiter) Stop() {
	close(l.stopCh)
	l.ticker.Stop()
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup drops buckets that have not been touched within the TTL.
func (l *Limiter) cleanup() {
	threshold := time.Now().Add(-l.cfg.BucketTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		b.mu.Lock()
		stale := b.lastUpdate.Before(threshold)
		b.mu.Unlock()
		if stale {
			delete(l.buckets, ip)
		}
	}
}

func (l *Limiter) getBucket(ip string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[ip]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[ip]; ok {
		return b
	}
	b = &bucket{tokens: float64(l.cfg.Burst), lastUpdate: time.Now()}
	l.buckets[ip] = b
	return b
}

// Allow consumes one token for ip. When the bucket is empty the IP is
// blocked and the seconds until the next permitted request are returned.
func (l *Limiter) Allow(ip string) (bool, int) {
	b := l.getBucket(ip)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Before(b.blockedUntil) {
		return false, int(b.blockedUntil.Sub(now).Seconds()) + 1
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens += elapsed * float64(l.cfg.RequestsPerSecond)
	if b.tokens > float64(l.cfg.Burst) {
		b.tokens = float64(l.cfg.Burst)
	}
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	b.blockedUntil = now.Add(l.cfg.BlockDuration)
	return false, int(l.cfg.BlockDuration.Seconds())
}

// RateLimit rejects requests over the per-IP budget with 429.
func RateLimit(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := l.Allow(ClientIP(r))
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":      "RATE_LIMITED",
					"message":    "too many requests",
					"retryAfter": retryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == ':' {
			return ip[:i]
		}
	}
	return ip
}
