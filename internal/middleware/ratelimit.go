package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const maxRateLimitEntries = 100000

// Limiter is a per-client sliding window. Clients are keyed by RemoteAddr,
// so it belongs behind chi's RealIP middleware.
type Limiter struct {
	max    int
	window time.Duration

	mu       sync.Mutex
	requests map[string][]time.Time
	now      func() time.Time
}

func NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:      max,
		window:   window,
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetIn := l.allow(clientKey(r))

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.max))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetIn))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   "Too many requests. Please slow down.",
				"resetIn": resetIn,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) allow(key string) (allowed bool, remaining int, resetIn int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	filtered := l.prune(l.requests[key], now)

	if len(filtered) >= l.max {
		resetSec := int(filtered[0].Add(l.window).Sub(now).Seconds()) + 1
		l.requests[key] = filtered
		return false, 0, resetSec
	}

	if _, known := l.requests[key]; !known && len(l.requests) >= maxRateLimitEntries {
		return false, 0, int(l.window.Seconds())
	}

	filtered = append(filtered, now)
	l.requests[key] = filtered
	return true, l.max - len(filtered), 0
}

func (l *Limiter) prune(requests []time.Time, now time.Time) []time.Time {
	windowStart := now.Add(-l.window)
	filtered := requests[:0]
	for _, t := range requests {
		if t.After(windowStart) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// StartCleanup drops idle clients every minute until ctx is done.
func (l *Limiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, requests := range l.requests {
		filtered := l.prune(requests, now)
		if len(filtered) == 0 {
			delete(l.requests, key)
		} else {
			l.requests[key] = filtered
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
