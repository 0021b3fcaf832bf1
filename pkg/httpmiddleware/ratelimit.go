package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HeaderAPIKey is the header carrying the client API key.
const HeaderAPIKey = "api_key"

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the window length.
	Window time.Duration
	// KeyFunc selects the limited client. Defaults to ClientKey.
	KeyFunc func(*http.Request) string
}

// window approximates a sliding window from two fixed windows: the previous
// window's count is weighted by its remaining overlap.
type window struct {
	start     time.Time
	count     float64
	prevCount float64
}

type limiter struct {
	max  int
	size time.Duration
	key  func(*http.Request) string

	mu      sync.Mutex
	clients map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{
		max:     cfg.Max,
		size:    cfg.Window,
		key:     cfg.KeyFunc,
		clients: make(map[string]*window),
	}
	if l.key == nil {
		l.key = ClientKey
	}
	return l
}

// take records a request for key at now. It reports whether the request is
// allowed, how many remain, and when the current window resets.
func (l *limiter) take(key string, now time.Time) (allowed bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.clients[key]
	if !ok {
		w = &window{start: now.Truncate(l.size)}
		l.clients[key] = w
	}

	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*l.size:
		w.start, w.count, w.prevCount = now.Truncate(l.size), 0, 0
	case elapsed >= l.size:
		w.start, w.count, w.prevCount = w.start.Add(l.size), 0, w.count
	}

	overlap := 1 - now.Sub(w.start).Seconds()/l.size.Seconds()
	used := w.prevCount*math.Max(overlap, 0) + w.count
	reset = w.start.Add(l.size)

	if used >= float64(l.max) {
		return false, 0, reset
	}
	w.count++
	return true, max(int(float64(l.max)-used-1), 0), reset
}

// evict drops clients idle for two windows.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.clients {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.clients, key)
		}
	}
}

func (l *limiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * l.size)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

// RateLimit returns a middleware enforcing a per-client sliding window limit.
// Rejected requests get 429 with a Retry-After header; every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a background goroutine, stopped by
// ctx, that evicts idle clients.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.evictLoop(ctx)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, reset := l.take(l.key(r), time.Now())

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			retry := math.Ceil(max(time.Until(reset), 0).Seconds())
			h.Set("Retry-After", strconv.Itoa(int(retry)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the client by API key when one is sent, otherwise by
// IP address (X-Forwarded-For, X-Real-IP, then RemoteAddr).
func ClientKey(r *http.Request) string {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return "key:" + key
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
