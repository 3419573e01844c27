package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxClients caps the number of tracked client IPs to bound memory.
const maxClients = 10000

// clientLimiter pairs a token bucket with its last-seen time so stale
// entries can be evicted.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-IP request rate on the control surface.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientLimiter
	limit      rate.Limit
	burst      int
	trustProxy bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewRateLimiter creates a per-IP rate limiter.
// requestsPerMinute is spread into a steady token rate with a burst of the
// same size, so a quiet client can still issue a short flurry.
func NewRateLimiter(requestsPerMinute int, trustProxy bool) *RateLimiter {
	rl := &RateLimiter{
		clients:    make(map[string]*clientLimiter),
		limit:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:      requestsPerMinute,
		trustProxy: trustProxy,
		stopCh:     make(chan struct{}),
	}

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		rl.cleanupRoutine()
	}()

	return rl
}

// Allow reports whether a request from the given IP may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, exists := rl.clients[ip]
	if !exists {
		if len(rl.clients) >= maxClients {
			rl.evictOldest()
		}
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = time.Now()

	return c.limiter.Allow()
}

func (rl *RateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStale()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanupStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// evictOldest removes the least recently seen client. Caller holds rl.mu.
func (rl *RateLimiter) evictOldest() {
	var oldestIP string
	var oldestTime time.Time
	first := true

	for ip, c := range rl.clients {
		if first || c.lastSeen.Before(oldestTime) {
			oldestIP = ip
			oldestTime = c.lastSeen
			first = false
		}
	}

	if oldestIP != "" {
		delete(rl.clients, oldestIP)
	}
}

// Close stops the cleanup routine. Idempotent.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCh)
		rl.wg.Wait()
	})
}

// Handler returns the middleware function backed by this limiter.
// Create the limiter once at server startup and reuse it for all routes;
// separate instances mean separate counters.
func (rl *RateLimiter) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r, rl.trustProxy)

			if !rl.Allow(ip) {
				w.Header().Set("Retry-After", "60")
				writeErrorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// normalizeIP validates and canonicalizes an IP string. IPv4-mapped IPv6
// addresses collapse to IPv4 so the same client cannot dodge its bucket.
func normalizeIP(ipStr string) string {
	ipStr = strings.TrimSpace(ipStr)
	if ipStr == "" {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ipStr
	}

	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.String()
}

// getClientIP extracts the client IP from the request.
// When trustProxy is false only RemoteAddr is used, preventing spoofing via
// forwarded headers. Enable trustProxy only behind a trusted reverse proxy.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ipStr := xff
			if idx := strings.Index(xff, ","); idx > 0 {
				ipStr = xff[:idx]
			}
			if normalized := normalizeIP(ipStr); normalized != "" {
				return normalized
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if normalized := normalizeIP(xri); normalized != "" {
				return normalized
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return normalizeIP(ip)
}
