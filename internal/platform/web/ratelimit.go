package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Cleanup intervals for the visitor map.
const (
	cleanupInterval = 1 * time.Minute
	visitorTimeout  = 3 * time.Minute
)

// visitor tracks one caller's token bucket state.
type visitor struct {
	// mu protects the individual visitor's state so different callers can
	// refill concurrently without contending on the map lock.
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter throttles job submissions per client IP with a token bucket.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.RWMutex

	rate     float64 // tokens added per second
	capacity float64 // max burst size
}

// NewRateLimiter creates a RateLimiter and starts the background cleanup.
func NewRateLimiter(rate, capacity float64) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		capacity: capacity,
	}
	go rl.cleanupVisitors()
	return rl
}

// getVisitor retrieves or creates the bucket for the given IP.
func (rl *RateLimiter) getVisitor(ip string) *visitor {
	rl.mu.RLock()
	v, exists := rl.visitors[ip]
	rl.mu.RUnlock()
	if exists {
		return v
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v, exists = rl.visitors[ip]; !exists {
		v = &visitor{
			tokens:     rl.capacity, // start full
			lastRefill: time.Now(),
		}
		rl.visitors[ip] = v
	}
	return v
}

// Allow reports whether a request from ip may proceed, refilling lazily.
func (rl *RateLimiter) Allow(ip string) bool {
	v := rl.getVisitor(ip)

	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(v.lastRefill).Seconds()
	if add := elapsed * rl.rate; add > 0 {
		v.tokens += add
		if v.tokens > rl.capacity {
			v.tokens = rl.capacity
		}
		v.lastRefill = now
	}

	if v.tokens >= 1.0 {
		v.tokens--
		return true
	}
	return false
}

// cleanupVisitors drops inactive buckets so the map cannot grow forever.
func (rl *RateLimiter) cleanupVisitors() {
	for {
		time.Sleep(cleanupInterval)

		rl.mu.Lock()
		for ip, v := range rl.visitors {
			v.mu.Lock()
			if time.Since(v.lastRefill) > visitorTimeout {
				delete(rl.visitors, ip)
			}
			v.mu.Unlock()
		}
		rl.mu.Unlock()
	}
}

// Middleware enforces the limit around an http.Handler.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i > 0 {
		ip = ip[:i]
	}
	return ip
}
