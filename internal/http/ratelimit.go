package http

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// mutatingRequestsPerMinute caps POST/PUT/DELETE traffic per client IP.
	mutatingRequestsPerMinute = 60

	visitorCleanupInterval = 5 * time.Minute
	visitorStaleAfter      = 10 * time.Minute
)

// rateLimiter throttles mutating requests per client IP. Reads are never
// throttled, and exempt paths (the payment webhook, whose gateway retries in
// bursts) bypass the limiter entirely.
type rateLimiter struct {
	mu           sync.Mutex
	visitors     map[string]*visitor
	exemptPaths  map[string]struct{}
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type visitor struct {
	lastSeen time.Time
	count    int
}

func newRateLimiter(exemptPaths ...string) *rateLimiter {
	rl := &rateLimiter{
		visitors:    make(map[string]*visitor),
		exemptPaths: make(map[string]struct{}, len(exemptPaths)),
		stopCleanup: make(chan struct{}),
	}
	for _, p := range exemptPaths {
		rl.exemptPaths[p] = struct{}{}
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(visitorCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.dropStaleVisitors()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) dropStaleVisitors() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-visitorStaleAfter)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// stop shuts down the cleanup goroutine.
func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// allowRequest reports whether the request may proceed. GET requests and
// exempt paths are always allowed; everything else counts against the
// per-minute budget for the client IP.
func (rl *rateLimiter) allowRequest(method, path, clientIP string, metrics *securityMetrics) bool {
	if method == http.MethodGet {
		return true
	}
	if _, exempt := rl.exemptPaths[path]; exempt {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, seen := rl.visitors[clientIP]
	if !seen || now.Sub(v.lastSeen) > time.Minute {
		rl.visitors[clientIP] = &visitor{lastSeen: now, count: 1}
		return true
	}

	v.count++
	v.lastSeen = now

	if v.count > mutatingRequestsPerMinute {
		if metrics != nil {
			atomic.AddInt64(&metrics.rateLimitHits, 1)
		}
		return false
	}
	return true
}
