// Package admission throttles question submissions per client IP.
//
// Each client IP gets its own token bucket. A question that would exceed the
// sustained rate is rejected immediately with a Retry-After hint instead of
// queuing, so an abusive client cannot hold pipeline capacity hostage.
package admission

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepThreshold bounds the limiter map; when exceeded, entries idle longer
// than idleTTL are dropped.
const (
	sweepThreshold = 1024
	idleTTL        = 10 * time.Minute
)

// Gate is a per-IP token bucket over question submissions.
// All methods are safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	limiters map[string]*entry

	limit rate.Limit
	burst int
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewGate creates a Gate allowing perMinute sustained requests per client IP
// with the given burst capacity. Non-positive values disable the gate:
// every request is admitted.
func NewGate(perMinute, burst int) *Gate {
	g := &Gate{limiters: make(map[string]*entry)}
	if perMinute > 0 && burst > 0 {
		g.limit = rate.Limit(float64(perMinute) / 60.0)
		g.burst = burst
	}
	return g
}

// Allow reports whether a request from remoteAddr may proceed. When it may
// not, retryAfter is the time until the bucket next has a token.
func (g *Gate) Allow(remoteAddr string) (ok bool, retryAfter time.Duration) {
	if g.burst == 0 {
		return true, 0
	}

	ip := clientIP(remoteAddr)

	g.mu.Lock()
	e, found := g.limiters[ip]
	if !found {
		e = &entry{lim: rate.NewLimiter(g.limit, g.burst)}
		g.limiters[ip] = e
	}
	e.lastSeen = time.Now()
	if len(g.limiters) > sweepThreshold {
		g.sweepLocked()
	}
	g.mu.Unlock()

	r := e.lim.Reserve()
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// Middleware wraps next, answering 429 with a Retry-After header when the
// client's bucket is empty.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := g.Allow(r.RemoteAddr)
		if !ok {
			secs := int(retryAfter.Round(time.Second).Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sweepLocked drops limiters idle longer than idleTTL. Caller holds g.mu.
func (g *Gate) sweepLocked() {
	cutoff := time.Now().Add(-idleTTL)
	for ip, e := range g.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(g.limiters, ip)
		}
	}
}

// clientIP strips the port from a RemoteAddr value. A bare IP (no port) is
// returned as-is so proxies that rewrite RemoteAddr still bucket correctly.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
