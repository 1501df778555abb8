package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxClients caps the tracked clients. New clients are rejected once it is
// reached until the cleanup loop evicts idle ones.
const maxClients = 10000

// RateLimiter is a per-client token bucket. Clients are identified by their
// API key when one is presented and by remote IP otherwise.
type RateLimiter struct {
	rate  float64
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*tokens
}

type tokens struct {
	left float64
	at   time.Time
}

// NewRateLimiter allows rate requests per second with bursts of burst.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
		clients: map[string]*tokens{},
	}
}

// Handler rejects requests beyond the client's budget with 429 and a
// Retry-After header.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, wait, ok := rl.take(clientKey(r))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) take(client string) (remaining int, wait time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, seen := rl.clients[client]
	if !seen {
		if len(rl.clients) >= maxClients {
			return 0, time.Second, false
		}
		b = &tokens{left: rl.burst, at: now}
		rl.clients[client] = b
	}
	b.left = math.Min(rl.burst, b.left+now.Sub(b.at).Seconds()*rl.rate)
	b.at = now
	if b.left < 1 {
		return 0, time.Duration((1 - b.left) / rl.rate * float64(time.Second)), false
	}
	b.left--
	return int(b.left), 0, true
}

// Run evicts clients idle for longer than maxIdle until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict(maxIdle)
		}
	}
}

func (rl *RateLimiter) evict(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	n := 0
	for k, b := range rl.clients {
		if b.at.Before(cutoff) {
			delete(rl.clients, k)
			n++
		}
	}
	return n
}

// clientKey never trusts proxy headers; they are trivially spoofed.
func clientKey(r *http.Request) string {
	if k := presentedKey(r); k != "" {
		return "key:" + k
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
