package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LimitError is returned instead of issuing a call the guard blocked.
type LimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e LimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces a Declaration with one token bucket per window plus a
// server-imposed cooldown.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu       sync.Mutex
	buckets  map[Window]*bucket
	cooldown time.Time
}

func NewGuard(decl Declaration) *Guard {
	return newGuardAt(decl, time.Now)
}

func newGuardAt(decl Declaration, now func() time.Time) *Guard {
	g := &Guard{
		decl:    decl,
		now:     now,
		buckets: make(map[Window]*bucket),
	}
	start := now()
	for window, limit := range decl.Limits() {
		g.buckets[window] = &bucket{capacity: limit, tokens: float64(limit), last: start}
		remainingGauge.WithLabelValues(decl.ProviderName(), window.String()).Set(float64(limit))
	}
	return g
}

// WrapHTTP returns a copy of base whose transport consults the guard.
func WrapHTTP(guard *Guard, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: guard}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, LimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall takes a token from every window, or reports why it cannot.
func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	provider := g.decl.ProviderName()

	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		blockedTotal.WithLabelValues(provider, "cooldown").Inc()
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}

	for window, b := range g.buckets {
		refill(b, window.duration(), now)
		if b.tokens < 1 {
			blockedTotal.WithLabelValues(provider, "budget").Inc()
			retryAt := now.Add(time.Duration((1 - b.tokens) * float64(window.duration()) / float64(b.capacity)))
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
	}
	for window, b := range g.buckets {
		b.tokens--
		remainingGauge.WithLabelValues(provider, window.String()).Set(b.tokens)
	}
	return Decision{Allowed: true}
}

// RecordResponse applies Retry-After and 429 cooldowns.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	provider := g.decl.ProviderName()
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))

	retryAfter := headerSeconds(headers, g.decl.retryAfter)
	if retryAfter <= 0 && status == http.StatusTooManyRequests {
		retryAfter = g.decl.defaultCooldown
	}
	if retryAfter > 0 {
		g.cooldown = g.now().Add(retryAfter)
		retryAfterGauge.WithLabelValues(provider).Set(retryAfter.Seconds())
	}
}

func headerSeconds(h http.Header, key string) time.Duration {
	if key == "" {
		return 0
	}
	val := strings.TrimSpace(h.Get(key))
	if val == "" {
		return 0
	}
	secs, err := strconv.Atoi(val)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func refill(b *bucket, window time.Duration, now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	rate := float64(b.capacity) / window.Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed.Seconds()*rate)
	b.last = now
}
