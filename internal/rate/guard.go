package rate

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	reasonDisabled = "disabled"
	reasonCooldown = "cooldown"
	reasonBudget   = "budget"
	reasonFloor    = "floor"
)

// cooldownAfter429 applies when the upstream throttles without saying for how long.
const cooldownAfter429 = time.Minute

// Guard meters calls against a Budget. It combines a local token bucket
// with whatever quota the upstream reports in its response headers.
type Guard struct {
	budget Budget

	mu       sync.Mutex
	tokens   float64
	refilled time.Time
	// remaining is the upstream-reported quota, or -1 when unknown.
	remaining int
	resetAt   time.Time
	cooldown  time.Time
}

// NewGuard starts with a full bucket.
func NewGuard(budget Budget) *Guard {
	return &Guard{
		budget:    budget,
		tokens:    float64(budget.PerMinute),
		remaining: -1,
	}
}

// Client returns a copy of base whose transport refuses calls over budget
// with a RateLimitError instead of reaching the network.
func Client(budget Budget, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client.Transport = &transport{next: next, guard: NewGuard(budget)}
	return &client
}

// Allow consumes one call from the budget when one is available.
func (g *Guard) Allow(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.budget.PerMinute <= 0 {
		return Decision{Reason: reasonDisabled}
	}
	if now.Before(g.cooldown) {
		return Decision{Reason: reasonCooldown, RetryAt: g.cooldown}
	}

	if !g.resetAt.IsZero() && !now.Before(g.resetAt) {
		g.remaining = -1
		g.resetAt = time.Time{}
	}
	if g.remaining >= 0 && g.remaining <= g.budget.Floor {
		return Decision{Reason: reasonFloor, RetryAt: g.resetAt}
	}

	g.refill(now)
	if g.tokens < 1 {
		need := time.Duration((1 - g.tokens) * float64(g.budget.interval()))
		return Decision{Reason: reasonBudget, RetryAt: now.Add(need)}
	}
	g.tokens--
	if g.remaining > 0 {
		g.remaining--
	}
	return Decision{Allowed: true}
}

func (g *Guard) refill(now time.Time) {
	if g.refilled.IsZero() {
		g.refilled = now
		return
	}
	elapsed := now.Sub(g.refilled)
	if elapsed <= 0 {
		return
	}
	g.tokens += float64(elapsed) / float64(g.budget.interval())
	if limit := float64(g.budget.PerMinute); g.tokens > limit {
		g.tokens = limit
	}
	g.refilled = now
}

// Observe folds an upstream response into the guard's view of the quota.
func (g *Guard) Observe(status int, header http.Header, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	provider := g.budget.Provider
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))

	names := g.budget.Headers
	retryAfter := headerSeconds(header, names.RetryAfter)
	switch {
	case retryAfter > 0:
		g.cooldown = now.Add(retryAfter)
	case status == http.StatusTooManyRequests:
		retryAfter = cooldownAfter429
		g.cooldown = now.Add(retryAfter)
	}
	if retryAfter > 0 {
		retryAfterGauge.WithLabelValues(provider).Set(retryAfter.Seconds())
	}

	if remaining := headerInt(header, names.Remaining); remaining >= 0 {
		g.remaining = remaining
		remainingGauge.WithLabelValues(provider).Set(float64(remaining))
		if reset := headerSeconds(header, names.Reset); reset > 0 {
			g.resetAt = now.Add(reset)
		} else {
			g.resetAt = now.Add(time.Minute)
		}
	}
	if limit := headerInt(header, names.Limit); limit > 0 {
		limitGauge.WithLabelValues(provider).Set(float64(limit))
	}
}

type transport struct {
	next  http.RoundTripper
	guard *Guard
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	provider := t.guard.budget.Provider
	if decision := t.guard.Allow(time.Now()); !decision.Allowed {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		blockedTotal.WithLabelValues(provider, decision.Reason).Inc()
		return nil, RateLimitError{Provider: provider, Reason: decision.Reason, RetryAt: decision.RetryAt}
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.guard.Observe(resp.StatusCode, resp.Header, time.Now())
	return resp, nil
}

func (t *transport) CloseIdleConnections() {
	if closer, ok := t.next.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

func headerInt(h http.Header, name string) int {
	if name == "" {
		return -1
	}
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return -1
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// headerSeconds reads a delay given either in seconds or as an HTTP date.
func headerSeconds(h http.Header, name string) time.Duration {
	if n := headerInt(h, name); n >= 0 {
		return time.Duration(n) * time.Second
	}
	if name == "" {
		return 0
	}
	when, err := http.ParseTime(h.Get(name))
	if err != nil {
		return 0
	}
	if d := time.Until(when); d > 0 {
		return d
	}
	return 0
}
