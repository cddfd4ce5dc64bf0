package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LimitError is returned when a call is refused before reaching the network.
type LimitError struct {
	Backend string
	Reason  string
	RetryAt time.Time
}

func (e *LimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Backend, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Backend, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

// Guard is a token bucket plus a cooldown fed by server hints.
type Guard struct {
	policy Policy
	now    func() time.Time

	mu       sync.Mutex
	tokens   float64
	last     time.Time
	cooldown time.Time
}

// WrapHTTP returns a copy of base whose transport enforces policy.
func WrapHTTP(policy Policy, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{
		base:  transport,
		guard: NewGuard(policy),
	}
	return &client
}

func NewGuard(policy Policy) *Guard {
	return &Guard{
		policy: policy,
		now:    time.Now,
		tokens: float64(policy.burst),
	}
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		blockedTotal.WithLabelValues(rt.guard.policy.name, decision.Reason).Inc()
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, &LimitError{
			Backend: rt.guard.policy.name,
			Reason:  decision.Reason,
			RetryAt: decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}
	if !g.policy.Limited() {
		return Decision{Allowed: true}
	}

	refill := float64(g.policy.perMinute) / time.Minute.Seconds()
	if !g.last.IsZero() {
		g.tokens = min(float64(g.policy.burst), g.tokens+now.Sub(g.last).Seconds()*refill)
	}
	g.last = now
	if g.tokens < 1 {
		wait := time.Duration((1 - g.tokens) / refill * float64(time.Second))
		return Decision{Allowed: false, Reason: "budget", RetryAt: now.Add(wait)}
	}
	g.tokens--
	return Decision{Allowed: true}
}

// RecordResponse applies Retry-After and exhausted-budget hints.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := g.policy.name
	lastStatusGauge.WithLabelValues(name).Set(float64(status))
	now := g.now()
	h := g.policy.headers

	if remaining, ok := headerInt(headers, h.Remaining); ok {
		remainingGauge.WithLabelValues(name).Set(float64(remaining))
		if remaining == 0 {
			if reset, ok := headerInt(headers, h.Reset); ok && reset > 0 {
				g.setCooldown(now, time.Duration(reset)*time.Second)
			}
		}
	}

	if wait, ok := retryAfter(headers.Get(h.RetryAfter), now); ok {
		g.setCooldown(now, wait)
	} else if status == http.StatusTooManyRequests {
		g.setCooldown(now, time.Second)
	}
}

func (g *Guard) setCooldown(now time.Time, wait time.Duration) {
	if g.policy.maxCooldown > 0 && wait > g.policy.maxCooldown {
		wait = g.policy.maxCooldown
	}
	until := now.Add(wait)
	if until.After(g.cooldown) {
		g.cooldown = until
	}
	retryAfterGauge.WithLabelValues(g.policy.name).Set(wait.Seconds())
}

// retryAfter accepts both delta-seconds and HTTP-date forms.
func retryAfter(raw string, now time.Time) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(raw); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

func headerInt(h http.Header, key string) (int, bool) {
	if key == "" {
		return 0, false
	}
	val := strings.TrimSpace(h.Get(key))
	if val == "" {
		return 0, false
	}
	out, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return out, true
}
