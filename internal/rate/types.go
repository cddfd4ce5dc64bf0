package rate

import "time"

// Headers names the rate limit headers the backend sends.
type Headers struct {
	Limit      string
	Remaining  string
	RetryAfter string
	Reset      string
}

// StandardHeaders returns the header names used by the fleet backend.
func StandardHeaders() Headers {
	return Headers{
		Limit:      "X-RateLimit-Limit",
		Remaining:  "X-RateLimit-Remaining",
		RetryAfter: "Retry-After",
		Reset:      "X-RateLimit-Reset",
	}
}

// Policy declares the client-side budget for one backend.
type Policy struct {
	name        string
	perMinute   int
	burst       int
	headers     Headers
	maxCooldown time.Duration
}

// For starts a policy for the named backend.
func For(name string) Policy {
	return Policy{name: name, headers: StandardHeaders(), maxCooldown: 5 * time.Minute}
}

func (p Policy) Name() string {
	return p.name
}

// Allow sets the sustained rate and how many calls may go out back to back.
func (p Policy) Allow(perMinute, burst int) Policy {
	p.perMinute = perMinute
	if burst <= 0 {
		burst = perMinute
	}
	p.burst = burst
	return p
}

// CapCooldown bounds how long a server hint may block calls.
func (p Policy) CapCooldown(d time.Duration) Policy {
	p.maxCooldown = d
	return p
}

func (p Policy) Limited() bool {
	return p.perMinute > 0
}
