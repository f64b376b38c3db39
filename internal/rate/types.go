package rate

import (
	"fmt"
	"time"
)

// Budget is the client-side request allowance for one upstream API.
type Budget struct {
	Provider  string
	PerMinute int
	// Floor stops outgoing calls once the upstream reports this many or fewer remaining.
	Floor   int
	Headers Headers
}

// Headers names the response headers an upstream uses to report its quota.
// Empty names are ignored.
type Headers struct {
	Limit      string
	Remaining  string
	RetryAfter string
	Reset      string
}

// DefaultHeaders is the X-RateLimit-* convention plus Retry-After.
func DefaultHeaders() Headers {
	return Headers{
		Limit:      "X-RateLimit-Limit",
		Remaining:  "X-RateLimit-Remaining",
		RetryAfter: "Retry-After",
		Reset:      "X-RateLimit-Reset",
	}
}

// Validate rejects budgets that could never allow a call.
func (b Budget) Validate() error {
	if b.Provider == "" {
		return fmt.Errorf("rate budget: provider is required")
	}
	if b.PerMinute <= 0 {
		return fmt.Errorf("rate budget %s: per-minute limit must be positive", b.Provider)
	}
	if b.Floor < 0 || b.Floor >= b.PerMinute {
		return fmt.Errorf("rate budget %s: floor %d must be in [0, %d)", b.Provider, b.Floor, b.PerMinute)
	}
	return nil
}

// interval is the spacing between refilled tokens.
func (b Budget) interval() time.Duration {
	if b.PerMinute <= 0 {
		return time.Minute
	}
	return time.Minute / time.Duration(b.PerMinute)
}

// Decision is the guard's verdict for one outgoing call.
type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

// RateLimitError is returned in place of a response when the guard refuses a call.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}
