// Package ratelimit tracks the CRM API request credits reported in the
// X-RateLimit-Remaining and X-RateLimit-Reset response headers and gates
// requests once the remaining credits run low. State lives in Redis so every
// process sharing one CRM organization sees the same budget.
package ratelimit

import (
	"time"
)

// Redis keys for credit state storage.
const (
	RedisKeyRemaining      = "crm:rate_limit:remaining"
	RedisKeyResetTimestamp = "crm:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "crm:rate_limit:last_update"
)

// Response headers carrying the credit window.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds for gating decisions.
const (
	// CreditThresholdCritical blocks all requests below this many remaining credits.
	CreditThresholdCritical = 10

	// CreditThresholdWarning delays requests below this many remaining credits.
	CreditThresholdWarning = 50

	// CreditThresholdHealthy marks the state healthy at or above this value.
	CreditThresholdHealthy = 100
)

// DefaultRemaining is assumed until the first response reports real credits.
const DefaultRemaining = 1000

// CreditState is the current request credit window.
type CreditState struct {
	// Remaining is the number of requests left in the window (X-RateLimit-Remaining).
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets (now + X-RateLimit-Reset seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= CreditThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *CreditState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be refused. A window
// that has already reset never blocks.
func (s *CreditState) NeedsCriticalBlock() bool {
	return s.Remaining < CreditThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be delayed.
func (s *CreditState) NeedsThrottling() bool {
	return s.Remaining < CreditThresholdWarning && s.TimeUntilReset() > 0 && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *CreditState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *CreditState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= CreditThresholdHealthy
}
