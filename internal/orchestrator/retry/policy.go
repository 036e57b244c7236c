// Package retry holds attempt budgets and backoff shared by the auto-fix
// coordinator and the background agent loop.
package retry

import (
	"errors"
	"math"
	"time"
)

// Policy defines how many times a broken component may be sent back to the agent
type Policy struct {
	MaxAttempts       int           // Attempts allowed per component, counting the first (1..MaxAttempts)
	InitialDelay      time.Duration // Suggested client delay before the second attempt
	MaxDelay          time.Duration // Cap on the suggested delay
	BackoffMultiplier float64       // Growth of the suggested delay per attempt
}

// DefaultPolicy returns the three-attempt auto-fix budget
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// WithMaxAttempts returns a copy of the policy with a different budget
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// Allows reports whether the given 1-based attempt number is within budget
func (p *Policy) Allows(attempt int) bool {
	return attempt >= 1 && attempt <= p.MaxAttempts
}

// Exhausted reports whether no attempt after the given one is allowed
func (p *Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Remaining returns how many attempts are left after the given one
func (p *Policy) Remaining(attempt int) int {
	if attempt >= p.MaxAttempts {
		return 0
	}
	if attempt < 0 {
		return p.MaxAttempts
	}
	return p.MaxAttempts - attempt
}

// CalculateDelay returns the suggested wait before the attempt following the given one
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialDelay
	}

	// initialDelay * (multiplier ^ (attempt-1))
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))

	if time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}

	return time.Duration(delay)
}

// Validate checks if the policy configuration is valid
func (p *Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errors.New("MaxAttempts must be positive")
	}
	if p.InitialDelay <= 0 {
		return errors.New("InitialDelay must be positive")
	}
	if p.MaxDelay <= 0 {
		return errors.New("MaxDelay must be positive")
	}
	if p.BackoffMultiplier <= 0 {
		return errors.New("BackoffMultiplier must be positive")
	}
	if p.InitialDelay > p.MaxDelay {
		return errors.New("InitialDelay cannot be greater than MaxDelay")
	}
	return nil
}
