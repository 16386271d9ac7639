// Package ratelimit throttles mutating requests per client IP.
package ratelimit

import "time"

// Limiter takes one token for key. When it refuses, wait is how long until the
// next token frees up.
type Limiter interface {
	Allow(key string) (ok bool, wait time.Duration)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// NopLimiter admits every request.
type NopLimiter struct{}

// Allow always admits.
func (NopLimiter) Allow(string) (bool, time.Duration) { return true, 0 }
