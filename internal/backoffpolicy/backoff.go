// Package backoffpolicy implements the two retry/backoff schedules spec
// §4.3 defines: a startup retry curve keyed on elapsed wall-clock time, and
// an exponential per-attempt curve (used both for the startup-backoff tail
// and for per-client backoff in the client manager).
//
// The exponential curve's exact numbers are spec-mandated, so this package
// computes them directly rather than delegating to cenkalti/backoff/v5's
// own (unspecified) curve. The library is still exercised: engine.Load
// drives its startup retry loop with backoff.Retry, fed a BackOff
// implementation (StartupSchedule below) that supplies these numbers.
package backoffpolicy

import (
	"math"
	"math/rand"
	"time"
)

const (
	minExponential = 30 * time.Second
	maxExponential = 10 * time.Minute
	jitterSpread   = 0.25 // ±25%
	maxShift       = 62   // cap to avoid overflow in 1<<shift
)

// StartupBackoff returns the delay before the next retry of the initial
// load, keyed on wall-clock elapsed time since the first attempt (spec
// §4.3). Past 10 minutes it defers to the exponential schedule keyed on
// attempts instead.
func StartupBackoff(elapsed time.Duration, attempts int) time.Duration {
	switch {
	case elapsed < 100*time.Second:
		return 5 * time.Second
	case elapsed < 200*time.Second:
		return 10 * time.Second
	case elapsed < 10*time.Minute:
		return 30 * time.Second
	default:
		return ExponentialBackoff(attempts, rand.Float64)
	}
}

// ExponentialBackoff returns d = clamp(30s * 2^(attempts-1), 30s, 10min),
// with multiplicative jitter ×(1+u), u uniform in [-0.25, 0.25). attempts<=1
// returns the unjittered minimum (spec §4.3). randFloat returns a uniform
// value in [0,1); callers pass rand.Float64 in production and a fixed
// function in tests for determinism.
func ExponentialBackoff(attempts int, randFloat func() float64) time.Duration {
	if attempts <= 1 {
		return minExponential
	}

	shift := attempts - 1
	if shift > maxShift {
		shift = maxShift
	}
	multiplier := math.Ldexp(1, shift) // 2^shift, overflow-safe
	d := time.Duration(float64(minExponential) * multiplier)
	if d > maxExponential || d <= 0 {
		d = maxExponential
	}

	u := randFloat()*2*jitterSpread - jitterSpread // [-0.25, 0.25)
	jittered := time.Duration(float64(d) * (1 + u))
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// ExponentialSchedule adapts ExponentialBackoff into the minimal interface
// cenkalti/backoff/v5 expects of a BackOff: NextBackOff() advances an
// internal attempt counter (reset via Reset) and returns the spec-mandated
// duration for that attempt.
type ExponentialSchedule struct {
	attempts  int
	RandFloat func() float64 // defaults to rand.Float64 when nil
}

// NextBackOff returns the duration for the next attempt and advances the
// internal counter.
func (s *ExponentialSchedule) NextBackOff() time.Duration {
	s.attempts++
	rf := s.RandFloat
	if rf == nil {
		rf = rand.Float64
	}
	return ExponentialBackoff(s.attempts, rf)
}

// Reset zeros the attempt counter, called on a successful operation.
func (s *ExponentialSchedule) Reset() {
	s.attempts = 0
}

// Attempts returns the number of times NextBackOff has been called since
// the last Reset.
func (s *ExponentialSchedule) Attempts() int {
	return s.attempts
}

// StartupSchedule adapts StartupBackoff into the cenkalti/backoff/v5
// BackOff interface for the engine's initial-load retry loop: it tracks
// wall-clock elapsed time since the first attempt and an attempt counter,
// and falls through to the exponential schedule once elapsed passes the
// 10-minute wall-clock tier.
type StartupSchedule struct {
	attempts int
	start    time.Time
	Now      func() time.Time // defaults to time.Now when nil
}

// NextBackOff returns the duration for the next attempt and advances the
// internal counter, starting the elapsed-time clock on first use.
func (s *StartupSchedule) NextBackOff() time.Duration {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	if s.start.IsZero() {
		s.start = now()
	}
	s.attempts++
	return StartupBackoff(now().Sub(s.start), s.attempts)
}

// Reset restarts the elapsed-time clock and zeros the attempt counter,
// called on a successful load.
func (s *StartupSchedule) Reset() {
	s.attempts = 0
	s.start = time.Time{}
}
