package backoff

import (
	"math"
	"math/rand"
	"time"
)

type Strategy string

const (
	Fixed           Strategy = "fixed"
	Linear          Strategy = "linear"
	Exponential     Strategy = "exponential"
	ExpEqualJitter  Strategy = "exp_equal_jitter"
	ExpFullJitter   Strategy = "exp_full_jitter"
	defaultStrategy          = ExpFullJitter
)

// Policy describes how long to wait between attempts of an outbound call.
type Policy struct {
	Strategy Strategy
	Base     time.Duration
	Max      time.Duration
	// Attempts is the total number of tries, including the first.
	Attempts int
}

// DefaultPolicy suits short interactive calls to an identity provider.
func DefaultPolicy() Policy {
	return Policy{Strategy: ExpFullJitter, Base: 100 * time.Millisecond, Max: 2 * time.Second, Attempts: 3}
}

// Delay returns the wait before retry number attempt (0 for the first
// retry). A nil rng uses a fixed seed.
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	maxDelay := p.Max
	if maxDelay <= 0 {
		maxDelay = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	strategy := p.Strategy
	if strategy == "" {
		strategy = defaultStrategy
	}

	switch strategy {
	case Fixed:
		return min(base, maxDelay)
	case Linear:
		return min(base*time.Duration(max(1, attempt)), maxDelay)
	case Exponential:
		return exp(base, maxDelay, attempt)
	case ExpEqualJitter:
		d := exp(base, maxDelay, attempt)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default:
		d := exp(base, maxDelay, attempt)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}

// MaxAttempts returns Attempts clamped to at least one try.
func (p Policy) MaxAttempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

func exp(base, maxDelay time.Duration, attempt int) time.Duration {
	f := float64(base) * math.Pow(2, float64(attempt))
	if f >= float64(maxDelay) || math.IsInf(f, 0) {
		return maxDelay
	}
	return time.Duration(f)
}
