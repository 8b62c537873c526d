package disclosure

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the retries of transient failures
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Jitter spreads each delay by up to ±Jitter of its value, in [0,1]
	Jitter float64
}

// DefaultRetryPolicy returns 5 retries from 2s doubling to at most 20s with 40% jitter
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  2 * time.Second,
		MaxDelay:   20 * time.Second,
		Multiplier: 2,
		Jitter:     0.4,
	}
}

// cappedBackOff is an exponential backoff whose cap applies after jitter,
// so no single delay exceeds MaxDelay
type cappedBackOff struct {
	policy  RetryPolicy
	attempt int
	rand    func() float64
}

// NewBackOff returns the backoff.BackOff implementing policy
func NewBackOff(policy RetryPolicy) backoff.BackOff {
	return &cappedBackOff{policy: policy, rand: rand.Float64}
}

// NextBackOff implements backoff.BackOff
func (b *cappedBackOff) NextBackOff() time.Duration {
	p := b.policy
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(b.attempt))
	b.attempt++

	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*b.rand()-1)
	}
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Reset implements backoff.BackOff
func (b *cappedBackOff) Reset() {
	b.attempt = 0
}
