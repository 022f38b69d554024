package client

import (
	"math/rand"
	"time"

	"github.com/diegose/limitd-go/common"
)

// retryPolicy computes the delay before the next connection attempt. It is a
// pure function of the consecutive failure count; the supervisor owns the
// count itself and the timer.
type retryPolicy struct {
	disabled bool
	min      time.Duration
	max      time.Duration
}

func newRetryPolicy(conf common.RetryConfig) retryPolicy {
	return retryPolicy{
		disabled: conf.Disabled,
		min:      conf.MinTimeout,
		max:      conf.MaxTimeout,
	}
}

// nextDelay returns the backoff delay after the given number of consecutive
// failures. The second return value is false when no further attempt is
// allowed. The delay doubles per failure, capped at max, with a ±10% jitter
// so a fleet of clients does not reconnect in lockstep.
func (p retryPolicy) nextDelay(failures int) (time.Duration, bool) {
	if p.disabled {
		return 0, false
	}

	delay := p.max
	// Guard the shift; beyond 30 doublings the cap has long been reached
	if failures < 30 {
		delay = p.min << uint(failures-1)
		if delay > p.max || delay <= 0 {
			delay = p.max
		}
	}

	jittered := float64(delay) * (0.9 + 0.2*rand.Float64())
	return time.Duration(jittered), true
}
