// Package backoff provides the retry timing policies used for outbound calls.
// Policies build fresh github.com/sethvargo/go-retry backoffs per call so they can be shared.
package backoff

import (
	"context"
	"fmt"
	"time"

	retry "github.com/sethvargo/go-retry"
)

// DefaultInterval is the fixed wait between query attempts.
const DefaultInterval = 2 * time.Second

// Policy produces the wait sequence for one retried call.
type Policy interface {
	// New returns a fresh backoff; each Next() yields the wait before the next attempt.
	New() retry.Backoff
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func() retry.Backoff

// New implements Policy.
func (f PolicyFunc) New() retry.Backoff { return f() }

// Constant waits d between attempts.
func Constant(d time.Duration) Policy {
	if d <= 0 {
		d = DefaultInterval
	}
	return PolicyFunc(func() retry.Backoff { return retry.NewConstant(d) })
}

// Exponential doubles the wait starting at base, capped at max when max > 0.
func Exponential(base, max time.Duration) Policy {
	if base <= 0 {
		base = DefaultInterval
	}
	return PolicyFunc(func() retry.Backoff {
		b := retry.NewExponential(base)
		if max > 0 {
			b = retry.WithCappedDuration(max, b)
		}
		return b
	})
}

// Jittered adds up to percent% random jitter to every wait of p.
func Jittered(p Policy, percent uint64) Policy {
	return PolicyFunc(func() retry.Backoff { return retry.WithJitterPercent(percent, p.New()) })
}

// Config selects a policy by name.
type Config struct {
	Kind          string        `yaml:"kind"` // constant (default), exponential
	Interval      time.Duration `yaml:"interval"`
	Max           time.Duration `yaml:"max"`
	JitterPercent uint64        `yaml:"jitter_percent"`
}

// FromConfig builds the policy described by cfg.
func FromConfig(cfg Config) (Policy, error) {
	var p Policy
	switch cfg.Kind {
	case "", "constant":
		p = Constant(cfg.Interval)
	case "exponential":
		p = Exponential(cfg.Interval, cfg.Max)
	default:
		return nil, fmt.Errorf("unknown backoff kind: %s (supported: constant, exponential)", cfg.Kind)
	}
	if cfg.JitterPercent > 0 {
		p = Jittered(p, cfg.JitterPercent)
	}
	return p, nil
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
