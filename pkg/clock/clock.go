// Package clock abstracts time for the periodic pipeline stages so tests can
// control apparent time.
package clock

import (
	"context"
	"time"
)

// Clock is the subset of package time used by periodic loops.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

// Now indirects time.Now.
func (wallClock) Now() time.Time {
	return time.Now()
}

// After indirects time.After.
func (wallClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Real is the wall clock.
var Real Clock = wallClock{}

// Periodic calls fn once per period until ctx is done.
//
// The release time starts one period after the call and advances by exactly
// one period per iteration. After fn returns, the loop sleeps only the time
// left until the release time. An iteration that overruns its period is not
// compensated for: the next sleep is just shorter (possibly zero), and no
// iteration is ever skipped.
func Periodic(ctx context.Context, clk Clock, period time.Duration, fn func(ctx context.Context)) error {
	if clk == nil {
		clk = Real
	}

	release := clk.Now().Add(period)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fn(ctx)

		if wait := release.Sub(clk.Now()); wait > 0 {
			select {
			case <-clk.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		release = release.Add(period)
	}
}
