package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails once more than threshold goroutines are running.
// Every live viewer holds a few, so size it from the session limit.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when one of the recent stop-the-world pauses exceeded
// threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if len(stats.Pause) == 0 {
			return nil
		}
		if p := slices.Max(stats.Pause); p > threshold {
			return errors.Errorf("GC pause %s exceeds threshold %s", p, threshold)
		}
		return nil
	}
}

// CapacityCheck fails while count() exceeds limit, taking a saturated
// instance out of rotation for new viewers. A non-positive limit disables it.
func CapacityCheck(what string, count func() int, limit int) CheckFunc {
	return func(context.Context) error {
		if limit <= 0 {
			return nil
		}
		if n := count(); n > limit {
			return errors.Errorf("%d %s exceed limit %d", n, what, limit)
		}
		return nil
	}
}
