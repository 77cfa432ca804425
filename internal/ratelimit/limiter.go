// Package ratelimit implements fixed-window counters shared by every replica.
// A call increments the counter and reports the post-increment count in one
// atomic step, so concurrent callers can never both slip under the limit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/metrics"
	"github.com/checkvibe/threatwatch/internal/util"
)

// ErrUnavailable wraps backend failures surfaced by a fail-closed Guard.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Result describes the state of a window after a call was counted.
type Result struct {
	Allowed bool
	Count   int64
	Limit   int64
	ResetAt time.Time
}

// RetryAfter is the time until the window resets, rounded up to whole seconds.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return d.Truncate(time.Second) + time.Second
}

// Limiter counts cost units against identifier within a fixed window. Every
// call increments, including calls that end up denied.
type Limiter interface {
	Take(ctx context.Context, identifier string, cost, limit int64, window time.Duration) (Result, error)
}

// CheckAndIncrement counts a single request against identifier.
func CheckAndIncrement(ctx context.Context, l Limiter, identifier string, maxRequests int64, window time.Duration) (Result, error) {
	return l.Take(ctx, identifier, 1, maxRequests, window)
}

func newResult(count, limit int64, resetAt time.Time) Result {
	return Result{Allowed: count <= limit, Count: count, Limit: limit, ResetAt: resetAt}
}

// Guard binds a limiter to one call site with its own budget and failure
// policy. FailOpen decides what happens when the backend itself errors.
type Guard struct {
	Limiter  Limiter
	Site     string
	Limit    int64
	Window   time.Duration
	FailOpen bool
}

// Allow counts cost units for identifier. A backend error is returned only for
// fail-closed guards, together with a denied Result; fail-open guards log the
// error and allow the call.
func (g Guard) Allow(ctx context.Context, identifier string, cost int64) (Result, error) {
	if cost < 1 {
		cost = 1
	}
	res, err := g.Limiter.Take(ctx, identifier, cost, g.Limit, g.Window)
	if err != nil {
		entry := logger.Log().WithError(err).WithField("site", g.Site).WithField("identifier", util.SanitizeForLog(identifier))
		if g.FailOpen {
			entry.Warn("rate limiter error, allowing request")
			metrics.IncRateLimit(g.Site, "error_open")
			return Result{Allowed: true, Limit: g.Limit}, nil
		}
		entry.Error("rate limiter error, denying request")
		metrics.IncRateLimit(g.Site, "error_closed")
		return Result{Allowed: false, Limit: g.Limit, ResetAt: time.Now().Add(g.Window)}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.Allowed {
		metrics.IncRateLimit(g.Site, "allowed")
	} else {
		metrics.IncRateLimit(g.Site, "denied")
	}
	return res, nil
}
