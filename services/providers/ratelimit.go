package providers

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// maxRetryAfter caps how long a 429 Retry-After header can make us sleep.
const maxRetryAfter = 60 * time.Second

// limiter wraps a token bucket of the provider's declared budget. Search and
// download both cost one token; acquisition blocks until a token is
// available or the context ends, so a saturated provider never sees
// concurrent requests beyond its budget.
type limiter struct {
	bucket *rate.Limiter
}

func newLimiter(rl RateLimit) *limiter {
	if rl.Requests <= 0 || rl.Window <= 0 {
		// No declared limit; effectively unlimited.
		return &limiter{bucket: rate.NewLimiter(rate.Inf, 1)}
	}
	perSecond := float64(rl.Requests) / rl.Window.Seconds()
	return &limiter{bucket: rate.NewLimiter(rate.Limit(perSecond), rl.Requests)}
}

// Acquire takes one token, waiting as needed.
func (l *limiter) Acquire(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// Backoff sleeps for a server-demanded Retry-After, capped, then re-acquires
// a token.
func (l *limiter) Backoff(ctx context.Context, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	if retryAfter > maxRetryAfter {
		retryAfter = maxRetryAfter
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryAfter):
	}
	return l.Acquire(ctx)
}

// parseRetryAfter interprets a Retry-After header value in seconds.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
