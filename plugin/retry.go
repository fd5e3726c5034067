package plugin

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls how retryable nodes repeat a failed attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

func (p RetryPolicy) normalized() RetryPolicy {
	q := p
	if q.BaseDelay <= 0 {
		q.BaseDelay = 200 * time.Millisecond
	}
	if q.MaxDelay <= 0 {
		q.MaxDelay = 5 * time.Second
	}
	if q.MaxDelay < q.BaseDelay {
		q.MaxDelay = q.BaseDelay
	}
	if q.MaxRetries < 0 {
		q.MaxRetries = 0
	}
	return q
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// retries are used up. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) (retry bool, err error)) error {
	q := p.normalized()
	var err error
	for attempt := 0; attempt <= q.MaxRetries; attempt++ {
		var retry bool
		retry, err = fn(attempt)
		if err == nil || !retry || attempt == q.MaxRetries {
			return err
		}
		timer := time.NewTimer(backoff(attempt, q.BaseDelay, q.MaxDelay, q.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// backoff doubles base per attempt up to max, with optional +/-50% jitter.
func backoff(attempt int, base, max time.Duration, jitter bool) time.Duration {
	d := base << attempt
	if d > max || d <= 0 {
		d = max
	}
	if !jitter {
		return d
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	delta := time.Duration(rand.Int63n(int64(half))) // #nosec G404 non-crypto
	return half + delta
}
