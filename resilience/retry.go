// Package resilience wraps upstream calls with exponential backoff, jitter,
// rate-limit awareness, and a single credential-refresh retry. It is the one
// place that decides whether an upstream failure is worth another attempt.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/onnwee/clip-relay/backend/telemetry"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

// Policy bounds a retry loop. The zero value is unusable; use DefaultPolicy.
type Policy struct {
	MaxTries   uint
	MaxElapsed time.Duration
	Initial    time.Duration
}

// DefaultPolicy caps upstream retries at a small attempt count and total delay.
var DefaultPolicy = Policy{
	MaxTries:   4,
	MaxElapsed: 30 * time.Second,
	Initial:    500 * time.Millisecond,
}

// Do runs fn with retries according to p. Rate-limit errors wait out the
// server-provided Retry-After; transient errors back off exponentially with
// jitter; a credential expiry is retried exactly once (the API client
// invalidates its token source before surfacing the error, so the next
// attempt fetches a fresh credential); anything else is permanent.
func Do[T any](ctx context.Context, op string, p Policy, fn func(context.Context) (T, error)) (T, error) {
	credentialRetried := false

	wrapped := func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		var zero T
		var rl *twitchapi.RateLimitError
		if errors.As(err, &rl) {
			return zero, &backoff.RetryAfterError{Duration: rl.RetryAfter}
		}
		var te *twitchapi.TransientError
		if errors.As(err, &te) {
			return zero, err
		}
		if errors.Is(err, twitchapi.ErrCredentialExpired) {
			if credentialRetried {
				// Refresh already attempted once; fatal for this request only.
				return zero, backoff.Permanent(err)
			}
			credentialRetried = true
			return zero, err
		}
		return zero, backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Initial

	notify := func(err error, wait time.Duration) {
		telemetry.UpstreamRetries.Inc()
		slog.Warn("retrying upstream call",
			slog.String("op", op),
			slog.Duration("backoff", wait),
			slog.Any("err", err))
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
		backoff.WithNotify(notify),
	)
}
