package twitchapi

import (
	"errors"
	"fmt"
	"time"
)

// ErrCredentialExpired signals that Helix rejected the app token (401). The caller
// should invalidate the token source and retry once with a fresh credential.
var ErrCredentialExpired = errors.New("twitch credential expired")

// RateLimitError signals a 429 with the server-provided retry-after duration.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("twitch rate limited, retry after %s", e.RetryAfter)
}

// TransientError wraps a 5xx or network-level failure that is safe to retry.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("twitch %s transient failure: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("twitch %s transient failure: HTTP %d", e.Op, e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }
