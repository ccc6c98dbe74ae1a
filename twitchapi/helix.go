// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user id resolution and clip lookup/listing, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://api.twitch.tv/helix"

// ErrClipNotFound is returned when a clip or user lookup yields no rows.
var ErrClipNotFound = errors.New("clip not found")

// HelixClient provides the catalog capability the resolver needs: user id
// resolution, clip lookup by id, and cursor-paginated clip listing.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// BaseURL overrides the Helix endpoint (tests).
	BaseURL string
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultBaseURL
}

// do issues an authenticated Helix GET and decodes the body into out.
// Non-2xx statuses are mapped to the shared error taxonomy so the resilience
// layer can decide whether and when to retry.
func (hc *HelixClient) do(ctx context.Context, op, path string, q url.Values, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return fmt.Errorf("%s: app token: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		hc.AppTokenSource.Invalidate()
		return fmt.Errorf("%s: %w", op, ErrCredentialExpired)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return &TransientError{Op: op, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: unexpected status %s", op, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// retryAfter reads the Retry-After header, defaulting to 1s when absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Second
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.do(ctx, "get_user", "/users", q, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user %q: %w", login, ErrClipNotFound)
	}
	return body.Data[0].ID, nil
}

// GetClip looks up a single clip by its id.
func (hc *HelixClient) GetClip(ctx context.Context, id string) (*Clip, error) {
	if id == "" {
		return nil, fmt.Errorf("clip id empty")
	}
	q := url.Values{}
	q.Set("id", id)
	var body struct {
		Data []Clip `json:"data"`
	}
	if err := hc.do(ctx, "get_clip", "/clips", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("clip %q: %w", id, ErrClipNotFound)
	}
	c := body.Data[0]
	return &c, nil
}

// GetClips lists clips for a broadcaster within an optional creation window,
// returning up to first clips and a pagination cursor (empty when exhausted).
func (hc *HelixClient) GetClips(ctx context.Context, broadcasterID string, window ClipWindow, after string, first int) ([]Clip, string, error) {
	if broadcasterID == "" {
		return nil, "", fmt.Errorf("broadcasterID empty")
	}
	if first <= 0 || first > 100 {
		first = 100
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("first", strconv.Itoa(first))
	if !window.StartedAt.IsZero() {
		q.Set("started_at", window.StartedAt.UTC().Format(time.RFC3339))
	}
	if !window.EndedAt.IsZero() {
		q.Set("ended_at", window.EndedAt.UTC().Format(time.RFC3339))
	}
	if after != "" {
		q.Set("after", after)
	}
	var body struct {
		Data       []Clip `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := hc.do(ctx, "get_clips", "/clips", q, &body); err != nil {
		return nil, "", err
	}
	return body.Data, body.Pagination.Cursor, nil
}
