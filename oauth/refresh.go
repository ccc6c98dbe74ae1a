// Package oauth keeps the chat bot's user token alive. Tokens live in the
// oauth_tokens table; a background refresher wakes on a jittered interval and
// renews any token whose remaining lifetime falls inside the refresh window.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/clip-relay/backend/db"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

// RefreshFunc performs the provider-specific refresh and returns the new
// access token, refresh token, expiry, and scope.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// StartRefresher launches the refresh loop for one provider row. Jitter on
// the initial delay and every interval spreads load when several instances
// share the database.
func StartRefresher(ctx context.Context, database *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	go func() {
		initial := time.Duration(rand.Int63n(int64(interval / 2)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(initial):
		}
		for {
			jitterRange := int64(interval / 5)
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			sleep := interval + jitter
			if sleep < interval/2 {
				sleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			refreshOnce(ctx, database, provider, window, fn)
		}
	}()
}

func refreshOnce(ctx context.Context, database *sql.DB, provider string, window time.Duration, fn RefreshFunc) {
	_, refresh, expiry, scope, err := db.GetOAuthToken(ctx, database, provider)
	if err != nil || refresh == "" {
		return
	}
	if time.Until(expiry) > window {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAccess, newRefresh, newExpiry, newScope, err := fn(rctx, refresh)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	if newRefresh == "" {
		newRefresh = refresh
	}
	if newScope == "" {
		newScope = scope
	}
	if err := db.UpsertOAuthToken(ctx, database, provider, newAccess, newRefresh, newExpiry, newScope); err != nil {
		slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	slog.Info("token refreshed", slog.String("provider", provider))
}

// TwitchRefreshFunc adapts the Helix user-token refresh grant.
func TwitchRefreshFunc(clientID, clientSecret string) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		tok, err := twitchapi.RefreshUserToken(ctx, clientID, clientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		scope := ""
		if s, ok := tok.Extra("scope").(string); ok {
			scope = s
		}
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, scope, nil
	}
}
