package oauth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/clip-relay/backend/db"
	"github.com/onnwee/clip-relay/backend/testutil"
)

func seedToken(t *testing.T, d *sql.DB, expiry time.Time) {
	t.Helper()
	if err := db.UpsertOAuthToken(context.Background(), d, "twitch-bot", "old-access", "old-refresh", expiry, "chat:edit"); err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

func TestRefreshOnceInsideWindow(t *testing.T) {
	d := testutil.SetupTestDB(t)
	seedToken(t, d, time.Now().Add(5*time.Minute))

	var gotRefresh string
	fn := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		gotRefresh = refreshToken
		return "new-access", "new-refresh", time.Now().Add(4 * time.Hour), "chat:edit chat:read", nil
	}
	refreshOnce(context.Background(), d, "twitch-bot", 15*time.Minute, fn)

	if gotRefresh != "old-refresh" {
		t.Errorf("refresh grant used %q, want old-refresh", gotRefresh)
	}
	access, refresh, _, scope, err := db.GetOAuthToken(context.Background(), d, "twitch-bot")
	if err != nil {
		t.Fatal(err)
	}
	if access != "new-access" || refresh != "new-refresh" || scope != "chat:edit chat:read" {
		t.Errorf("stored token = %q/%q/%q", access, refresh, scope)
	}
}

func TestRefreshOnceOutsideWindowSkips(t *testing.T) {
	d := testutil.SetupTestDB(t)
	seedToken(t, d, time.Now().Add(4*time.Hour))

	called := false
	fn := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		called = true
		return "", "", time.Time{}, "", nil
	}
	refreshOnce(context.Background(), d, "twitch-bot", 15*time.Minute, fn)
	if called {
		t.Error("refresh ran with plenty of lifetime left")
	}
}

func TestRefreshOnceKeepsOldSecretsOnPartialResponse(t *testing.T) {
	d := testutil.SetupTestDB(t)
	seedToken(t, d, time.Now().Add(time.Minute))

	fn := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		// Twitch sometimes omits a rotated refresh token and scope.
		return "new-access", "", time.Now().Add(4 * time.Hour), "", nil
	}
	refreshOnce(context.Background(), d, "twitch-bot", 15*time.Minute, fn)

	access, refresh, _, scope, err := db.GetOAuthToken(context.Background(), d, "twitch-bot")
	if err != nil {
		t.Fatal(err)
	}
	if access != "new-access" || refresh != "old-refresh" || scope != "chat:edit" {
		t.Errorf("stored token = %q/%q/%q", access, refresh, scope)
	}
}

func TestRefreshOnceFailureLeavesRowAlone(t *testing.T) {
	d := testutil.SetupTestDB(t)
	expiry := time.Now().Add(time.Minute)
	seedToken(t, d, expiry)

	fn := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		return "", "", time.Time{}, "", errors.New("upstream down")
	}
	refreshOnce(context.Background(), d, "twitch-bot", 15*time.Minute, fn)

	access, refresh, _, _, err := db.GetOAuthToken(context.Background(), d, "twitch-bot")
	if err != nil {
		t.Fatal(err)
	}
	if access != "old-access" || refresh != "old-refresh" {
		t.Errorf("stored token = %q/%q, want untouched", access, refresh)
	}
}
