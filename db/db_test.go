package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbx, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { dbx.Close() })
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return dbx
}

func TestMigrateIdempotent(t *testing.T) {
	dbx := newTestDB(t)
	// Re-running migrations must not fail.
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestKVRoundTrip(t *testing.T) {
	dbx := newTestDB(t)
	ctx := context.Background()

	got, err := GetKV(ctx, dbx, LastClipKey)
	if err != nil {
		t.Fatalf("get missing key: %v", err)
	}
	if got != "" {
		t.Errorf("missing key = %q, want empty", got)
	}

	if err := SetKV(ctx, dbx, LastClipKey, "https://clips.twitch.tv/AbCdEf123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetKV(ctx, dbx, LastClipKey, "https://clips.twitch.tv/XyZ987"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err = GetKV(ctx, dbx, LastClipKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "https://clips.twitch.tv/XyZ987" {
		t.Errorf("kv value = %q, want overwritten url", got)
	}
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	dbx := newTestDB(t)
	ctx := context.Background()

	access, refresh, expiry, scope, err := GetOAuthToken(ctx, dbx, "twitch-bot")
	if err != nil {
		t.Fatalf("get missing token: %v", err)
	}
	if access != "" || refresh != "" || !expiry.IsZero() || scope != "" {
		t.Errorf("expected zero values for missing provider")
	}

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := UpsertOAuthToken(ctx, dbx, "twitch-bot", "acc", "ref", exp, "chat:read chat:edit"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := UpsertOAuthToken(ctx, dbx, "twitch-bot", "acc2", "ref2", exp, "chat:read chat:edit"); err != nil {
		t.Fatalf("upsert conflict: %v", err)
	}

	access, refresh, _, scope, err = GetOAuthToken(ctx, dbx, "twitch-bot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "acc2" || refresh != "ref2" {
		t.Errorf("token = %q/%q, want acc2/ref2", access, refresh)
	}
	if scope != "chat:read chat:edit" {
		t.Errorf("scope = %q", scope)
	}
}
