package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OBS_ADDR", "")
	t.Setenv("CLIP_SCENE_NAME", "")
	t.Setenv("EMBED_PORT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OBSAddr != "localhost:4455" {
		t.Errorf("OBSAddr = %q, want localhost:4455", cfg.OBSAddr)
	}
	if cfg.SceneName != "clip-relay" || cfg.SourceName != "clip-relay-embed" {
		t.Errorf("unexpected scene defaults: %q / %q", cfg.SceneName, cfg.SourceName)
	}
	if cfg.EmbedPort != 8192 {
		t.Errorf("EmbedPort = %d, want 8192", cfg.EmbedPort)
	}
	if cfg.SetupDelay != 3*time.Second {
		t.Errorf("SetupDelay = %v, want 3s", cfg.SetupDelay)
	}
	if cfg.ApprovalTimeout != 60*time.Second || cfg.ApprovalPoll != 500*time.Millisecond {
		t.Errorf("unexpected approval defaults: %v / %v", cfg.ApprovalTimeout, cfg.ApprovalPoll)
	}
	if cfg.CacheExpiry != 30*24*time.Hour {
		t.Errorf("CacheExpiry = %v, want 720h", cfg.CacheExpiry)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	t.Setenv("EMBED_PORT", "99999")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for out-of-range EMBED_PORT")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EMBED_PORT", "9000")
	t.Setenv("PLAYBACK_SETUP_DELAY", "5s")
	t.Setenv("REQUIRE_APPROVAL", "1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.EmbedPort != 9000 {
		t.Errorf("EmbedPort = %d, want 9000", cfg.EmbedPort)
	}
	if cfg.SetupDelay != 5*time.Second {
		t.Errorf("SetupDelay = %v, want 5s", cfg.SetupDelay)
	}
	if !cfg.RequireApproval {
		t.Errorf("RequireApproval = false, want true")
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_CHANNEL"); err != nil {
		t.Fatalf("failed to unset TWITCH_CHANNEL: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}
