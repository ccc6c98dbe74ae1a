// Package chat posts user-visible notices to the Twitch channel: which clip
// resolved, that a clip was not approved, or that nothing matched. Log lines
// are for operators; these messages are for the audience.
package chat

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/clip-relay/backend/db"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

// Announcer is a connected IRC client pinned to one channel. Zero value is
// unusable; construct with NewAnnouncer.
type Announcer struct {
	client  *twitch.Client
	channel string
}

// NewAnnouncer builds the IRC client using the bot's user token stored in
// oauth_tokens (provider "twitch-bot"), falling back to fallbackToken (the
// TWITCH_OAUTH_TOKEN env bootstrap) when the table has nothing yet. The
// stored token is refreshed out of band by the oauth refresher.
func NewAnnouncer(ctx context.Context, database *sql.DB, username, channel, fallbackToken string) (*Announcer, error) {
	if username == "" || channel == "" {
		return nil, fmt.Errorf("chat: bot username and channel required")
	}
	access, _, _, _, err := db.GetOAuthToken(ctx, database, "twitch-bot")
	if err != nil {
		return nil, fmt.Errorf("chat: load bot token: %w", err)
	}
	if access == "" {
		access = fallbackToken
	}
	if access == "" {
		return nil, fmt.Errorf("chat: no stored or configured token for twitch-bot")
	}
	if !strings.HasPrefix(access, "oauth:") {
		access = "oauth:" + access
	}

	client := twitch.NewClient(username, access)
	client.Join(channel)
	return &Announcer{client: client, channel: channel}, nil
}

// Run connects and blocks until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		a.client.Disconnect()
		close(done)
	}()
	if err := a.client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}

// Announce implements playback.Notifier.
func (a *Announcer) Announce(text string) {
	if text == "" {
		return
	}
	a.client.Say(a.channel, text)
}

// ResolvedNotice formats the message sent when a clip is about to play.
func ResolvedNotice(clip *twitchapi.Clip) string {
	return fmt.Sprintf("Now playing: %q clipped by %s (%.0fs)", clip.Title, clip.CreatorName, clip.Duration)
}

// NotApprovedNotice formats the denial message.
func NotApprovedNotice(clip *twitchapi.Clip) string {
	return fmt.Sprintf("Clip %q was not approved.", clip.Title)
}

// NotFoundNotice formats the no-match message for a reference the user gave.
func NotFoundNotice(reference string) string {
	if reference == "" {
		return "No clip found."
	}
	return fmt.Sprintf("No clip found for %q.", reference)
}
