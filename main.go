// Command backend is the clip-relay entrypoint. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Connects to OBS and prepares the composition surface lazily on demand.
//   - Hosts the embed page plus the control/status API, falling back across
//     nearby ports when the preferred one is taken.
//   - Starts the playback queue worker, the chat announcer, and the OAuth
//     token refresher for the bot user.
//
// Shutdown is graceful on SIGINT/SIGTERM: playback stops and the surface is
// hidden before the OBS connection closes.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/clip-relay/backend/chat"
	"github.com/onnwee/clip-relay/backend/config"
	"github.com/onnwee/clip-relay/backend/db"
	"github.com/onnwee/clip-relay/backend/oauth"
	"github.com/onnwee/clip-relay/backend/obsws"
	"github.com/onnwee/clip-relay/backend/playback"
	"github.com/onnwee/clip-relay/backend/resolver"
	"github.com/onnwee/clip-relay/backend/scene"
	"github.com/onnwee/clip-relay/backend/server"
	"github.com/onnwee/clip-relay/backend/telemetry"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

func main() {
	_ = godotenv.Load(".env")
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("clip-relay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Helix client behind the app token.
	tokenSource := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
	}
	helix := &twitchapi.HelixClient{
		AppTokenSource: tokenSource,
		ClientID:       cfg.TwitchClientID,
	}
	res := resolver.New(helix, resolver.NewCache(cfg.CacheExpiry))

	// OBS connection and the composition adapter on top of it.
	obsCtx, obsCancel := context.WithTimeout(ctx, 15*time.Second)
	obsClient, err := obsws.Connect(obsCtx, cfg.OBSAddr, cfg.OBSPassword)
	obsCancel()
	if err != nil {
		slog.Error("obs connect failed", slog.Any("err", err), slog.String("addr", cfg.OBSAddr))
		os.Exit(1)
	}
	defer obsClient.Close()
	surface := scene.NewAdapter(obsClient, cfg.SceneName, cfg.SourceName)

	// Embed server binds before the session exists so the page URL is known.
	srv := server.New(res, surface)
	if err := srv.Listen(cfg.EmbedPort, cfg.EmbedPortSpan); err != nil {
		slog.Error("embed server bind failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Chat announcer is optional; playback works without it.
	var notifier playback.Notifier
	var announcer *chat.Announcer
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat announcer disabled", slog.Any("reason", err))
	} else if a, err := chat.NewAnnouncer(ctx, database, cfg.TwitchBotUsername, cfg.TwitchChannel, cfg.TwitchOAuthToken); err != nil {
		slog.Warn("chat announcer unavailable", slog.Any("err", err))
	} else {
		announcer = a
		notifier = a
	}

	session := playback.NewSession(surface, srv, &lastClipStore{db: database}, notifier, playback.Options{
		SetupDelay:      cfg.SetupDelay,
		RequireApproval: cfg.RequireApproval,
		ApprovalTimeout: cfg.ApprovalTimeout,
		ApprovalPoll:    cfg.ApprovalPoll,
	})
	queue := playback.NewQueue(session, cfg.QueueCapacity)
	srv.Attach(session, queue, notifier)

	go queue.Run(ctx)
	if announcer != nil {
		go announcer.Run(ctx)
	}

	oauth.StartRefresher(ctx, database, "twitch-bot", 5*time.Minute, 15*time.Minute,
		oauth.TwitchRefreshFunc(cfg.TwitchClientID, cfg.TwitchClientSecret))

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("embed server failed", slog.Any("err", err))
		}
		stop()
	}

	// Teardown order matters: stop playback (blanks the page, hides the
	// scene) while the OBS connection is still alive.
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Stop(stopCtx); err != nil {
		slog.Warn("playback stop during shutdown", slog.Any("err", err))
	}
	slog.Info("shutdown complete")
}

// lastClipStore adapts the kv table to the playback.Store capability.
type lastClipStore struct {
	db *sql.DB
}

func (s *lastClipStore) SetLastClip(ctx context.Context, url string) error {
	return db.SetKV(ctx, s.db, db.LastClipKey, url)
}

func (s *lastClipStore) LastClip(ctx context.Context) (string, error) {
	return db.GetKV(ctx, s.db, db.LastClipKey)
}

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
