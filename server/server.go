// Package server hosts the embed page OBS's browser source loads and the
// control/status HTTP API. It binds the preferred port with bounded
// sequential fallback, injects correlation IDs, and applies permissive CORS
// for development.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/clip-relay/backend/playback"
	"github.com/onnwee/clip-relay/backend/resolver"
	"github.com/onnwee/clip-relay/backend/scene"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

// HostingFailure means no port in the fallback range could be bound.
type HostingFailure struct {
	Preferred int
	Span      int
	Err       error
}

func (e *HostingFailure) Error() string {
	return fmt.Sprintf("server: no free port in [%d,%d): %v", e.Preferred, e.Preferred+e.Span, e.Err)
}

func (e *HostingFailure) Unwrap() error { return e.Err }

// Server is the embed host. It doubles as the playback.Host capability:
// Present pins the clip the page renders, Blank clears it.
type Server struct {
	mu   sync.Mutex
	clip *twitchapi.Clip

	session   *playback.Session
	queue     *playback.Queue
	notifier  playback.Notifier
	res       *resolver.Resolver
	dismisser scene.WarningDismisser

	ln   net.Listener
	port int
}

// New builds a server. Session and queue are attached separately because the
// session needs the server as its Host.
func New(res *resolver.Resolver, dismisser scene.WarningDismisser) *Server {
	return &Server{res: res, dismisser: dismisser}
}

// Attach wires the playback session and queue once they exist. notifier may
// be nil when chat announcements are disabled.
func (s *Server) Attach(session *playback.Session, queue *playback.Queue, notifier playback.Notifier) {
	s.session = session
	s.queue = queue
	s.notifier = notifier
}

func (s *Server) announce(text string) {
	if s.notifier != nil {
		s.notifier.Announce(text)
	}
}

// Listen binds the first free port in [preferred, preferred+span). A port
// that is merely in use advances the scan; any other bind error is fatal
// immediately, since retrying a different port won't fix it.
func (s *Server) Listen(preferred, span int) error {
	if span <= 0 {
		span = 1
	}
	var lastErr error
	for i := 0; i < span; i++ {
		port := preferred + i
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			s.ln = ln
			s.port = port
			if i > 0 {
				slog.Warn("preferred embed port busy, fell back",
					slog.Int("preferred", preferred),
					slog.Int("bound", port))
			}
			return nil
		}
		if errors.Is(err, syscall.EADDRINUSE) {
			lastErr = err
			continue
		}
		return fmt.Errorf("server: bind :%d: %w", port, err)
	}
	return &HostingFailure{Preferred: preferred, Span: span, Err: lastErr}
}

// Port reports the bound port. Valid after Listen.
func (s *Server) Port() int { return s.port }

// PageURL is the address the composition surface should load.
func (s *Server) PageURL() string {
	return fmt.Sprintf("http://localhost:%d/", s.port)
}

// Present implements playback.Host.
func (s *Server) Present(clip *twitchapi.Clip) string {
	s.mu.Lock()
	s.clip = clip
	s.mu.Unlock()
	return s.PageURL()
}

// Blank implements playback.Host.
func (s *Server) Blank() {
	s.mu.Lock()
	s.clip = nil
	s.mu.Unlock()
}

func (s *Server) currentClip() *twitchapi.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clip
}

// NewMux returns the HTTP handler with all routes.
func (s *Server) NewMux() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.css", s.handleCSS)

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/play", s.handlePlay)
	mux.HandleFunc("/api/replay", s.handleReplay)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/approve", s.handleApprove)
	mux.HandleFunc("/api/deny", s.handleDeny)
	mux.HandleFunc("/api/content-warning", s.handleContentWarning)
	mux.HandleFunc("/api/cache/sweep", s.handleCacheSweep)

	return withCORS(withCorrelation(mux))
}

// Serve runs the HTTP server on the listener from Listen and shuts down
// gracefully when ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server: Serve called before Listen")
	}
	srv := &http.Server{
		Handler:      s.NewMux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("embed server listening", slog.Int("port", s.port))
	if err := srv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
