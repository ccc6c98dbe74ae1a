// Package playback owns the single global playback session: its state
// machine, approval gate, auto-stop timer, and the bounded request queue
// feeding it.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/clip-relay/backend/chat"
	"github.com/onnwee/clip-relay/backend/telemetry"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

// State is the session's position in the playback lifecycle.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateAwaitingApproval
	StateLoading
	StatePlaying
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy means a playback is already in flight.
	ErrBusy = errors.New("playback: session busy")
	// ErrNotApproved means the approval gate denied or timed out.
	ErrNotApproved = errors.New("playback: clip not approved")
	// ErrNoLastClip means replay was requested before anything ever played.
	ErrNoLastClip = errors.New("playback: no previous clip")
)

// Surface is the composition capability the session drives.
type Surface interface {
	EnsureReady(ctx context.Context) error
	Show(ctx context.Context) error
	Hide(ctx context.Context) error
	SetURL(ctx context.Context, url string) error
}

// Host presents a clip on the embed page and reports its URL.
type Host interface {
	Present(clip *twitchapi.Clip) (pageURL string)
	Blank()
}

// Store persists the last successfully played clip across restarts.
type Store interface {
	SetLastClip(ctx context.Context, url string) error
	LastClip(ctx context.Context) (string, error)
}

// Notifier posts user-visible notices. May be nil when chat is not wired.
type Notifier interface {
	Announce(text string)
}

// Options tune the session's timing and the approval gate.
type Options struct {
	SetupDelay      time.Duration // grace added to clip duration before auto-stop
	RequireApproval bool
	ApprovalTimeout time.Duration
	ApprovalPoll    time.Duration
}

type approvalRequest struct {
	mu       sync.Mutex
	decided  bool
	approved bool
}

func (a *approvalRequest) decide(approved bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.decided {
		return
	}
	a.decided = true
	a.approved = approved
}

func (a *approvalRequest) status() (decided, approved bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.decided, a.approved
}

// Session is the process-wide playback singleton. All transitions happen
// behind one mutex; blocking waits run outside it and are cancellable
// through the per-session context, which is replaced on every Play.
type Session struct {
	surface  Surface
	host     Host
	store    Store
	notifier Notifier
	opts     Options

	mu       sync.Mutex
	state    State
	current  *twitchapi.Clip
	cancel   context.CancelFunc
	approval *approvalRequest
}

// NewSession builds an idle session.
func NewSession(surface Surface, host Host, store Store, notifier Notifier, opts Options) *Session {
	if opts.SetupDelay <= 0 {
		opts.SetupDelay = 3 * time.Second
	}
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = 60 * time.Second
	}
	if opts.ApprovalPoll <= 0 {
		opts.ApprovalPoll = 500 * time.Millisecond
	}
	return &Session{surface: surface, host: host, store: store, notifier: notifier, opts: opts, state: StateIdle}
}

// Status reports the current state and clip without blocking playback.
func (s *Session) Status() (State, *twitchapi.Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.current
}

// BeginResolving claims the session for an upcoming Play. It fails when the
// session is not idle, so resolution work never overlaps a live playback.
func (s *Session) BeginResolving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return false
	}
	s.state = StateResolving
	return true
}

// AbandonResolving releases a BeginResolving claim after a failed resolve.
func (s *Session) AbandonResolving() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateResolving {
		s.state = StateIdle
	}
}

// Play runs the full playback sequence for an already-resolved clip:
// optional approval gate, surface preparation, presentation, then Playing
// with an auto-stop timer armed for the clip duration plus the setup delay.
func (s *Session) Play(ctx context.Context, clip *twitchapi.Clip) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateResolving {
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrBusy, s.state)
	}
	if s.cancel != nil {
		s.cancel()
	}
	sctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.opts.RequireApproval {
		s.state = StateAwaitingApproval
		s.approval = &approvalRequest{}
		approval := s.approval
		s.mu.Unlock()

		ok := s.awaitApproval(sctx, approval)
		s.mu.Lock()
		s.approval = nil
		if !ok {
			s.state = StateIdle
			s.mu.Unlock()
			telemetry.ApprovalsDenied.Inc()
			s.announce(chat.NotApprovedNotice(clip))
			return ErrNotApproved
		}
	}

	s.state = StateLoading
	s.mu.Unlock()

	if err := s.surface.EnsureReady(sctx); err != nil {
		s.toIdle()
		return fmt.Errorf("prepare surface: %w", err)
	}
	if sctx.Err() != nil {
		// Stopped before anything was presented; Stop already cleaned up.
		return fmt.Errorf("playback interrupted: %w", sctx.Err())
	}

	pageURL := s.host.Present(clip)
	if err := s.surface.SetURL(sctx, pageURL); err != nil {
		s.host.Blank()
		s.toIdle()
		return fmt.Errorf("point surface at embed: %w", err)
	}
	if err := s.surface.Show(sctx); err != nil {
		s.host.Blank()
		s.toIdle()
		return fmt.Errorf("show surface: %w", err)
	}

	// Commit only if this run was not stopped while loading. A Stop that
	// raced the steps above has already returned the session to Idle; a
	// blind commit would resurrect it into Playing with no auto-stop armed.
	s.mu.Lock()
	if sctx.Err() != nil || s.state != StateLoading {
		interrupted := s.state
		s.mu.Unlock()
		if interrupted == StateIdle || interrupted == StateCooldown {
			// Our Present/Show may have landed after Stop's cleanup.
			s.host.Blank()
			if err := s.surface.Hide(context.Background()); err != nil {
				slog.Warn("hide after interrupted load", slog.Any("error", err))
			}
		}
		return fmt.Errorf("playback interrupted: %w", context.Canceled)
	}
	s.state = StatePlaying
	s.current = clip
	s.mu.Unlock()

	telemetry.PlaybacksStarted.Inc()
	s.announce(chat.ResolvedNotice(clip))
	slog.Info("playback started",
		slog.String("clip_id", clip.ID),
		slog.String("title", clip.Title),
		slog.Float64("duration_s", clip.Duration))

	if err := s.persistLastClip(ctx, clip.URL); err != nil {
		slog.Warn("persist last clip failed", slog.Any("error", err))
	}

	runtime := time.Duration(clip.Duration*float64(time.Second)) + s.opts.SetupDelay
	go s.autoStop(sctx, runtime)
	return nil
}

// awaitApproval polls the pending decision until approved, denied, timed
// out, or cancelled. Timeout counts as denial.
func (s *Session) awaitApproval(ctx context.Context, approval *approvalRequest) bool {
	deadline := time.NewTimer(s.opts.ApprovalTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.opts.ApprovalPoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			slog.Info("approval timed out")
			return false
		case <-tick.C:
			if decided, approved := approval.status(); decided {
				return approved
			}
		}
	}
}

// Approve resolves a pending approval positively. No-op otherwise.
func (s *Session) Approve() {
	s.mu.Lock()
	approval := s.approval
	s.mu.Unlock()
	if approval != nil {
		approval.decide(true)
	}
}

// Deny resolves a pending approval negatively. No-op otherwise.
func (s *Session) Deny() {
	s.mu.Lock()
	approval := s.approval
	s.mu.Unlock()
	if approval != nil {
		approval.decide(false)
	}
}

func (s *Session) autoStop(ctx context.Context, after time.Duration) {
	start := time.Now()
	timer := time.NewTimer(after)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		telemetry.PlaybackDuration.Observe(time.Since(start).Seconds())
		if err := s.Stop(context.Background()); err != nil {
			slog.Error("auto-stop failed", slog.Any("error", err))
		}
	}
}

// Stop tears playback down from any state. Pending waits are cancelled
// before the shared surface is touched. Stopping an idle session is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateCooldown
	s.current = nil
	s.mu.Unlock()

	s.host.Blank()
	hideErr := s.surface.Hide(ctx)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	telemetry.PlaybacksStopped.Inc()
	if hideErr != nil {
		return fmt.Errorf("hide surface: %w", hideErr)
	}
	return nil
}

// Replay plays the last successfully played clip again, resolving its stored
// URL through the supplied resolver function. The session is claimed for the
// duration of the resolve so playback cannot start underneath it.
func (s *Session) Replay(ctx context.Context, resolve func(ctx context.Context, url string) (*twitchapi.Clip, error)) error {
	if !s.BeginResolving() {
		return fmt.Errorf("%w: state %s", ErrBusy, s.currentState())
	}
	url, err := s.store.LastClip(ctx)
	if err != nil {
		s.AbandonResolving()
		return fmt.Errorf("load last clip: %w", err)
	}
	if url == "" {
		s.AbandonResolving()
		return ErrNoLastClip
	}
	clip, err := resolve(ctx, url)
	if err != nil {
		s.AbandonResolving()
		return fmt.Errorf("re-resolve last clip: %w", err)
	}
	return s.Play(ctx, clip)
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) toIdle() {
	s.mu.Lock()
	s.state = StateIdle
	s.current = nil
	s.mu.Unlock()
}

func (s *Session) persistLastClip(ctx context.Context, url string) error {
	if s.store == nil {
		return nil
	}
	return s.store.SetLastClip(ctx, url)
}

func (s *Session) announce(text string) {
	if s.notifier != nil {
		s.notifier.Announce(text)
	}
}
