package playback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/clip-relay/backend/telemetry"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

// ErrQueueFull means the request queue rejected a new clip.
var ErrQueueFull = errors.New("playback: request queue full")

// Queue buffers resolved clips and feeds them to the session one at a time,
// starting the next only when the session is idle.
type Queue struct {
	session *Session
	ch      chan *twitchapi.Clip
	poll    time.Duration
}

// NewQueue builds a bounded queue in front of the session.
func NewQueue(session *Session, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 8
	}
	return &Queue{
		session: session,
		ch:      make(chan *twitchapi.Clip, capacity),
		poll:    250 * time.Millisecond,
	}
}

// Enqueue adds a clip without blocking. Full queues reject immediately so
// chat gets a prompt notice instead of a silent stall.
func (q *Queue) Enqueue(clip *twitchapi.Clip) error {
	select {
	case q.ch <- clip:
		telemetry.SetQueueDepth(len(q.ch))
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the number of queued clips.
func (q *Queue) Len() int { return len(q.ch) }

// Run consumes the queue until ctx is cancelled. Each clip waits for the
// session to go idle before playing; a busy session is polled, not raced.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case clip := <-q.ch:
			telemetry.SetQueueDepth(len(q.ch))
			q.playWhenIdle(ctx, clip)
		}
	}
}

func (q *Queue) playWhenIdle(ctx context.Context, clip *twitchapi.Clip) {
	tick := time.NewTicker(q.poll)
	defer tick.Stop()
	for {
		err := q.session.Play(ctx, clip)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrBusy) {
			slog.Error("queued playback failed",
				slog.String("clip_id", clip.ID),
				slog.Any("error", err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
