// Package resolver turns a chat command's clip reference (URL, search phrase,
// or "random") into one concrete clip, using the Helix catalog capability
// through the resilience layer and a bounded in-memory cache.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/onnwee/clip-relay/backend/resilience"
	"github.com/onnwee/clip-relay/backend/telemetry"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

var (
	// ErrInvalidReference means the input was malformed (user-correctable).
	ErrInvalidReference = errors.New("invalid clip reference")
	// ErrNotFound means resolution completed but matched nothing. Not an
	// error condition; callers log it at warn and tell the user.
	ErrNotFound = errors.New("no clip found")
)

// SearchFilter constrains random clip selection. Supplied per request.
type SearchFilter struct {
	FeaturedOnly       bool
	MaxDurationSeconds int
	MaxAgeDays         int
}

// Catalog is the narrow upstream capability the resolver needs.
type Catalog interface {
	GetUserID(ctx context.Context, login string) (string, error)
	GetClip(ctx context.Context, id string) (*twitchapi.Clip, error)
	GetClips(ctx context.Context, broadcasterID string, window twitchapi.ClipWindow, after string, first int) ([]twitchapi.Clip, string, error)
}

// lookback windows tried in ascending order; 0 means all-time.
var lookbackDays = []int{1, 7, 30, 365, 0}

const (
	maxSearchPages      = 50
	exactMatchThreshold = 0.99
	acceptThreshold     = 0.5
)

// Resolver resolves clip references against the catalog, caching title
// searches by their original query string.
type Resolver struct {
	catalog Catalog
	cache   *Cache
	policy  resilience.Policy

	// randIntn is swappable in tests for deterministic selection.
	randIntn func(n int) int
}

// New creates a Resolver around the given catalog and cache.
func New(catalog Catalog, cache *Cache) *Resolver {
	return &Resolver{
		catalog:  catalog,
		cache:    cache,
		policy:   resilience.DefaultPolicy,
		randIntn: rand.Intn,
	}
}

// Cache exposes the resolver's cache for external maintenance (sweeps).
func (r *Resolver) Cache() *Cache { return r.cache }

// ResolveByURL extracts the clip id from the last non-empty path segment of
// the URL and looks it up.
func (r *Resolver) ResolveByURL(ctx context.Context, rawURL string) (*twitchapi.Clip, error) {
	telemetry.ResolutionsStarted.Inc()
	id := extractClipID(rawURL)
	if id == "" {
		telemetry.ResolutionsFailed.Inc()
		return nil, fmt.Errorf("%w: no clip id in %q", ErrInvalidReference, rawURL)
	}
	clip, err := resilience.Do(ctx, "get_clip", r.policy, func(ctx context.Context) (*twitchapi.Clip, error) {
		return r.catalog.GetClip(ctx, id)
	})
	if err != nil {
		if errors.Is(err, twitchapi.ErrClipNotFound) {
			slog.Warn("clip id unrecognized upstream", slog.String("clip_id", id))
			telemetry.ResolutionsFailed.Inc()
			return nil, fmt.Errorf("clip %q: %w", id, ErrNotFound)
		}
		telemetry.ResolutionsFailed.Inc()
		return nil, err
	}
	telemetry.ResolutionsSucceeded.Inc()
	return clip, nil
}

// extractClipID returns the last non-empty path segment of the URL, with any
// query or fragment stripped. Empty when nothing usable is present.
func extractClipID(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	segments := strings.Split(u.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(segments[i]); s != "" {
			return s
		}
	}
	return ""
}

// ResolveRandom picks a uniformly random clip from the channel matching the
// filter, widening the creation window until something qualifies. When a
// featured-only pass yields nothing for a window, the same window is retried
// without the featured constraint before advancing.
func (r *Resolver) ResolveRandom(ctx context.Context, channel string, filter SearchFilter) (*twitchapi.Clip, error) {
	telemetry.ResolutionsStarted.Inc()
	start := time.Now()
	defer func() { telemetry.ResolveDuration.Observe(time.Since(start).Seconds()) }()

	broadcasterID, err := resilience.Do(ctx, "get_user", r.policy, func(ctx context.Context) (string, error) {
		return r.catalog.GetUserID(ctx, channel)
	})
	if err != nil {
		telemetry.ResolutionsFailed.Inc()
		if errors.Is(err, twitchapi.ErrClipNotFound) {
			return nil, fmt.Errorf("channel %q: %w", channel, ErrNotFound)
		}
		return nil, err
	}

	for _, days := range clampWindows(filter.MaxAgeDays) {
		window := twitchapi.ClipWindow{}
		if days > 0 {
			window.StartedAt = time.Now().Add(-time.Duration(days) * 24 * time.Hour)
		}
		clips, err := resilience.Do(ctx, "get_clips", r.policy, func(ctx context.Context) ([]twitchapi.Clip, error) {
			cs, _, err := r.catalog.GetClips(ctx, broadcasterID, window, "", 100)
			return cs, err
		})
		if err != nil {
			telemetry.ResolutionsFailed.Inc()
			return nil, err
		}

		candidates := filterClips(clips, filter)
		if len(candidates) == 0 && filter.FeaturedOnly {
			relaxed := filter
			relaxed.FeaturedOnly = false
			candidates = filterClips(clips, relaxed)
		}
		if len(candidates) > 0 {
			clip := candidates[r.randIntn(len(candidates))]
			telemetry.ResolutionsSucceeded.Inc()
			return &clip, nil
		}
	}

	slog.Warn("no clip matched any lookback window",
		slog.String("channel", channel),
		slog.Bool("featured_only", filter.FeaturedOnly),
		slog.Int("max_duration_s", filter.MaxDurationSeconds),
		slog.Int("max_age_days", filter.MaxAgeDays))
	telemetry.ResolutionsFailed.Inc()
	return nil, fmt.Errorf("channel %q: %w", channel, ErrNotFound)
}

// clampWindows intersects the fixed lookback sequence with the filter's
// MaxAgeDays floor: windows wider than the floor collapse into one final
// window of exactly MaxAgeDays.
func clampWindows(maxAgeDays int) []int {
	if maxAgeDays <= 0 {
		return lookbackDays
	}
	out := make([]int, 0, len(lookbackDays))
	for _, d := range lookbackDays {
		if d == 0 || d >= maxAgeDays {
			out = append(out, maxAgeDays)
			return out
		}
		out = append(out, d)
	}
	return out
}

func filterClips(clips []twitchapi.Clip, filter SearchFilter) []twitchapi.Clip {
	out := make([]twitchapi.Clip, 0, len(clips))
	for _, c := range clips {
		if filter.FeaturedOnly && !c.IsFeatured {
			continue
		}
		if filter.MaxDurationSeconds > 0 && c.Duration > float64(filter.MaxDurationSeconds) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SearchByTitle finds the clip whose title best matches the query. The cache
// is consulted first; on a miss the channel's full catalog is paginated (up
// to a safety cap) scoring every title. A score at or above the exact-match
// threshold short-circuits pagination.
func (r *Resolver) SearchByTitle(ctx context.Context, channel, query string) (*twitchapi.Clip, error) {
	telemetry.ResolutionsStarted.Inc()
	start := time.Now()
	defer func() { telemetry.ResolveDuration.Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(query) == "" {
		telemetry.ResolutionsFailed.Inc()
		return nil, fmt.Errorf("%w: empty query", ErrInvalidReference)
	}
	if clip, ok := r.cache.Get(query); ok {
		telemetry.ResolutionsSucceeded.Inc()
		return clip, nil
	}

	broadcasterID, err := resilience.Do(ctx, "get_user", r.policy, func(ctx context.Context) (string, error) {
		return r.catalog.GetUserID(ctx, channel)
	})
	if err != nil {
		telemetry.ResolutionsFailed.Inc()
		if errors.Is(err, twitchapi.ErrClipNotFound) {
			return nil, fmt.Errorf("channel %q: %w", channel, ErrNotFound)
		}
		return nil, err
	}

	queryTokens := tokenize(query)
	var best *twitchapi.Clip
	bestScore := 0.0

	after := ""
	for page := 0; page < maxSearchPages; page++ {
		pg, err := resilience.Do(ctx, "get_clips", r.policy, func(ctx context.Context) (clipPage, error) {
			clips, cursor, err := r.catalog.GetClips(ctx, broadcasterID, twitchapi.ClipWindow{}, after, 100)
			return clipPage{clips: clips, cursor: cursor}, err
		})
		if err != nil {
			telemetry.ResolutionsFailed.Inc()
			return nil, err
		}
		for i := range pg.clips {
			score := titleScore(queryTokens, pg.clips[i].Title)
			if score >= exactMatchThreshold {
				clip := pg.clips[i]
				r.cache.Put(query, clip)
				telemetry.ResolutionsSucceeded.Inc()
				return &clip, nil
			}
			if score > bestScore {
				bestScore = score
				c := pg.clips[i]
				best = &c
			}
		}
		if pg.cursor == "" {
			break
		}
		after = pg.cursor
	}

	if best != nil && bestScore >= acceptThreshold {
		r.cache.Put(query, *best)
		telemetry.ResolutionsSucceeded.Inc()
		return best, nil
	}
	slog.Warn("title search matched nothing",
		slog.String("channel", channel),
		slog.String("query", query),
		slog.Float64("best_score", bestScore))
	telemetry.ResolutionsFailed.Inc()
	return nil, fmt.Errorf("query %q: %w", query, ErrNotFound)
}

// clipPage bundles one catalog page so it fits the resilience helper's
// single-value signature.
type clipPage struct {
	clips  []twitchapi.Clip
	cursor string
}

// tokenize lowercases s and splits on whitespace and the punctuation set
// used for title matching.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == ',' || r == '!' || r == '?'
	})
}

// titleScore is the fraction of query tokens occurring as a substring of any
// title token.
func titleScore(queryTokens []string, title string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	titleTokens := tokenize(title)
	matched := 0
	for _, qt := range queryTokens {
		for _, tt := range titleTokens {
			if strings.Contains(tt, qt) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(queryTokens))
}
