// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ResolutionsStarted   prometheus.Counter
	ResolutionsFailed    prometheus.Counter
	ResolutionsSucceeded prometheus.Counter
	CacheHits            prometheus.Counter
	CacheMisses          prometheus.Counter
	UpstreamRetries      prometheus.Counter
	PlaybacksStarted     prometheus.Counter
	PlaybacksStopped     prometheus.Counter
	ApprovalsDenied      prometheus.Counter
	SceneSetupFailures   prometheus.Counter

	// Histograms (seconds)
	ResolveDuration  prometheus.Observer
	PlaybackDuration prometheus.Observer

	// Gauges
	QueueDepthGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ResolutionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_resolutions_started_total", Help: "Number of clip resolutions started"})
		ResolutionsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_resolutions_failed_total", Help: "Number of clip resolutions failed"})
		ResolutionsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_resolutions_succeeded_total", Help: "Number of clip resolutions succeeded"})
		CacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_cache_hits_total", Help: "Number of resolver cache hits"})
		CacheMisses = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_cache_misses_total", Help: "Number of resolver cache misses"})
		UpstreamRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_upstream_retries_total", Help: "Number of retried upstream API calls"})
		PlaybacksStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_playbacks_started_total", Help: "Number of playback sessions started"})
		PlaybacksStopped = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_playbacks_stopped_total", Help: "Number of playback sessions stopped (auto or manual)"})
		ApprovalsDenied = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_approvals_denied_total", Help: "Number of playback requests denied or timed out in approval"})
		SceneSetupFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_scene_setup_failures_total", Help: "Number of composition surface setup failures"})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_resolve_duration_seconds", Help: "Clip resolution duration seconds", Buckets: prometheus.DefBuckets})
		PlaybackDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_playback_duration_seconds", Help: "Playback session duration seconds", Buckets: []float64{5, 10, 15, 30, 45, 60, 90, 120}})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "clip_queue_depth", Help: "Current number of queued playback requests"})
	})
}

// SetQueueDepth records the current number of queued playback requests.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
