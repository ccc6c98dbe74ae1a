// Package scene prepares and drives the OBS composition surface: a dedicated
// scene holding one browser source pointed at the embed page, nested into the
// active program scene. All state is read live from OBS; nothing is cached.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/onnwee/clip-relay/backend/obsws"
	"github.com/onnwee/clip-relay/backend/telemetry"
)

// ErrSurfaceUnready means the composition surface could not be brought to a
// usable state. Playback must not start while this holds.
var ErrSurfaceUnready = errors.New("scene: composition surface not ready")

// Compositor is the narrow OBS capability the adapter consumes. Implemented
// by *obsws.Client; faked in tests.
type Compositor interface {
	GetSceneList(ctx context.Context) (*obsws.SceneList, error)
	CreateScene(ctx context.Context, sceneName string) error
	GetCurrentProgramScene(ctx context.Context) (string, error)
	GetSceneItemID(ctx context.Context, sceneName, sourceName string) (int, error)
	CreateSceneItem(ctx context.Context, sceneName, sourceName string, enabled bool) (int, error)
	GetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int) (bool, error)
	SetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int, enabled bool) error
	CreateInput(ctx context.Context, sceneName, inputName, inputKind string, settings map[string]any, enabled bool) (int, error)
	GetInputSettings(ctx context.Context, inputName string) (*obsws.InputSettings, error)
	SetInputSettings(ctx context.Context, inputName string, settings map[string]any) error
	GetInputAudioMonitorType(ctx context.Context, inputName string) (string, error)
	SetInputAudioMonitorType(ctx context.Context, inputName, monitorType string) error
	GetInputVolume(ctx context.Context, inputName string) (*obsws.InputVolume, error)
	SetInputVolumeDb(ctx context.Context, inputName string, db float64) error
	GetSourceFilter(ctx context.Context, sourceName, filterName string) (*obsws.SourceFilter, error)
	CreateSourceFilter(ctx context.Context, sourceName, filterName, filterKind string, settings map[string]any) error
	PressInputPropertiesButton(ctx context.Context, inputName, propertyName string) error
}

const (
	createTries   = 3
	createSpacing = 250 * time.Millisecond

	monitorType = "OBS_MONITORING_TYPE_MONITOR_AND_OUTPUT"

	gainFilterName       = "clip-gain"
	compressorFilterName = "clip-compressor"

	browserWidth  = 1920
	browserHeight = 1080
)

// Adapter owns the named scene and browser source and keeps them in the
// shape playback expects.
type Adapter struct {
	comp       Compositor
	sceneName  string
	sourceName string

	// sleep is swappable in tests to avoid real creation spacing.
	sleep func(time.Duration)
}

// NewAdapter builds an adapter for the given scene and source names.
func NewAdapter(comp Compositor, sceneName, sourceName string) *Adapter {
	return &Adapter{
		comp:       comp,
		sceneName:  sceneName,
		sourceName: sourceName,
		sleep:      time.Sleep,
	}
}

// EnsureReady brings the surface to a known-good state in three idempotent
// steps: the scene exists, the browser source exists inside it with its
// audio chain, and the scene is nested in the active program scene. Every
// create is verified by read-back; a verified surface is the only success.
func (a *Adapter) EnsureReady(ctx context.Context) error {
	if err := a.ensureScene(ctx); err != nil {
		telemetry.SceneSetupFailures.Inc()
		return fmt.Errorf("%w: scene: %v", ErrSurfaceUnready, err)
	}
	if err := a.ensureSource(ctx); err != nil {
		telemetry.SceneSetupFailures.Inc()
		return fmt.Errorf("%w: source: %v", ErrSurfaceUnready, err)
	}
	if err := a.ensureAttached(ctx); err != nil {
		telemetry.SceneSetupFailures.Inc()
		return fmt.Errorf("%w: attach: %v", ErrSurfaceUnready, err)
	}
	return nil
}

func (a *Adapter) ensureScene(ctx context.Context) error {
	exists, err := a.sceneExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.createVerified(ctx, "create scene", func() error {
		return a.comp.CreateScene(ctx, a.sceneName)
	}, func() (bool, error) {
		return a.sceneExists(ctx)
	})
}

func (a *Adapter) sceneExists(ctx context.Context) (bool, error) {
	list, err := a.comp.GetSceneList(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range list.Scenes {
		if s.SceneName == a.sceneName {
			return true, nil
		}
	}
	return false, nil
}

func (a *Adapter) ensureSource(ctx context.Context) error {
	_, err := a.comp.GetSceneItemID(ctx, a.sceneName, a.sourceName)
	switch {
	case err == nil:
		// Source already present; still converge the audio chain.
	case obsws.IsNotFound(err):
		settings := map[string]any{
			"url":                 "about:blank",
			"width":               browserWidth,
			"height":              browserHeight,
			"shutdown":            true,
			"restart_when_active": true,
		}
		createErr := a.createVerified(ctx, "create browser source", func() error {
			_, err := a.comp.CreateInput(ctx, a.sceneName, a.sourceName, "browser_source", settings, true)
			if err != nil && obsws.IsAlreadyExists(err) {
				return nil
			}
			return err
		}, func() (bool, error) {
			_, err := a.comp.GetSceneItemID(ctx, a.sceneName, a.sourceName)
			if obsws.IsNotFound(err) {
				return false, nil
			}
			return err == nil, err
		})
		if createErr != nil {
			return createErr
		}
	default:
		return err
	}
	return a.ensureAudioChain(ctx)
}

// ensureAudioChain converges the source's audio path: monitored so the
// streamer hears it, output so the stream mix carries it, plus a gain stage
// and a compressor to tame clip-to-clip loudness swings.
func (a *Adapter) ensureAudioChain(ctx context.Context) error {
	mt, err := a.comp.GetInputAudioMonitorType(ctx, a.sourceName)
	if err != nil {
		return err
	}
	if mt != monitorType {
		if err := a.comp.SetInputAudioMonitorType(ctx, a.sourceName, monitorType); err != nil {
			return err
		}
		got, err := a.comp.GetInputAudioMonitorType(ctx, a.sourceName)
		if err != nil {
			return err
		}
		if got != monitorType {
			return fmt.Errorf("monitor type read-back mismatch: want %s, got %s", monitorType, got)
		}
	}

	vol, err := a.comp.GetInputVolume(ctx, a.sourceName)
	if err != nil {
		return err
	}
	if vol.InputVolumeDb > 0 {
		// Never let the embed run hot; trim to unity.
		if err := a.comp.SetInputVolumeDb(ctx, a.sourceName, 0); err != nil {
			return err
		}
		got, err := a.comp.GetInputVolume(ctx, a.sourceName)
		if err != nil {
			return err
		}
		if got.InputVolumeDb > 0 {
			return fmt.Errorf("volume read-back mismatch: want <= 0 dB, got %.1f dB", got.InputVolumeDb)
		}
	}

	if err := a.ensureFilter(ctx, gainFilterName, "gain_filter", map[string]any{"db": 2.5}); err != nil {
		return err
	}
	return a.ensureFilter(ctx, compressorFilterName, "compressor_filter", map[string]any{
		"ratio":        4.0,
		"threshold":    -18.0,
		"attack_time":  6,
		"release_time": 60,
		"output_gain":  0.0,
	})
}

func (a *Adapter) ensureFilter(ctx context.Context, name, kind string, settings map[string]any) error {
	_, err := a.comp.GetSourceFilter(ctx, a.sourceName, name)
	if err == nil {
		return nil
	}
	if !obsws.IsNotFound(err) {
		return err
	}
	return a.createVerified(ctx, "create filter "+name, func() error {
		err := a.comp.CreateSourceFilter(ctx, a.sourceName, name, kind, settings)
		if err != nil && obsws.IsAlreadyExists(err) {
			return nil
		}
		return err
	}, func() (bool, error) {
		_, err := a.comp.GetSourceFilter(ctx, a.sourceName, name)
		if obsws.IsNotFound(err) {
			return false, nil
		}
		return err == nil, err
	})
}

func (a *Adapter) ensureAttached(ctx context.Context) error {
	program, err := a.comp.GetCurrentProgramScene(ctx)
	if err != nil {
		return err
	}
	if program == a.sceneName {
		// The clip scene itself is live; nothing to nest.
		return nil
	}
	_, err = a.comp.GetSceneItemID(ctx, program, a.sceneName)
	if err == nil {
		return nil
	}
	if !obsws.IsNotFound(err) {
		return err
	}
	return a.createVerified(ctx, "attach scene", func() error {
		_, err := a.comp.CreateSceneItem(ctx, program, a.sceneName, false)
		if err != nil && obsws.IsAlreadyExists(err) {
			return nil
		}
		return err
	}, func() (bool, error) {
		_, err := a.comp.GetSceneItemID(ctx, program, a.sceneName)
		if obsws.IsNotFound(err) {
			return false, nil
		}
		return err == nil, err
	})
}

// createVerified runs create up to createTries times with fixed spacing,
// treating a positive verify read-back as the only success condition.
func (a *Adapter) createVerified(ctx context.Context, op string, create func() error, verify func() (bool, error)) error {
	var lastErr error
	for attempt := 1; attempt <= createTries; attempt++ {
		if attempt > 1 {
			a.sleep(createSpacing)
		}
		if err := create(); err != nil {
			lastErr = err
			slog.Warn("surface create failed",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			continue
		}
		ok, err := verify()
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return nil
		}
		lastErr = fmt.Errorf("%s: created but not visible on read-back", op)
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", op, createTries, lastErr)
}

// Show makes the nested clip scene visible in the program scene, confirmed
// by read-back.
func (a *Adapter) Show(ctx context.Context) error {
	return a.setVisible(ctx, true)
}

// Hide removes the nested clip scene from view, confirmed by read-back.
func (a *Adapter) Hide(ctx context.Context) error {
	return a.setVisible(ctx, false)
}

// setVisible toggles both layers of the surface: the browser source inside
// the clip scene and the clip scene nested in the program scene. Each toggle
// is confirmed by read-back.
func (a *Adapter) setVisible(ctx context.Context, visible bool) error {
	if err := a.setItemEnabled(ctx, a.sceneName, a.sourceName, visible); err != nil {
		return err
	}
	program, err := a.comp.GetCurrentProgramScene(ctx)
	if err != nil {
		return err
	}
	if program == a.sceneName {
		// The clip scene itself is live; there is no outer item.
		return nil
	}
	return a.setItemEnabled(ctx, program, a.sceneName, visible)
}

func (a *Adapter) setItemEnabled(ctx context.Context, sceneName, sourceName string, visible bool) error {
	id, err := a.comp.GetSceneItemID(ctx, sceneName, sourceName)
	if err != nil {
		return fmt.Errorf("%w: %s item lookup: %v", ErrSurfaceUnready, sourceName, err)
	}
	if err := a.comp.SetSceneItemEnabled(ctx, sceneName, id, visible); err != nil {
		return err
	}
	got, err := a.comp.GetSceneItemEnabled(ctx, sceneName, id)
	if err != nil {
		return err
	}
	if got != visible {
		return fmt.Errorf("%s visibility read-back mismatch: want %v, got %v", sourceName, visible, got)
	}
	return nil
}

// SetURL points the browser source at url with a cache-busting query
// parameter, confirms the setting landed, and forces a page refresh.
func (a *Adapter) SetURL(ctx context.Context, rawURL string) error {
	busted := cacheBust(rawURL)
	if err := a.comp.SetInputSettings(ctx, a.sourceName, map[string]any{"url": busted}); err != nil {
		return err
	}
	got, err := a.comp.GetInputSettings(ctx, a.sourceName)
	if err != nil {
		return err
	}
	if current, _ := got.InputSettings["url"].(string); current != busted {
		return fmt.Errorf("url read-back mismatch: want %q, got %q", busted, current)
	}
	if err := a.comp.PressInputPropertiesButton(ctx, a.sourceName, "refreshnocache"); err != nil {
		// Refresh is best effort; the URL change alone reloads the page.
		slog.Warn("browser source refresh failed", slog.Any("error", err))
	}
	return nil
}

func cacheBust(rawURL string) string {
	sep := "?"
	for _, r := range rawURL {
		if r == '?' {
			sep = "&"
			break
		}
	}
	return rawURL + sep + "t=" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

// WarningDismisser is an optional capability: surfaces that can clear a
// content warning overlay themselves implement it.
type WarningDismisser interface {
	DismissWarning(ctx context.Context) error
}

// DismissWarning reloads the embed page, which clears Twitch's content
// warning interstitial when the viewer-side cookie is present.
func (a *Adapter) DismissWarning(ctx context.Context) error {
	return a.comp.PressInputPropertiesButton(ctx, a.sourceName, "refreshnocache")
}
