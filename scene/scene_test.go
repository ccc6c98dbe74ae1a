package scene

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/clip-relay/backend/obsws"
	"github.com/onnwee/clip-relay/backend/telemetry"
)

func init() { telemetry.Init() }

// fakeComp is an in-memory OBS model tracking scenes, items, inputs, and
// filters, with per-op failure injection and creation counters.
type fakeComp struct {
	program string
	scenes  map[string]map[string]*fakeItem // scene -> source -> item
	inputs  map[string]*fakeInput
	filters map[string]map[string]obsws.SourceFilter

	createSceneCalls int
	createInputCalls int
	createItemCalls  int
	refreshPresses   int

	failCreateScene int  // fail this many CreateScene calls before succeeding
	createGhosts    bool // CreateScene succeeds but the scene never appears
	dropMonitorSets bool // SetInputAudioMonitorType "succeeds" but changes nothing
}

type fakeItem struct {
	id      int
	enabled bool
}

type fakeInput struct {
	kind        string
	settings    map[string]any
	monitorType string
	volumeDb    float64
}

func newFakeComp() *fakeComp {
	return &fakeComp{
		program: "main",
		scenes:  map[string]map[string]*fakeItem{"main": {}},
		inputs:  map[string]*fakeInput{},
		filters: map[string]map[string]obsws.SourceFilter{},
	}
}

func notFound(requestType string) error {
	return &obsws.RequestError{RequestType: requestType, Code: obsws.CodeResourceNotFound}
}

func (f *fakeComp) GetSceneList(ctx context.Context) (*obsws.SceneList, error) {
	out := &obsws.SceneList{CurrentProgramSceneName: f.program}
	i := 0
	for name := range f.scenes {
		out.Scenes = append(out.Scenes, obsws.SceneDescriptor{SceneName: name, SceneIndex: i})
		i++
	}
	return out, nil
}

func (f *fakeComp) CreateScene(ctx context.Context, name string) error {
	f.createSceneCalls++
	if f.failCreateScene > 0 {
		f.failCreateScene--
		return &obsws.RequestError{RequestType: "CreateScene", Code: 205, Comment: "injected"}
	}
	if f.createGhosts {
		return nil
	}
	if _, ok := f.scenes[name]; ok {
		return &obsws.RequestError{RequestType: "CreateScene", Code: obsws.CodeResourceAlreadyExists}
	}
	f.scenes[name] = map[string]*fakeItem{}
	return nil
}

func (f *fakeComp) GetCurrentProgramScene(ctx context.Context) (string, error) {
	return f.program, nil
}

func (f *fakeComp) GetSceneItemID(ctx context.Context, sceneName, sourceName string) (int, error) {
	items, ok := f.scenes[sceneName]
	if !ok {
		return 0, notFound("GetSceneItemId")
	}
	item, ok := items[sourceName]
	if !ok {
		return 0, notFound("GetSceneItemId")
	}
	return item.id, nil
}

func (f *fakeComp) CreateSceneItem(ctx context.Context, sceneName, sourceName string, enabled bool) (int, error) {
	f.createItemCalls++
	items, ok := f.scenes[sceneName]
	if !ok {
		return 0, notFound("CreateSceneItem")
	}
	id := len(items) + 1
	items[sourceName] = &fakeItem{id: id, enabled: enabled}
	return id, nil
}

func (f *fakeComp) GetSceneItemEnabled(ctx context.Context, sceneName string, id int) (bool, error) {
	for _, item := range f.scenes[sceneName] {
		if item.id == id {
			return item.enabled, nil
		}
	}
	return false, notFound("GetSceneItemEnabled")
}

func (f *fakeComp) SetSceneItemEnabled(ctx context.Context, sceneName string, id int, enabled bool) error {
	for _, item := range f.scenes[sceneName] {
		if item.id == id {
			item.enabled = enabled
			return nil
		}
	}
	return notFound("SetSceneItemEnabled")
}

func (f *fakeComp) CreateInput(ctx context.Context, sceneName, inputName, inputKind string, settings map[string]any, enabled bool) (int, error) {
	f.createInputCalls++
	items, ok := f.scenes[sceneName]
	if !ok {
		return 0, notFound("CreateInput")
	}
	if _, ok := f.inputs[inputName]; ok {
		return 0, &obsws.RequestError{RequestType: "CreateInput", Code: obsws.CodeResourceAlreadyExists}
	}
	cp := map[string]any{}
	for k, v := range settings {
		cp[k] = v
	}
	f.inputs[inputName] = &fakeInput{kind: inputKind, settings: cp}
	id := len(items) + 1
	items[inputName] = &fakeItem{id: id, enabled: enabled}
	return id, nil
}

func (f *fakeComp) GetInputSettings(ctx context.Context, inputName string) (*obsws.InputSettings, error) {
	in, ok := f.inputs[inputName]
	if !ok {
		return nil, notFound("GetInputSettings")
	}
	return &obsws.InputSettings{InputKind: in.kind, InputSettings: in.settings}, nil
}

func (f *fakeComp) SetInputSettings(ctx context.Context, inputName string, settings map[string]any) error {
	in, ok := f.inputs[inputName]
	if !ok {
		return notFound("SetInputSettings")
	}
	for k, v := range settings {
		in.settings[k] = v
	}
	return nil
}

func (f *fakeComp) GetInputAudioMonitorType(ctx context.Context, inputName string) (string, error) {
	in, ok := f.inputs[inputName]
	if !ok {
		return "", notFound("GetInputAudioMonitorType")
	}
	if in.monitorType == "" {
		return "OBS_MONITORING_TYPE_NONE", nil
	}
	return in.monitorType, nil
}

func (f *fakeComp) SetInputAudioMonitorType(ctx context.Context, inputName, mt string) error {
	in, ok := f.inputs[inputName]
	if !ok {
		return notFound("SetInputAudioMonitorType")
	}
	if f.dropMonitorSets {
		return nil
	}
	in.monitorType = mt
	return nil
}

func (f *fakeComp) GetInputVolume(ctx context.Context, inputName string) (*obsws.InputVolume, error) {
	in, ok := f.inputs[inputName]
	if !ok {
		return nil, notFound("GetInputVolume")
	}
	return &obsws.InputVolume{InputVolumeDb: in.volumeDb}, nil
}

func (f *fakeComp) SetInputVolumeDb(ctx context.Context, inputName string, db float64) error {
	in, ok := f.inputs[inputName]
	if !ok {
		return notFound("SetInputVolume")
	}
	in.volumeDb = db
	return nil
}

func (f *fakeComp) GetSourceFilter(ctx context.Context, sourceName, filterName string) (*obsws.SourceFilter, error) {
	fl, ok := f.filters[sourceName][filterName]
	if !ok {
		return nil, notFound("GetSourceFilter")
	}
	return &fl, nil
}

func (f *fakeComp) CreateSourceFilter(ctx context.Context, sourceName, filterName, filterKind string, settings map[string]any) error {
	if f.filters[sourceName] == nil {
		f.filters[sourceName] = map[string]obsws.SourceFilter{}
	}
	f.filters[sourceName][filterName] = obsws.SourceFilter{
		FilterKind:     filterKind,
		FilterName:     filterName,
		FilterEnabled:  true,
		FilterSettings: settings,
	}
	return nil
}

func (f *fakeComp) PressInputPropertiesButton(ctx context.Context, inputName, propertyName string) error {
	if _, ok := f.inputs[inputName]; !ok {
		return notFound("PressInputPropertiesButton")
	}
	f.refreshPresses++
	return nil
}

func newAdapter(comp Compositor) *Adapter {
	a := NewAdapter(comp, "clip-relay", "clip-relay-embed")
	a.sleep = func(time.Duration) {}
	return a
}

func TestEnsureReadyFromScratch(t *testing.T) {
	comp := newFakeComp()
	a := newAdapter(comp)

	if err := a.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady() error = %v", err)
	}
	if _, ok := comp.scenes["clip-relay"]; !ok {
		t.Error("scene not created")
	}
	in, ok := comp.inputs["clip-relay-embed"]
	if !ok {
		t.Fatal("browser source not created")
	}
	if in.kind != "browser_source" {
		t.Errorf("input kind = %s", in.kind)
	}
	if in.monitorType != "OBS_MONITORING_TYPE_MONITOR_AND_OUTPUT" {
		t.Errorf("monitor type = %s", in.monitorType)
	}
	for _, name := range []string{"clip-gain", "clip-compressor"} {
		if _, ok := comp.filters["clip-relay-embed"][name]; !ok {
			t.Errorf("filter %s missing", name)
		}
	}
	if _, ok := comp.scenes["main"]["clip-relay"]; !ok {
		t.Error("clip scene not nested into the program scene")
	}
}

func TestEnsureReadyIdempotent(t *testing.T) {
	comp := newFakeComp()
	a := newAdapter(comp)

	for i := 0; i < 3; i++ {
		if err := a.EnsureReady(context.Background()); err != nil {
			t.Fatalf("EnsureReady() run %d error = %v", i, err)
		}
	}
	if comp.createSceneCalls != 1 {
		t.Errorf("CreateScene called %d times, want 1", comp.createSceneCalls)
	}
	if comp.createInputCalls != 1 {
		t.Errorf("CreateInput called %d times, want 1", comp.createInputCalls)
	}
	if comp.createItemCalls != 1 {
		t.Errorf("CreateSceneItem called %d times, want 1", comp.createItemCalls)
	}
}

func TestEnsureReadyRetriesCreation(t *testing.T) {
	comp := newFakeComp()
	comp.failCreateScene = 2
	a := newAdapter(comp)

	if err := a.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady() error = %v", err)
	}
	if comp.createSceneCalls != 3 {
		t.Errorf("CreateScene called %d times, want 3", comp.createSceneCalls)
	}
}

func TestEnsureReadyNeverFalselyReady(t *testing.T) {
	comp := newFakeComp()
	comp.createGhosts = true // creates "succeed" but read-back never sees them
	a := newAdapter(comp)

	err := a.EnsureReady(context.Background())
	if !errors.Is(err, ErrSurfaceUnready) {
		t.Fatalf("error = %v, want ErrSurfaceUnready", err)
	}
	if comp.createSceneCalls != 3 {
		t.Errorf("CreateScene called %d times, want 3 (bounded retries)", comp.createSceneCalls)
	}
}

func TestShowHideReadBack(t *testing.T) {
	comp := newFakeComp()
	a := newAdapter(comp)
	ctx := context.Background()
	if err := a.EnsureReady(ctx); err != nil {
		t.Fatalf("EnsureReady() error = %v", err)
	}

	if err := a.Show(ctx); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	if !comp.scenes["main"]["clip-relay"].enabled {
		t.Error("nested scene item not enabled after Show")
	}
	if !comp.scenes["clip-relay"]["clip-relay-embed"].enabled {
		t.Error("browser source item not enabled after Show")
	}
	if err := a.Hide(ctx); err != nil {
		t.Fatalf("Hide() error = %v", err)
	}
	if comp.scenes["main"]["clip-relay"].enabled {
		t.Error("nested scene item still enabled after Hide")
	}
	if comp.scenes["clip-relay"]["clip-relay-embed"].enabled {
		t.Error("browser source item still enabled after Hide")
	}
}

func TestEnsureReadyVerifiesAudioSettings(t *testing.T) {
	comp := newFakeComp()
	comp.dropMonitorSets = true // sets "succeed" but the read-back never changes
	a := newAdapter(comp)

	err := a.EnsureReady(context.Background())
	if !errors.Is(err, ErrSurfaceUnready) {
		t.Fatalf("error = %v, want ErrSurfaceUnready", err)
	}
	if !strings.Contains(err.Error(), "monitor type") {
		t.Errorf("error = %v, want monitor type read-back failure", err)
	}
}

func TestSetURLCacheBustsAndRefreshes(t *testing.T) {
	comp := newFakeComp()
	a := newAdapter(comp)
	ctx := context.Background()
	if err := a.EnsureReady(ctx); err != nil {
		t.Fatalf("EnsureReady() error = %v", err)
	}

	if err := a.SetURL(ctx, "http://localhost:8192/"); err != nil {
		t.Fatalf("SetURL() error = %v", err)
	}
	got, _ := comp.inputs["clip-relay-embed"].settings["url"].(string)
	if !strings.HasPrefix(got, "http://localhost:8192/?t=") {
		t.Errorf("url = %q, want cache-busted", got)
	}
	if comp.refreshPresses != 1 {
		t.Errorf("refresh pressed %d times, want 1", comp.refreshPresses)
	}
}

func TestDismissWarningCapability(t *testing.T) {
	comp := newFakeComp()
	a := newAdapter(comp)
	ctx := context.Background()
	if err := a.EnsureReady(ctx); err != nil {
		t.Fatalf("EnsureReady() error = %v", err)
	}

	var d WarningDismisser = a
	if err := d.DismissWarning(ctx); err != nil {
		t.Fatalf("DismissWarning() error = %v", err)
	}
	if comp.refreshPresses != 1 {
		t.Errorf("refresh pressed %d times, want 1", comp.refreshPresses)
	}
}
