package obsws

import "context"

// SceneDescriptor is one entry of GetSceneList.
type SceneDescriptor struct {
	SceneName  string `json:"sceneName"`
	SceneIndex int    `json:"sceneIndex"`
}

// SceneList is the GetSceneList result.
type SceneList struct {
	CurrentProgramSceneName string            `json:"currentProgramSceneName"`
	Scenes                  []SceneDescriptor `json:"scenes"`
}

// GetSceneList returns every scene plus the active program scene.
func (c *Client) GetSceneList(ctx context.Context) (*SceneList, error) {
	var out SceneList
	if err := c.call(ctx, "GetSceneList", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateScene creates an empty scene with the given name.
func (c *Client) CreateScene(ctx context.Context, sceneName string) error {
	return c.call(ctx, "CreateScene", map[string]any{"sceneName": sceneName}, nil)
}

// GetCurrentProgramScene returns the name of the active program scene.
func (c *Client) GetCurrentProgramScene(ctx context.Context) (string, error) {
	var out struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
	}
	if err := c.call(ctx, "GetCurrentProgramScene", nil, &out); err != nil {
		return "", err
	}
	return out.CurrentProgramSceneName, nil
}

// GetSceneItemID resolves a source name to its item id within a scene.
func (c *Client) GetSceneItemID(ctx context.Context, sceneName, sourceName string) (int, error) {
	var out struct {
		SceneItemID int `json:"sceneItemId"`
	}
	err := c.call(ctx, "GetSceneItemId", map[string]any{
		"sceneName":  sceneName,
		"sourceName": sourceName,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.SceneItemID, nil
}

// CreateSceneItem adds sourceName to sceneName and returns the new item id.
func (c *Client) CreateSceneItem(ctx context.Context, sceneName, sourceName string, enabled bool) (int, error) {
	var out struct {
		SceneItemID int `json:"sceneItemId"`
	}
	err := c.call(ctx, "CreateSceneItem", map[string]any{
		"sceneName":        sceneName,
		"sourceName":       sourceName,
		"sceneItemEnabled": enabled,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.SceneItemID, nil
}

// GetSceneItemEnabled reports the visibility of a scene item.
func (c *Client) GetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int) (bool, error) {
	var out struct {
		SceneItemEnabled bool `json:"sceneItemEnabled"`
	}
	err := c.call(ctx, "GetSceneItemEnabled", map[string]any{
		"sceneName":   sceneName,
		"sceneItemId": sceneItemID,
	}, &out)
	if err != nil {
		return false, err
	}
	return out.SceneItemEnabled, nil
}

// SetSceneItemEnabled toggles the visibility of a scene item.
func (c *Client) SetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int, enabled bool) error {
	return c.call(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        sceneName,
		"sceneItemId":      sceneItemID,
		"sceneItemEnabled": enabled,
	}, nil)
}

// CreateInput creates a source of inputKind inside sceneName.
func (c *Client) CreateInput(ctx context.Context, sceneName, inputName, inputKind string, settings map[string]any, enabled bool) (int, error) {
	var out struct {
		SceneItemID int `json:"sceneItemId"`
	}
	err := c.call(ctx, "CreateInput", map[string]any{
		"sceneName":        sceneName,
		"inputName":        inputName,
		"inputKind":        inputKind,
		"inputSettings":    settings,
		"sceneItemEnabled": enabled,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.SceneItemID, nil
}

// InputSettings is the GetInputSettings result.
type InputSettings struct {
	InputKind     string         `json:"inputKind"`
	InputSettings map[string]any `json:"inputSettings"`
}

// GetInputSettings returns the current settings of an input.
func (c *Client) GetInputSettings(ctx context.Context, inputName string) (*InputSettings, error) {
	var out InputSettings
	err := c.call(ctx, "GetInputSettings", map[string]any{"inputName": inputName}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetInputSettings applies a partial settings overlay to an input.
func (c *Client) SetInputSettings(ctx context.Context, inputName string, settings map[string]any) error {
	return c.call(ctx, "SetInputSettings", map[string]any{
		"inputName":     inputName,
		"inputSettings": settings,
		"overlay":       true,
	}, nil)
}

// GetInputAudioMonitorType returns the monitor mode of an input.
func (c *Client) GetInputAudioMonitorType(ctx context.Context, inputName string) (string, error) {
	var out struct {
		MonitorType string `json:"monitorType"`
	}
	err := c.call(ctx, "GetInputAudioMonitorType", map[string]any{"inputName": inputName}, &out)
	if err != nil {
		return "", err
	}
	return out.MonitorType, nil
}

// SetInputAudioMonitorType sets the monitor mode of an input, e.g.
// "OBS_MONITORING_TYPE_MONITOR_AND_OUTPUT".
func (c *Client) SetInputAudioMonitorType(ctx context.Context, inputName, monitorType string) error {
	return c.call(ctx, "SetInputAudioMonitorType", map[string]any{
		"inputName":   inputName,
		"monitorType": monitorType,
	}, nil)
}

// InputVolume is the GetInputVolume result.
type InputVolume struct {
	InputVolumeMul float64 `json:"inputVolumeMul"`
	InputVolumeDb  float64 `json:"inputVolumeDb"`
}

// GetInputVolume returns the volume of an input.
func (c *Client) GetInputVolume(ctx context.Context, inputName string) (*InputVolume, error) {
	var out InputVolume
	err := c.call(ctx, "GetInputVolume", map[string]any{"inputName": inputName}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetInputVolumeDb sets the input volume in decibels.
func (c *Client) SetInputVolumeDb(ctx context.Context, inputName string, db float64) error {
	return c.call(ctx, "SetInputVolume", map[string]any{
		"inputName":     inputName,
		"inputVolumeDb": db,
	}, nil)
}

// SourceFilter is the GetSourceFilter result.
type SourceFilter struct {
	FilterKind     string         `json:"filterKind"`
	FilterName     string         `json:"filterName"`
	FilterEnabled  bool           `json:"filterEnabled"`
	FilterSettings map[string]any `json:"filterSettings"`
}

// GetSourceFilter returns one named filter on a source.
func (c *Client) GetSourceFilter(ctx context.Context, sourceName, filterName string) (*SourceFilter, error) {
	var out SourceFilter
	err := c.call(ctx, "GetSourceFilter", map[string]any{
		"sourceName": sourceName,
		"filterName": filterName,
	}, &out)
	if err != nil {
		return nil, err
	}
	out.FilterName = filterName
	return &out, nil
}

// CreateSourceFilter adds a filter to a source.
func (c *Client) CreateSourceFilter(ctx context.Context, sourceName, filterName, filterKind string, settings map[string]any) error {
	return c.call(ctx, "CreateSourceFilter", map[string]any{
		"sourceName":     sourceName,
		"filterName":     filterName,
		"filterKind":     filterKind,
		"filterSettings": settings,
	}, nil)
}

// PressInputPropertiesButton invokes a button in an input's property sheet,
// e.g. a browser source's "Refresh cache of current page".
func (c *Client) PressInputPropertiesButton(ctx context.Context, inputName, propertyName string) error {
	return c.call(ctx, "PressInputPropertiesButton", map[string]any{
		"inputName":    inputName,
		"propertyName": propertyName,
	}, nil)
}
