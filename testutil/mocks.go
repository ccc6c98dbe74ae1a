// Package testutil holds shared test doubles: a mock Helix endpoint and a
// database helper.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// MockTwitchServer mocks the Helix API and the OAuth token endpoint. Register
// per-path handlers or use the canned Mock* helpers.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a mock Twitch API server, closed on cleanup.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockUserResponse serves /users with a single user.
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/users"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data": []map[string]string{{"id": userID, "login": login}},
		})
	}
}

// MockClipsResponse serves /clips with fixed data and pagination cursor.
// Clip maps use Helix field names (id, title, duration, is_featured, ...).
func (m *MockTwitchServer) MockClipsResponse(clips []map[string]any, cursor string) {
	m.Handlers["/clips"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data":       clips,
			"pagination": map[string]string{"cursor": cursor},
		})
	}
}

// MockOAuthTokenResponse serves the client-credentials grant.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

// Clip builds a Helix-shaped clip map for MockClipsResponse.
func Clip(id, title string, duration float64, featured bool) map[string]any {
	return map[string]any{
		"id":               id,
		"url":              "https://clips.twitch.tv/" + id,
		"embed_url":        "https://clips.twitch.tv/embed?clip=" + id,
		"broadcaster_id":   "42",
		"broadcaster_name": "channelX",
		"creator_name":     "viewerY",
		"title":            title,
		"view_count":       100,
		"created_at":       time.Now().UTC().Format(time.RFC3339),
		"duration":         duration,
		"is_featured":      featured,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
