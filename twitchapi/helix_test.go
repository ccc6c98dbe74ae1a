package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newClient(t *testing.T, handler http.HandlerFunc) *HelixClient {
	t.Helper()
	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	t.Cleanup(tokens.Close)
	return &HelixClient{
		AppTokenSource: &TokenSource{ClientID: "test-client-id", ClientSecret: "secret", TokenURL: tokens.URL},
		ClientID:       "test-client-id",
		BaseURL:        api.URL,
	}
}

func TestHelixClient_GetUserID(t *testing.T) {
	tests := []struct {
		response    any
		name        string
		login       string
		wantUserID  string
		errContains string
		statusCode  int
		wantErr     bool
	}{
		{
			name:  "successful user lookup",
			login: "testuser",
			response: map[string]any{
				"data": []map[string]string{{"id": "12345", "login": "testuser"}},
			},
			statusCode: http.StatusOK,
			wantUserID: "12345",
		},
		{
			name:        "user not found",
			login:       "nonexistent",
			response:    map[string]any{"data": []map[string]string{}},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "not found",
		},
		{
			name:        "empty login",
			login:       "",
			wantErr:     true,
			errContains: "login empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if tt.login != "" && r.URL.Query().Get("login") != tt.login {
					t.Errorf("login query param = %s, want %s", r.URL.Query().Get("login"), tt.login)
				}
				w.WriteHeader(tt.statusCode)
				if tt.response != nil {
					_ = json.NewEncoder(w).Encode(tt.response)
				}
			})

			userID, err := client.GetUserID(context.Background(), tt.login)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("GetUserID() error = nil, want error containing %q", tt.errContains)
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetUserID() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetUserID() unexpected error = %v", err)
			}
			if userID != tt.wantUserID {
				t.Errorf("GetUserID() = %s, want %s", userID, tt.wantUserID)
			}
		})
	}
}

func TestHelixClient_GetClip(t *testing.T) {
	created := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clips" {
			t.Errorf("path = %s, want /clips", r.URL.Path)
		}
		if r.URL.Query().Get("id") != "AbCdEf123" {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []Clip{{
			ID:              "AbCdEf123",
			URL:             "https://clips.twitch.tv/AbCdEf123",
			BroadcasterName: "channelX",
			Title:           "pog moment",
			Duration:        30,
			CreatedAt:       created,
			IsFeatured:      true,
		}}})
	})

	clip, err := client.GetClip(context.Background(), "AbCdEf123")
	if err != nil {
		t.Fatalf("GetClip() error = %v", err)
	}
	if clip.Title != "pog moment" || clip.Duration != 30 || !clip.IsFeatured {
		t.Errorf("unexpected clip: %+v", clip)
	}

	if _, err := client.GetClip(context.Background(), "missing"); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("GetClip(missing) error = %v, want ErrClipNotFound", err)
	}
}

func TestHelixClient_GetClipsWindowAndCursor(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("broadcaster_id") != "42" {
			t.Errorf("broadcaster_id = %s, want 42", q.Get("broadcaster_id"))
		}
		if q.Get("started_at") == "" {
			t.Errorf("expected started_at for bounded window")
		}
		cursor := ""
		if q.Get("after") == "" {
			cursor = "page2"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":       []Clip{{ID: "c-" + q.Get("after")}},
			"pagination": map[string]string{"cursor": cursor},
		})
	})

	window := ClipWindow{StartedAt: time.Now().Add(-7 * 24 * time.Hour)}
	clips, cursor, err := client.GetClips(context.Background(), "42", window, "", 100)
	if err != nil {
		t.Fatalf("GetClips() error = %v", err)
	}
	if len(clips) != 1 || cursor != "page2" {
		t.Fatalf("GetClips() = %d clips, cursor %q", len(clips), cursor)
	}
	_, cursor, err = client.GetClips(context.Background(), "42", window, cursor, 100)
	if err != nil {
		t.Fatalf("GetClips(page2) error = %v", err)
	}
	if cursor != "" {
		t.Errorf("expected exhausted cursor, got %q", cursor)
	}
}

func TestHelixClient_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited carries retry-after",
			status: http.StatusTooManyRequests,
			header: http.Header{"Retry-After": []string{"7"}},
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				if !errors.As(err, &rl) {
					t.Fatalf("error = %v, want RateLimitError", err)
				}
				if rl.RetryAfter != 7*time.Second {
					t.Errorf("RetryAfter = %v, want 7s", rl.RetryAfter)
				}
			},
		},
		{
			name:   "unauthorized maps to credential expiry",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrCredentialExpired) {
					t.Errorf("error = %v, want ErrCredentialExpired", err)
				}
			},
		},
		{
			name:   "server error is transient",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				var te *TransientError
				if !errors.As(err, &te) {
					t.Errorf("error = %v, want TransientError", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, vs := range tt.header {
					for _, v := range vs {
						w.Header().Add(k, v)
					}
				}
				w.WriteHeader(tt.status)
			})
			_, err := client.GetClip(context.Background(), "whatever")
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			tt.check(t, err)
		})
	}
}
