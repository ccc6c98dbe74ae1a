package twitchapi

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/endpoints"
)

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: This token CANNOT be used for IRC chat; chat requires a user (bot) OAuth token
// with chat:read/chat:edit scopes (see the oauth package refresher).
type TokenSource struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Twitch token endpoint (tests).
	TokenURL string

	mu sync.Mutex
	ts oauth2.TokenSource
}

func (s *TokenSource) config() *clientcredentials.Config {
	tokenURL := s.TokenURL
	if tokenURL == "" {
		tokenURL = endpoints.Twitch.TokenURL
	}
	return &clientcredentials.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		TokenURL:     tokenURL,
	}
}

// Get returns a valid (fresh or cached) app access token.
func (s *TokenSource) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.ts == nil {
		// Background: the source outlives any single request context.
		s.ts = s.config().TokenSource(context.Background())
	}
	ts := s.ts
	s.mu.Unlock()
	tok, err := ts.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next Get fetches a fresh one.
// Called when Helix answers 401 despite an apparently valid token.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.ts = nil
	s.mu.Unlock()
}
