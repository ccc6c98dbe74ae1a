package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/clip-relay/backend/resilience"
	"github.com/onnwee/clip-relay/backend/testutil"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

// End-to-end resolution against the real Helix client and a mock API.
func TestResolveRandomAgainstMockHelix(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("app-token", 3600)
	mock.MockUserResponse("42", "channelx")
	mock.MockClipsResponse([]map[string]any{
		testutil.Clip("short-featured", "great save", 22.5, true),
		testutil.Clip("too-long", "marathon", 120, true),
	}, "")

	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{
			ClientID:     "cid",
			ClientSecret: "secret",
			TokenURL:     mock.URL + "/oauth2/token",
		},
		ClientID: "cid",
		BaseURL:  mock.URL,
	}
	r := New(helix, NewCache(time.Hour))
	r.policy = resilience.Policy{MaxTries: 2, MaxElapsed: time.Second, Initial: time.Millisecond}

	clip, err := r.ResolveRandom(context.Background(), "channelx", SearchFilter{
		FeaturedOnly:       true,
		MaxDurationSeconds: 60,
	})
	if err != nil {
		t.Fatalf("ResolveRandom() error = %v", err)
	}
	if clip.ID != "short-featured" {
		t.Errorf("clip.ID = %s, want short-featured", clip.ID)
	}
	if !clip.IsFeatured || clip.Duration != 22.5 {
		t.Errorf("clip = %+v", clip)
	}
}
