package twitchapi

import "time"

// Clip is the immutable descriptor of a single Twitch clip as returned by Helix.
// Values are never mutated after creation; a re-fetch produces a new value.
type Clip struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	EmbedURL        string    `json:"embed_url"`
	BroadcasterID   string    `json:"broadcaster_id"`
	BroadcasterName string    `json:"broadcaster_name"`
	CreatorName     string    `json:"creator_name"`
	GameID          string    `json:"game_id"`
	Title           string    `json:"title"`
	ViewCount       int       `json:"view_count"`
	CreatedAt       time.Time `json:"created_at"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	Duration        float64   `json:"duration"`
	IsFeatured      bool      `json:"is_featured"`
}

// ClipWindow bounds a clips listing to clips created within [StartedAt, EndedAt].
// Zero values leave the bound open.
type ClipWindow struct {
	StartedAt time.Time
	EndedAt   time.Time
}
