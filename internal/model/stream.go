package model

import (
	"fmt"
	"time"
)

// Stream represents the live broadcast state of a channel.
type Stream struct {
	BroadcastID  int    `json:"broadcast_id"`
	Title        string `json:"title,omitempty"`
	Game         Game   `json:"game"`
	ViewerCount  int    `json:"viewer_count"`
	DropsEnabled bool   `json:"drops_enabled"`

	StartedObservingAt time.Time `json:"started_observing_at"`
}

// NewStream creates a Stream and stamps the observation start.
func NewStream(broadcastID int, title string, game Game, viewers int, dropsEnabled bool) *Stream {
	return &Stream{
		BroadcastID:        broadcastID,
		Title:              title,
		Game:               game,
		ViewerCount:        viewers,
		DropsEnabled:       dropsEnabled,
		StartedObservingAt: time.Now(),
	}
}

// String returns a human-readable representation of the stream.
func (s *Stream) String() string {
	return fmt.Sprintf("Stream(title=%s, game=%s, viewers=%d, drops=%t)",
		s.Title, s.Game.Name, s.ViewerCount, s.DropsEnabled)
}
