package model

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Channel represents a tracked channel in the candidate set.
// Fields that may be accessed concurrently are protected by Mu; unless noted
// otherwise, methods expect the caller to hold the lock.
type Channel struct {
	Mu sync.RWMutex `json:"-"`

	ID          int    `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name,omitempty"`

	Stream   *Stream `json:"stream,omitempty"`
	SpadeURL string  `json:"spade_url,omitempty"`

	// ACLBased marks channels discovered through a campaign allow-list;
	// they outrank directory-discovered channels at equal game priority.
	ACLBased bool `json:"acl_based"`

	StreamUpAt time.Time `json:"stream_up_at"`
	OnlineAt   time.Time `json:"online_at"`
	OfflineAt  time.Time `json:"offline_at"`
}

// NewChannel creates a Channel with the given identity.
func NewChannel(id int, login string, aclBased bool) *Channel {
	return &Channel{
		ID:       id,
		Login:    login,
		ACLBased: aclBased,
	}
}

// Online reports whether the channel currently has a live stream.
func (ch *Channel) Online() bool {
	return ch.Stream != nil
}

// Game returns the game of the current stream, if any.
func (ch *Channel) Game() (Game, bool) {
	if ch.Stream == nil || ch.Stream.Game.Zero() {
		return Game{}, false
	}
	return ch.Stream.Game, true
}

// Viewers returns the current viewer count, or -1 when offline.
func (ch *Channel) Viewers() int {
	if ch.Stream == nil {
		return -1
	}
	return ch.Stream.ViewerCount
}

// SetOnline attaches a live stream to the channel.
func (ch *Channel) SetOnline(stream *Stream) {
	if ch.Stream == nil {
		ch.OnlineAt = time.Now()
	}
	ch.Stream = stream
}

// SetOffline detaches the stream. The spade URL is kept; it is per-channel,
// not per-broadcast.
func (ch *Channel) SetOffline() {
	if ch.Stream != nil {
		ch.OfflineAt = time.Now()
		ch.Stream = nil
	}
}

// SetViewers updates the live viewer count. Returns false when the channel
// has no stream attached yet and the caller should confirm it online first.
func (ch *Channel) SetViewers(n int) bool {
	if ch.Stream == nil {
		return false
	}
	ch.Stream.ViewerCount = n
	return true
}

// URL returns the channel's page URL.
func (ch *Channel) URL() string {
	return fmt.Sprintf("https://www.twitch.tv/%s", ch.Login)
}

// Equal returns true if two channels have the same ID.
func (ch *Channel) Equal(other *Channel) bool {
	if other == nil {
		return false
	}
	return ch.ID == other.ID
}

// String returns a human-readable representation of the channel.
// Safe to call without the lock; reads identity fields only.
func (ch *Channel) String() string {
	return fmt.Sprintf("Channel(login=%s, id=%d)", ch.Login, ch.ID)
}

// MarshalJSON implements custom JSON marshaling to handle the mutex.
func (ch *Channel) MarshalJSON() ([]byte, error) {
	type Alias Channel
	ch.Mu.RLock()
	defer ch.Mu.RUnlock()
	return json.Marshal((*Alias)(ch))
}
