package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
)

// TopicKind identifies the category of a PubSub topic.
type TopicKind int

const (
	// TopicUserDrops carries drop-progress and drop-claim events for the user.
	TopicUserDrops TopicKind = iota
	// TopicUserPoints carries community-points events for the user.
	TopicUserPoints
	// TopicStreamState carries stream up/down and viewer counts for a channel.
	TopicStreamState
)

var topicNames = map[TopicKind]string{
	TopicUserDrops:   constants.TopicUserDrops,
	TopicUserPoints:  constants.TopicUserPoints,
	TopicStreamState: constants.TopicStreamState,
}

// String returns the platform topic prefix for this topic kind.
func (k TopicKind) String() string {
	if name, ok := topicNames[k]; ok {
		return name
	}
	return "unknown"
}

// Topic is a PubSub subscription target: a topic kind bound to a user id or
// a channel id.
type Topic struct {
	Kind     TopicKind `json:"kind"`
	TargetID int       `json:"target_id"`
}

// NewUserDropsTopic returns the user's drop events topic.
func NewUserDropsTopic(userID int) *Topic {
	return &Topic{Kind: TopicUserDrops, TargetID: userID}
}

// NewUserPointsTopic returns the user's community points topic.
func NewUserPointsTopic(userID int) *Topic {
	return &Topic{Kind: TopicUserPoints, TargetID: userID}
}

// NewStreamStateTopic returns a channel's stream state topic.
func NewStreamStateTopic(channelID int) *Topic {
	return &Topic{Kind: TopicStreamState, TargetID: channelID}
}

// IsUserTopic returns true when the topic is scoped to the authenticated
// user rather than a channel.
func (t *Topic) IsUserTopic() bool {
	return t.Kind != TopicStreamState
}

// String returns the full topic string in the "name.id" wire format.
func (t *Topic) String() string {
	return fmt.Sprintf("%s.%d", t.Kind, t.TargetID)
}

// ParseTopic parses a wire-format topic string back into a Topic.
func ParseTopic(s string) (*Topic, error) {
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return nil, fmt.Errorf("malformed topic %q", s)
	}
	name, idStr := s[:i], s[i+1:]

	id, err := strconv.Atoi(idStr)
	if err != nil {
		return nil, fmt.Errorf("malformed topic target in %q: %w", s, err)
	}

	for kind, known := range topicNames {
		if known == name {
			return &Topic{Kind: kind, TargetID: id}, nil
		}
	}
	return nil, fmt.Errorf("unknown topic %q", name)
}
