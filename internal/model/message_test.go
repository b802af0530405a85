package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopicRoundTrip(t *testing.T) {
	tests := []struct {
		full   string
		kind   TopicKind
		target int
	}{
		{"user-drop-events.123", TopicUserDrops, 123},
		{"community-points-user-v1.123", TopicUserPoints, 123},
		{"video-playback-by-id.456789", TopicStreamState, 456789},
	}
	for _, tt := range tests {
		topic, err := ParseTopic(tt.full)
		require.NoError(t, err, tt.full)
		assert.Equal(t, tt.kind, topic.Kind)
		assert.Equal(t, tt.target, topic.TargetID)
		assert.Equal(t, tt.full, topic.String())
	}

	_, err := ParseTopic("no-separator")
	assert.Error(t, err)
	_, err = ParseTopic("user-drop-events.notanumber")
	assert.Error(t, err)
	_, err = ParseTopic("unknown-topic.1")
	assert.Error(t, err)
}

func TestTopicIsUserTopic(t *testing.T) {
	assert.True(t, NewUserDropsTopic(1).IsUserTopic())
	assert.True(t, NewUserPointsTopic(1).IsUserTopic())
	assert.False(t, NewStreamStateTopic(1).IsUserTopic())
}

func TestParseMessageDropProgress(t *testing.T) {
	raw := []byte(`{
		"type": "drop-progress",
		"data": {
			"drop_id": "drop-1",
			"current_progress_min": 12,
			"required_progress_min": 60
		}
	}`)
	msg, err := ParseMessage("user-drop-events.123", raw)
	require.NoError(t, err)

	assert.Equal(t, TopicUserDrops, msg.Topic.Kind)
	assert.Equal(t, MsgTypeDropProgress, msg.Type)
	assert.Equal(t, "drop-1", msg.Data["drop_id"])
	assert.EqualValues(t, 12, msg.Data["current_progress_min"])
}

func TestParseMessageViewcount(t *testing.T) {
	// stream state events carry their payload at the top level
	raw := []byte(`{"type":"viewcount","server_time":1700000000.5,"viewers":1234}`)
	msg, err := ParseMessage("video-playback-by-id.77", raw)
	require.NoError(t, err)

	assert.Equal(t, TopicStreamState, msg.Topic.Kind)
	assert.Equal(t, MsgTypeViewCount, msg.Type)
	assert.EqualValues(t, 1234, msg.RawMessage["viewers"])
	assert.Equal(t, 77, msg.Topic.TargetID)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestParseMessageMalformed(t *testing.T) {
	_, err := ParseMessage("user-drop-events.1", []byte(`{not json`))
	assert.Error(t, err)
}

func TestChannelStreamState(t *testing.T) {
	ch := NewChannel(1, "streamer", false)

	assert.False(t, ch.Online())
	assert.Equal(t, -1, ch.Viewers())
	assert.False(t, ch.SetViewers(10), "viewcount for an offline channel is not applied")

	ch.SetOnline(NewStream(99, "title", Game{ID: 1, Name: "G"}, 50, true))
	assert.True(t, ch.Online())
	assert.Equal(t, 50, ch.Viewers())
	assert.True(t, ch.SetViewers(60))
	assert.Equal(t, 60, ch.Viewers())

	game, ok := ch.Game()
	require.True(t, ok)
	assert.Equal(t, 1, game.ID)

	ch.SpadeURL = "https://spade.example/track"
	ch.SetOffline()
	assert.False(t, ch.Online())
	assert.Equal(t, "https://spade.example/track", ch.SpadeURL, "spade URL survives going offline")
}

func TestWantedGamesOrdering(t *testing.T) {
	w := NewWantedGames()
	w.Add(Game{ID: 1, Name: "Low"}, 0)
	w.Add(Game{ID: 2, Name: "High"}, 5)
	w.Add(Game{ID: 3, Name: "Mid"}, 2)
	w.Add(Game{ID: 2, Name: "High"}, 5) // duplicate adds are idempotent

	assert.Equal(t, 3, w.Len())
	assert.True(t, w.Contains(Game{ID: 1}))
	assert.False(t, w.Contains(Game{ID: 9}))

	p, ok := w.PriorityOf(Game{ID: 2})
	require.True(t, ok)
	assert.Equal(t, 5, p)

	games := w.Games()
	require.Len(t, games, 3)
	assert.Equal(t, "High", games[0].Name)
	assert.Equal(t, "Mid", games[1].Name)
	assert.Equal(t, "Low", games[2].Name)
}
