package pubsub

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/model"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.Setup(logger.Config{Level: slog.LevelError, Colored: false})
	require.NoError(t, err)
	return log
}

func streamTopics(from, count int) []*model.Topic {
	topics := make([]*model.Topic, 0, count)
	for i := 0; i < count; i++ {
		topics = append(topics, model.NewStreamStateTopic(from+i))
	}
	return topics
}

func TestPoolTopicPlacement(t *testing.T) {
	p := NewPool(nil, nil, testLogger(t), nil)

	require.NoError(t, p.AddTopics(streamTopics(1, 10)))
	assert.Equal(t, 1, p.ConnectionCount())
	assert.Equal(t, 10, p.TopicCount())

	// duplicates are skipped
	require.NoError(t, p.AddTopics(streamTopics(1, 10)))
	assert.Equal(t, 10, p.TopicCount())

	// filling past one connection spawns another
	require.NoError(t, p.AddTopics(streamTopics(11, constants.WSTopicsLimit)))
	assert.Equal(t, 2, p.ConnectionCount())
	assert.Equal(t, 10+constants.WSTopicsLimit, p.TopicCount())
}

func TestPoolTopicLimit(t *testing.T) {
	p := NewPool(nil, nil, testLogger(t), nil)

	capacity := constants.MaxWebsockets * constants.WSTopicsLimit
	require.NoError(t, p.AddTopics(streamTopics(1, capacity)))
	assert.Equal(t, constants.MaxWebsockets, p.ConnectionCount())
	assert.Equal(t, capacity, p.TopicCount())

	err := p.AddTopics(streamTopics(capacity+1, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTopicLimit)
}

func TestPoolRemoveTopicsRecycles(t *testing.T) {
	p := NewPool(nil, nil, testLogger(t), nil)

	total := constants.WSTopicsLimit + 10
	require.NoError(t, p.AddTopics(streamTopics(1, total)))
	require.Equal(t, 2, p.ConnectionCount())

	p.RemoveTopics(streamTopics(1, total))
	assert.Equal(t, 0, p.TopicCount())
	assert.Equal(t, 0, p.ConnectionCount(), "empty connections are recycled")
}
