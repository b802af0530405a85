package miner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/twitch-drops-go/internal/gql"
	"github.com/Guliveer/twitch-drops-go/internal/model"
)

func TestProgressSlot(t *testing.T) {
	m := newTestMiner(t, nil, nil)
	ctx := context.Background()

	// no armed slot: nothing to wait for
	assert.False(t, m.awaitProgress(ctx, 10*time.Millisecond))

	// resolved before the wait starts: the result is not lost
	m.expectProgress()
	m.resolveProgress(true)
	assert.True(t, m.awaitProgress(ctx, time.Second))

	// a second resolution neither blocks nor clobbers the first
	m.expectProgress()
	m.resolveProgress(true)
	m.resolveProgress(false)
	assert.True(t, m.awaitProgress(ctx, time.Second))

	// resolved as unhandled
	m.expectProgress()
	m.resolveProgress(false)
	assert.False(t, m.awaitProgress(ctx, time.Second))

	// timed out
	m.expectProgress()
	assert.False(t, m.awaitProgress(ctx, 10*time.Millisecond))

	// cancelled slots swallow late resolutions
	m.cancelProgress()
	m.resolveProgress(true)
}

func TestActiveDropSelection(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	m := newTestMiner(t, nil, nil)
	m.wanted.Add(game, 1)

	near := &model.Drop{ID: "near", RequiredMinutes: 60, RealMinutes: 50}
	far := &model.Drop{ID: "far", RequiredMinutes: 120}
	m.campaigns = []*model.Campaign{
		testCampaign("c1", game, far),
		testCampaign("c2", game, near),
	}

	ch := onlineChannel(1, "live", game, 10, false)
	active := m.activeDrop(ch)
	require.NotNil(t, active)
	assert.Equal(t, "near", active.ID, "the drop closest to completion wins across campaigns")

	assert.Nil(t, m.activeDrop(nil))
	assert.Nil(t, m.activeDrop(model.NewChannel(2, "offline", false)))
}

func TestHandleDropProgressMatchesActiveDrop(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	m := newTestMiner(t, nil, nil)
	m.wanted.Add(game, 1)

	d := &model.Drop{ID: "d1", RequiredMinutes: 60, RealMinutes: 5, ExtraMinutes: 2}
	m.campaigns = []*model.Campaign{testCampaign("c1", game, d)}
	m.drops = map[string]*model.Drop{"d1": d}

	ch := onlineChannel(1, "live", game, 10, false)
	m.trackForTest(ch)
	m.mu.Lock()
	m.watching = ch
	m.mu.Unlock()

	msg, err := model.ParseMessage("user-drop-events.123",
		[]byte(`{"type":"drop-progress","data":{"drop_id":"d1","current_progress_min":9}}`))
	require.NoError(t, err)

	m.expectProgress()
	m.handleDropProgress(msg)

	assert.Equal(t, 9, d.RealMinutes)
	assert.Equal(t, 0, d.ExtraMinutes, "authoritative update resets the estimator")
	assert.True(t, m.awaitProgress(context.Background(), time.Second))
}

func TestHandleDropProgressIgnoresOtherDrops(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	m := newTestMiner(t, nil, nil)
	m.wanted.Add(game, 1)

	active := &model.Drop{ID: "active", RequiredMinutes: 60}
	other := &model.Drop{ID: "other", RequiredMinutes: 60}
	m.campaigns = []*model.Campaign{testCampaign("c1", game, active)}
	m.drops = map[string]*model.Drop{"active": active, "other": other}

	ch := onlineChannel(1, "live", game, 10, false)
	m.mu.Lock()
	m.watching = ch
	m.mu.Unlock()

	msg, err := model.ParseMessage("user-drop-events.123",
		[]byte(`{"type":"drop-progress","data":{"drop_id":"other","current_progress_min":30}}`))
	require.NoError(t, err)

	m.expectProgress()
	m.handleDropProgress(msg)

	assert.Equal(t, 0, other.RealMinutes, "updates for a non-active drop are not applied")
	assert.False(t, m.awaitProgress(context.Background(), time.Second))
}

func TestProgressFallbackUsesCurrentDrop(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	d := &model.Drop{ID: "d1", RequiredMinutes: 60, RealMinutes: 5, ExtraMinutes: 3}
	ops := &fakeGQL{currentDrop: &gql.CurrentDropInfo{DropID: "d1", CurrentMinutes: 10}}

	m := newTestMiner(t, nil, ops)
	m.wanted.Add(game, 1)
	m.campaigns = []*model.Campaign{testCampaign("c1", game, d)}
	m.drops = map[string]*model.Drop{"d1": d}

	ch := onlineChannel(1, "live", game, 10, false)
	m.progressFallback(context.Background(), ch)

	assert.Equal(t, 10, d.RealMinutes)
	assert.Equal(t, 0, d.ExtraMinutes)
}

func TestProgressFallbackBumpsEstimator(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	d := &model.Drop{ID: "d1", RequiredMinutes: 60, RealMinutes: 5}
	ops := &fakeGQL{} // no current drop session

	m := newTestMiner(t, nil, ops)
	m.wanted.Add(game, 1)
	m.campaigns = []*model.Campaign{testCampaign("c1", game, d)}
	m.drops = map[string]*model.Drop{"d1": d}

	ch := onlineChannel(1, "live", game, 10, false)

	for i := 1; i <= 4; i++ {
		m.progressFallback(context.Background(), ch)
		assert.Equal(t, i, d.ExtraMinutes)
	}

	// the fifth missed minute hits the cap and forces a channel switch
	m.progressFallback(context.Background(), ch)
	assert.Equal(t, 5, d.ExtraMinutes)
	state, err := m.takeState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateChannelSwitch, state)
}

func TestHandleClaimAvailable(t *testing.T) {
	ops := &fakeGQL{}
	m := newTestMiner(t, nil, ops)
	m.runCtx = context.Background()

	msg, err := model.ParseMessage("community-points-user-v1.123",
		[]byte(`{"type":"claim-available","data":{"claim":{"id":"bonus-1","channel_id":77}}}`))
	require.NoError(t, err)

	m.HandleMessage(msg)
	assert.Equal(t, []string{"bonus-1"}, ops.bonusClaimed)
}

func TestHandleStreamStateViewcount(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	m := newTestMiner(t, nil, &fakeGQL{})
	m.runCtx = context.Background()

	ch := onlineChannel(7, "live", game, 10, false)
	m.trackForTest(ch)

	msg, err := model.ParseMessage("video-playback-by-id.7",
		[]byte(`{"type":"viewcount","server_time":1700000000,"viewers":222}`))
	require.NoError(t, err)

	m.HandleMessage(msg)
	ch.Mu.RLock()
	assert.Equal(t, 222, ch.Viewers())
	ch.Mu.RUnlock()
}

func TestHandleStreamStateDownClearsWatching(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	m := newTestMiner(t, nil, &fakeGQL{})
	m.runCtx = context.Background()

	ch := onlineChannel(7, "live", game, 10, false)
	m.trackForTest(ch)
	m.mu.Lock()
	m.watching = ch
	m.mu.Unlock()

	msg, err := model.ParseMessage("video-playback-by-id.7",
		[]byte(`{"type":"stream-down","server_time":1700000000}`))
	require.NoError(t, err)

	m.HandleMessage(msg)

	ch.Mu.RLock()
	assert.False(t, ch.Online())
	ch.Mu.RUnlock()
	assert.Nil(t, m.watchingChannel())

	state, err := m.takeState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateChannelSwitch, state)
}
