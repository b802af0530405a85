package miner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/twitch-drops-go/internal/config"
	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/gql"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/model"
	"github.com/Guliveer/twitch-drops-go/internal/pubsub"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
)

// fakeGQL scripts the GraphQL surface the miner calls.
type fakeGQL struct {
	gql.Operations

	streamInfo  map[string]*gql.StreamInfo
	currentDrop *gql.CurrentDropInfo
	directory   map[string][]gql.DirectoryStream

	claimOK      bool
	claimErr     error
	claimedIDs   []string
	bonusClaimed []string
}

func (f *fakeGQL) GetStreamInfo(_ context.Context, login string) (*gql.StreamInfo, error) {
	return f.streamInfo[login], nil
}

func (f *fakeGQL) CurrentDrop(_ context.Context, _ int) (*gql.CurrentDropInfo, error) {
	return f.currentDrop, nil
}

func (f *fakeGQL) GameDirectory(_ context.Context, slug string, _ int) ([]gql.DirectoryStream, error) {
	return f.directory[slug], nil
}

func (f *fakeGQL) SlugRedirect(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (f *fakeGQL) ClaimDrop(_ context.Context, claimID string) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	f.claimedIDs = append(f.claimedIDs, claimID)
	return f.claimOK, nil
}

func (f *fakeGQL) ClaimCommunityPoints(_ context.Context, claimID string, _ int) error {
	f.bonusClaimed = append(f.bonusClaimed, claimID)
	return nil
}

func (f *fakeGQL) Do(_ context.Context, _ constants.GQLOperation) (json.RawMessage, error) {
	return nil, nil
}

// fakeSession stands in for the auth client in controller tests.
type fakeSession struct {
	invalidated bool
	validated   int
}

func (s *fakeSession) Validate(context.Context) error { s.validated++; return nil }
func (s *fakeSession) AccessToken() string            { return "token" }
func (s *fakeSession) UserID() int                    { return 123 }
func (s *fakeSession) Login() string                  { return "user" }
func (s *fakeSession) Headers(bool) map[string]string { return map[string]string{} }
func (s *fakeSession) Invalidate()                    { s.invalidated = true }

func newTestMiner(t *testing.T, cfg *config.Settings, ops gql.Operations) *Miner {
	t.Helper()
	log, err := logger.Setup(logger.Config{Level: slog.LevelError, Colored: false})
	require.NoError(t, err)
	if cfg == nil {
		cfg = &config.Settings{}
	}

	m := &Miner{
		cfg:          cfg,
		log:          log,
		gql:          ops,
		stateCh:      make(chan struct{}, 1),
		drops:        make(map[string]*model.Drop),
		channels:     make(map[int]*model.Channel),
		wanted:       model.NewWantedGames(),
		watchKick:    make(chan struct{}, 1),
		restartCh:    make(chan struct{}, 1),
		onlineTimers: make(map[int]*time.Timer),
	}
	m.pool = pubsub.NewPool(nil, nil, log, m)
	return m
}

func testCampaign(id string, game model.Game, drops ...*model.Drop) *model.Campaign {
	c := &model.Campaign{
		ID:            id,
		Name:          id,
		Game:          game,
		AccountLinked: true,
		Status:        "ACTIVE",
		StartAt:       time.Now().Add(-time.Hour),
		EndAt:         time.Now().Add(time.Hour),
		Drops:         drops,
	}
	c.Link()
	return c
}

func onlineChannel(id int, login string, game model.Game, viewers int, acl bool) *model.Channel {
	ch := model.NewChannel(id, login, acl)
	ch.Stream = model.NewStream(id*100, "", game, viewers, true)
	return ch
}

func (m *Miner) trackForTest(chs ...*model.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range chs {
		m.channels[ch.ID] = ch
		m.order = append(m.order, ch.ID)
	}
}

func TestChannelPriority(t *testing.T) {
	prioritized := model.Game{ID: 1, Name: "Prioritized"}
	unlisted := model.Game{ID: 2, Name: "Unlisted"}

	m := newTestMiner(t, nil, nil)
	m.wanted.Add(prioritized, 3)
	m.wanted.Add(unlisted, 0)

	offline := model.NewChannel(1, "offline", false)
	high := onlineChannel(2, "high", prioritized, 100, false)
	low := onlineChannel(3, "low", unlisted, 100, false)
	foreign := onlineChannel(4, "foreign", model.Game{ID: 9, Name: "Other"}, 100, false)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, -1, m.channelPriorityLocked(offline))
	assert.Equal(t, 3, m.channelPriorityLocked(high))
	assert.Equal(t, 0, m.channelPriorityLocked(low))
	assert.Equal(t, 0, m.channelPriorityLocked(foreign), "unwanted games rank like unlisted ones")
}

func TestCanWatch(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	m := newTestMiner(t, nil, nil)
	m.wanted.Add(game, 1)
	drop := &model.Drop{ID: "d1", RequiredMinutes: 60}
	m.campaigns = []*model.Campaign{testCampaign("c1", game, drop)}

	ch := onlineChannel(1, "live", game, 10, false)
	offline := model.NewChannel(2, "offline", false)
	wrongGame := onlineChannel(3, "wrong", model.Game{ID: 2, Name: "Other"}, 10, false)

	m.mu.Lock()
	assert.True(t, m.canWatchLocked(ch))
	assert.False(t, m.canWatchLocked(offline))
	assert.False(t, m.canWatchLocked(wrongGame))
	m.mu.Unlock()

	// a fully claimed campaign leaves nothing to earn
	drop.MarkClaimed()
	m.mu.Lock()
	assert.False(t, m.canWatchLocked(ch))
	m.mu.Unlock()
}

func TestShouldSwitch(t *testing.T) {
	high := model.Game{ID: 1, Name: "High"}
	low := model.Game{ID: 2, Name: "Low"}

	m := newTestMiner(t, nil, nil)
	m.wanted.Add(high, 2)
	m.wanted.Add(low, 1)

	current := onlineChannel(1, "current", low, 10, false)
	better := onlineChannel(2, "better", high, 5, false)
	equalACL := onlineChannel(3, "acl", low, 1, true)
	equalDir := onlineChannel(4, "dir", low, 500, false)

	m.mu.Lock()
	defer m.mu.Unlock()

	assert.True(t, m.shouldSwitchLocked(better), "no target: anything qualifies")

	m.watching = current
	assert.True(t, m.shouldSwitchLocked(better), "higher priority wins")
	assert.True(t, m.shouldSwitchLocked(equalACL), "ACL breaks priority ties")
	assert.False(t, m.shouldSwitchLocked(equalDir), "equal directory channel does not preempt")
	assert.False(t, m.shouldSwitchLocked(current))

	m.watching = equalACL
	assert.False(t, m.shouldSwitchLocked(equalDir), "directory never preempts ACL at equal priority")
}

func TestRankedOrdering(t *testing.T) {
	high := model.Game{ID: 1, Name: "High"}
	low := model.Game{ID: 2, Name: "Low"}

	m := newTestMiner(t, nil, nil)
	m.wanted.Add(high, 2)
	m.wanted.Add(low, 1)

	m.trackForTest(
		onlineChannel(1, "low-big", low, 9000, false),
		onlineChannel(2, "high-small", high, 10, false),
		onlineChannel(3, "high-acl", high, 5, true),
		onlineChannel(4, "high-big", high, 500, false),
		model.NewChannel(5, "offline", false),
	)

	m.mu.Lock()
	ranked := m.rankedLocked()
	m.mu.Unlock()

	logins := make([]string, 0, len(ranked))
	for _, ch := range ranked {
		logins = append(logins, ch.Login)
	}
	assert.Equal(t, []string{"high-acl", "high-big", "high-small", "low-big", "offline"}, logins)
}

func TestChannelsCleanup(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	m := newTestMiner(t, nil, nil)
	m.wanted.Add(game, 1)

	keep := onlineChannel(1, "keep", game, 10, false)
	offline := model.NewChannel(2, "offline", false)
	drifted := onlineChannel(3, "drifted", model.Game{ID: 9, Name: "Other"}, 10, false)
	aclOffline := model.NewChannel(4, "acl-offline", true)
	m.trackForTest(keep, offline, drifted, aclOffline)

	m.stateChannelsCleanup()

	assert.NotNil(t, m.channelByID(1))
	assert.Nil(t, m.channelByID(2), "offline directory channels are removed")
	assert.Nil(t, m.channelByID(3), "drifted-game channels are removed")
	assert.NotNil(t, m.channelByID(4), "offline ACL channels stay tracked")

	// a full cleanup wipes everything, watched channel included
	m.mu.Lock()
	m.fullCleanup = true
	m.watching = keep
	m.mu.Unlock()
	m.stateChannelsCleanup()

	assert.Nil(t, m.channelByID(1))
	assert.Nil(t, m.channelByID(4))
	assert.Nil(t, m.watchingChannel())
}

func TestChannelsFetchBuildsSet(t *testing.T) {
	aclGame := model.Game{ID: 1, Name: "ACL Game"}
	dirGame := model.Game{ID: 2, Name: "Dir Game", Slug: "dir-game"}

	aclCampaign := testCampaign("acl", aclGame, &model.Drop{ID: "d1", RequiredMinutes: 60})
	aclCampaign.AllowedChannels = []model.ChannelHandle{
		{ID: 11, Login: "acl-live"},
		{ID: 12, Login: "acl-off"},
		{ID: 13, Login: "acl-gone"},
	}
	dirCampaign := testCampaign("dir", dirGame, &model.Drop{ID: "d2", RequiredMinutes: 60})

	ops := &fakeGQL{
		streamInfo: map[string]*gql.StreamInfo{
			"acl-live": {ChannelID: 11, Login: "acl-live", Live: true, BroadcastID: 42,
				Game: aclGame, Viewers: 100},
			"acl-off": {ChannelID: 12, Login: "acl-off", Live: false},
		},
		directory: map[string][]gql.DirectoryStream{
			"dir-game": {
				{ChannelID: 21, Login: "dir-one", Viewers: 300},
				{ChannelID: 22, Login: "dir-two", Viewers: 50},
			},
		},
	}

	m := newTestMiner(t, nil, ops)
	m.wanted.Add(aclGame, 2)
	m.wanted.Add(dirGame, 1)
	m.campaigns = []*model.Campaign{aclCampaign, dirCampaign}

	require.NoError(t, m.stateChannelsFetch(context.Background()))

	live := m.channelByID(11)
	require.NotNil(t, live)
	assert.True(t, live.ACLBased)
	live.Mu.RLock()
	assert.True(t, live.Online())
	live.Mu.RUnlock()

	assert.NotNil(t, m.channelByID(12), "offline allow-list channels stay tracked")
	assert.Nil(t, m.channelByID(13), "nonexistent channels are dropped")
	assert.NotNil(t, m.channelByID(21))
	assert.NotNil(t, m.channelByID(22))

	// one stream-state topic per tracked channel
	assert.Equal(t, 4, m.pool.TopicCount())

	// the ranking order carries no ids for dropped channels
	m.mu.Lock()
	for _, id := range m.order {
		assert.NotNil(t, m.channels[id], "order entry %d has no channel", id)
	}
	assert.Len(t, m.order, 4)
	m.mu.Unlock()

	// next transition is the channel switch
	state, err := m.takeState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateChannelSwitch, state)
}

func TestChannelSwitchPicksBest(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	m := newTestMiner(t, nil, nil)
	m.wanted.Add(game, 1)
	m.campaigns = []*model.Campaign{testCampaign("c1", game, &model.Drop{ID: "d1", RequiredMinutes: 60})}

	small := onlineChannel(1, "small", game, 10, false)
	big := onlineChannel(2, "big", game, 900, false)
	m.trackForTest(small, big)

	m.stateChannelSwitch(context.Background())
	require.NotNil(t, m.watchingChannel())
	assert.Equal(t, "big", m.watchingChannel().Login)

	// nothing watchable → idle
	big.Mu.Lock()
	big.SetOffline()
	big.Mu.Unlock()
	small.Mu.Lock()
	small.SetOffline()
	small.Mu.Unlock()

	m.stateChannelSwitch(context.Background())
	assert.Nil(t, m.watchingChannel())
	state, err := m.takeState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
}

func TestRequestStateCoalesces(t *testing.T) {
	m := newTestMiner(t, nil, nil)

	m.requestState(StateChannelSwitch)
	m.requestState(StateInventoryFetch)
	m.requestState(StateChannelsFetch)

	state, err := m.takeState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInventoryFetch, state, "highest-priority pending state wins")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.takeState(ctx)
	assert.Error(t, err)
}

func TestGamesUpdateFilters(t *testing.T) {
	linked := model.Game{ID: 1, Name: "Linked"}
	excluded := model.Game{ID: 2, Name: "Excluded"}
	unlinked := model.Game{ID: 3, Name: "Unlinked"}
	ended := model.Game{ID: 4, Name: "Ended"}

	cfg := &config.Settings{
		Priority: []string{"Linked"},
		Exclude:  []string{"Excluded"},
	}
	m := newTestMiner(t, cfg, nil)

	endedCampaign := testCampaign("ended", ended, &model.Drop{ID: "d4", RequiredMinutes: 60})
	endedCampaign.EndAt = time.Now().Add(-time.Minute)
	unlinkedCampaign := testCampaign("unlinked", unlinked, &model.Drop{ID: "d3", RequiredMinutes: 60})
	unlinkedCampaign.AccountLinked = false

	m.campaigns = []*model.Campaign{
		testCampaign("linked", linked, &model.Drop{ID: "d1", RequiredMinutes: 60}),
		testCampaign("excluded", excluded, &model.Drop{ID: "d2", RequiredMinutes: 60}),
		unlinkedCampaign,
		endedCampaign,
	}

	require.NoError(t, m.stateGamesUpdate(context.Background()))

	m.mu.Lock()
	wanted := m.wanted
	full := m.fullCleanup
	m.mu.Unlock()

	assert.True(t, full)
	assert.Equal(t, 1, wanted.Len())
	assert.True(t, wanted.Contains(linked))
	p, _ := wanted.PriorityOf(linked)
	assert.Equal(t, 1, p)
}

func TestGamesUpdatePriorityOnly(t *testing.T) {
	listed := model.Game{ID: 1, Name: "Listed"}
	other := model.Game{ID: 2, Name: "Other"}

	cfg := &config.Settings{Priority: []string{"Listed"}, PriorityOnly: true}
	m := newTestMiner(t, cfg, nil)
	m.campaigns = []*model.Campaign{
		testCampaign("a", listed, &model.Drop{ID: "d1", RequiredMinutes: 60}),
		testCampaign("b", other, &model.Drop{ID: "d2", RequiredMinutes: 60}),
	}

	require.NoError(t, m.stateGamesUpdate(context.Background()))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.True(t, m.wanted.Contains(listed))
	assert.False(t, m.wanted.Contains(other))
}

func TestRecoverStepRevalidatesOnAuthErrors(t *testing.T) {
	for _, sentinel := range []error{gql.ErrUnauthorized, transport.ErrRequestInvalid} {
		session := &fakeSession{}
		m := newTestMiner(t, nil, nil)
		m.auth = session

		err := m.recoverStep(context.Background(), StateChannelsFetch,
			fmt.Errorf("fetching channels: %w", sentinel))
		require.NoError(t, err)
		assert.True(t, session.invalidated)
		assert.Equal(t, 1, session.validated)

		state, err := m.takeState(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateChannelsFetch, state, "the failed step is retried")
	}
}

func TestRecoverStepFatalOnUnknownErrors(t *testing.T) {
	m := newTestMiner(t, nil, nil)
	boom := errors.New("boom")
	assert.ErrorIs(t, m.recoverStep(context.Background(), StateIdle, boom), boom)
}

func TestClaimDrop(t *testing.T) {
	game := model.Game{ID: 1, Name: "Game"}
	d := &model.Drop{ID: "d1", RequiredMinutes: 60, RealMinutes: 60, ClaimID: "claim-1"}
	testCampaign("c1", game, d)

	ops := &fakeGQL{claimOK: true}
	m := newTestMiner(t, nil, ops)

	assert.True(t, m.claimDrop(context.Background(), d))
	assert.True(t, d.IsClaimed)
	assert.Equal(t, []string{"claim-1"}, ops.claimedIDs)

	// a drop without a claim instance cannot be claimed
	bare := &model.Drop{ID: "d2", RequiredMinutes: 60, RealMinutes: 60}
	assert.False(t, m.claimDrop(context.Background(), bare))
}
