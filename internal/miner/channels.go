package miner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/gql"
	"github.com/Guliveer/twitch-drops-go/internal/model"
	"github.com/Guliveer/twitch-drops-go/internal/utils"
	"github.com/Guliveer/twitch-drops-go/internal/workerpool"
)

// fetchWorkers bounds the concurrent stream-state and directory lookups
// during a channel fetch.
const fetchWorkers = 8

// channelByID returns the tracked channel with the given id, or nil.
func (m *Miner) channelByID(id int) *model.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[id]
}

// watchingChannel returns the current watch target, or nil.
func (m *Miner) watchingChannel() *model.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watching
}

// channelPriorityLocked ranks a channel: the wanted-game weight of its
// current stream game, 0 for games outside the priority list, -1 for
// offline or gameless channels. Callers hold m.mu.
func (m *Miner) channelPriorityLocked(ch *model.Channel) int {
	ch.Mu.RLock()
	defer ch.Mu.RUnlock()
	if ch.Stream == nil || ch.Stream.Game.Zero() {
		return -1
	}
	if p, ok := m.wanted.PriorityOf(ch.Stream.Game); ok {
		return p
	}
	return 0
}

// canWatchLocked reports whether mining the channel right now can progress
// any drop: the channel is live with drops enabled, plays a wanted game,
// and at least one eligible campaign for that game can earn on it. Callers
// hold m.mu.
func (m *Miner) canWatchLocked(ch *model.Channel) bool {
	ch.Mu.RLock()
	stream := ch.Stream
	ch.Mu.RUnlock()
	if stream == nil || !stream.DropsEnabled {
		return false
	}
	game := stream.Game
	if game.Zero() || !m.wanted.Contains(game) {
		return false
	}
	for _, c := range m.campaigns {
		if c.Game.Equal(game) && c.Eligible(m.cfg.BadgesEmotes) && c.CanEarn(ch) {
			return true
		}
	}
	return false
}

// shouldSwitchLocked reports whether the candidate beats the current watch
// target: strictly higher game priority, or at equal priority an ACL
// channel over a directory one. Callers hold m.mu.
func (m *Miner) shouldSwitchLocked(candidate *model.Channel) bool {
	current := m.watching
	if current == nil {
		return true
	}
	cp := m.channelPriorityLocked(candidate)
	wp := m.channelPriorityLocked(current)
	if cp != wp {
		return cp > wp
	}
	return candidate.ACLBased && !current.ACLBased
}

// rankedLocked returns the tracked channels ordered best-first. Callers
// hold m.mu.
func (m *Miner) rankedLocked() []*model.Channel {
	ranked := make([]*model.Channel, 0, len(m.order))
	for _, id := range m.order {
		ranked = append(ranked, m.channels[id])
	}
	prio := make(map[int]int, len(ranked))
	viewers := make(map[int]int, len(ranked))
	for _, ch := range ranked {
		prio[ch.ID] = m.channelPriorityLocked(ch)
		ch.Mu.RLock()
		viewers[ch.ID] = ch.Viewers()
		ch.Mu.RUnlock()
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if prio[a.ID] != prio[b.ID] {
			return prio[a.ID] > prio[b.ID]
		}
		if a.ACLBased != b.ACLBased {
			return a.ACLBased
		}
		return viewers[a.ID] > viewers[b.ID]
	})
	return ranked
}

// stateChannelsCleanup removes tracked channels that can no longer serve
// the wanted games. A full cleanup (after a games update) or an empty
// wanted set removes everything; otherwise only directory channels that
// went offline or drifted to an unwanted game are removed. ACL channels
// stay tracked while offline so a stream-up can bring them back.
func (m *Miner) stateChannelsCleanup() {
	m.mu.Lock()
	full := m.fullCleanup
	m.fullCleanup = false

	var removed []*model.Channel
	kept := m.order[:0]
	for _, id := range m.order {
		ch := m.channels[id]
		remove := full || m.wanted.Len() == 0
		if !remove && !ch.ACLBased {
			ch.Mu.RLock()
			online := ch.Online()
			game, hasGame := ch.Game()
			ch.Mu.RUnlock()
			if !online || !hasGame || !m.wanted.Contains(game) {
				remove = true
			}
		}
		if remove {
			delete(m.channels, id)
			removed = append(removed, ch)
			if m.watching == ch {
				m.clearWatchingLocked()
			}
		} else {
			kept = append(kept, id)
		}
	}
	m.order = kept
	m.mu.Unlock()

	if len(removed) > 0 {
		topics := make([]*model.Topic, 0, len(removed))
		for _, ch := range removed {
			m.cancelOnlineCheck(ch.ID)
			topics = append(topics, model.NewStreamStateTopic(ch.ID))
		}
		m.pool.RemoveTopics(topics)
		m.log.Debug("Channels cleaned up", "removed", len(removed), "full", full)
	}

	m.requestState(StateChannelsFetch)
}

// stateChannelsFetch rebuilds the candidate channel set: allow-listed
// channels from every eligible wanted-game campaign first, then a
// directory page of live drops-enabled streams for each wanted game
// without allow-lists, merged with what is already tracked, ranked and
// trimmed to the topic budget.
func (m *Miner) stateChannelsFetch(ctx context.Context) error {
	m.mu.Lock()
	wanted := m.wanted
	campaigns := m.campaigns
	existing := make(map[int]*model.Channel, len(m.channels))
	existingOrder := make([]int, len(m.order))
	copy(existingOrder, m.order)
	for id, ch := range m.channels {
		existing[id] = ch
	}
	m.mu.Unlock()

	if wanted.Len() == 0 {
		m.requestState(StateIdle)
		return nil
	}

	next := make(map[int]*model.Channel, len(existing))
	var nextOrder []int
	track := func(ch *model.Channel) {
		if _, ok := next[ch.ID]; ok {
			return
		}
		next[ch.ID] = ch
		nextOrder = append(nextOrder, ch.ID)
	}
	for _, id := range existingOrder {
		track(existing[id])
	}

	// Allow-listed channels. Campaigns restricting to specific channels
	// guarantee drops there, so new entries only need a live check.
	now := time.Now()
	gamesWithACL := make(map[int]bool)
	var probe []*model.Channel
	for _, c := range campaigns {
		if len(c.AllowedChannels) == 0 {
			continue
		}
		if !c.Eligible(m.cfg.BadgesEmotes) || !wanted.Contains(c.Game) || !c.CanEarnWithin(now) {
			continue
		}
		gamesWithACL[c.Game.ID] = true
		for _, handle := range c.AllowedChannels {
			if handle.ID == 0 {
				continue
			}
			if _, ok := next[handle.ID]; ok {
				continue
			}
			ch := model.NewChannel(handle.ID, handle.Login, true)
			track(ch)
			probe = append(probe, ch)
		}
	}

	var probeMu sync.Mutex
	if len(probe) > 0 {
		err := workerpool.Run(ctx, probe, fetchWorkers, func(ctx context.Context, ch *model.Channel) error {
			info, err := m.gql.GetStreamInfo(ctx, ch.Login)
			if err != nil {
				return err
			}
			probeMu.Lock()
			defer probeMu.Unlock()
			if info == nil {
				delete(next, ch.ID)
				return nil
			}
			ch.Mu.Lock()
			ch.DisplayName = info.DisplayName
			if info.Live {
				ch.Stream = model.NewStream(info.BroadcastID, info.Title, info.Game, info.Viewers, true)
				ch.OnlineAt = time.Now()
			}
			ch.Mu.Unlock()
			return nil
		})
		if err != nil {
			return err
		}
	}

	// Directory channels for wanted games that have no allow-lists.
	var dirGames []model.Game
	for _, g := range wanted.Games() {
		if !gamesWithACL[g.ID] {
			dirGames = append(dirGames, g)
		}
	}
	err := workerpool.Run(ctx, dirGames, fetchWorkers, func(ctx context.Context, game model.Game) error {
		streams, err := m.directoryStreams(ctx, game)
		if err != nil {
			return err
		}
		probeMu.Lock()
		defer probeMu.Unlock()
		for _, s := range streams {
			if _, ok := next[s.ChannelID]; ok {
				continue
			}
			ch := model.NewChannel(s.ChannelID, s.Login, false)
			ch.DisplayName = s.DisplayName
			ch.Stream = model.NewStream(0, "", game, s.Viewers, true)
			ch.OnlineAt = time.Now()
			track(ch)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Failed probes removed entries from the map; drop their ids too.
	liveOrder := nextOrder[:0]
	for _, id := range nextOrder {
		if _, ok := next[id]; ok {
			liveOrder = append(liveOrder, id)
		}
	}

	m.mu.Lock()
	m.channels = next
	m.order = liveOrder
	ranked := m.rankedLocked()
	if len(ranked) > constants.MaxChannels {
		for _, ch := range ranked[constants.MaxChannels:] {
			delete(m.channels, ch.ID)
			if m.watching == ch {
				m.clearWatchingLocked()
			}
		}
		ranked = ranked[:constants.MaxChannels]
	}
	m.order = m.order[:0]
	for _, ch := range ranked {
		m.order = append(m.order, ch.ID)
	}
	watching := m.watching
	stillWatchable := watching != nil && m.channels[watching.ID] == watching && m.canWatchLocked(watching)
	if watching != nil && !stillWatchable {
		m.clearWatchingLocked()
	}
	m.mu.Unlock()

	topics := make([]*model.Topic, 0, len(ranked))
	for _, ch := range ranked {
		topics = append(topics, model.NewStreamStateTopic(ch.ID))
	}
	if err := m.pool.AddTopics(topics); err != nil {
		return err
	}

	m.log.Info("📡 Channel set rebuilt", "channels", len(ranked), "games", wanted.Len())
	if ch := m.watchingChannel(); ch != nil {
		m.renderActive(ch, true)
	}
	m.requestState(StateChannelSwitch)
	return nil
}

// directoryStreams resolves a game to its directory slug and fetches its
// first page of live drops-enabled streams. Empty results retry once
// through the slug redirect endpoint, since category URLs move around.
func (m *Miner) directoryStreams(ctx context.Context, game model.Game) ([]gql.DirectoryStream, error) {
	slug := game.Slug
	if slug == "" {
		slug = utils.Slugify(game.Name)
	}
	streams, err := m.gql.GameDirectory(ctx, slug, 30)
	if err != nil {
		return nil, err
	}
	if streams != nil {
		return streams, nil
	}
	redirect, err := m.gql.SlugRedirect(ctx, game.Name)
	if err != nil || redirect == "" || redirect == slug {
		return nil, err
	}
	return m.gql.GameDirectory(ctx, redirect, 30)
}

// stateChannelSwitch picks the best watchable channel that beats the
// current target. Keeping the current channel is the common case; with no
// watchable channel at all the machine goes idle.
func (m *Miner) stateChannelSwitch(ctx context.Context) {
	m.mu.Lock()
	var target *model.Channel
	for _, ch := range m.rankedLocked() {
		if m.canWatchLocked(ch) && m.shouldSwitchLocked(ch) {
			target = ch
			break
		}
	}
	current := m.watching
	keepCurrent := target == nil && current != nil && m.canWatchLocked(current)
	if target != nil && target != current {
		m.watching = target
	}
	m.mu.Unlock()

	switch {
	case target != nil && target != current:
		m.startWatching(ctx, target)
	case target != nil || keepCurrent:
		// current target still the best; nothing to do
	default:
		m.stopWatching()
		m.requestState(StateIdle)
	}
}

// startWatching points the watch loop, chat presence and status at a new
// channel.
func (m *Miner) startWatching(ctx context.Context, ch *model.Channel) {
	ch.Mu.RLock()
	game, _ := ch.Game()
	ch.Mu.RUnlock()
	m.restartWatching()
	m.kickWatchLoop()
	if m.chat != nil {
		m.chat.SetWatching(ch.Login)
	}
	m.log.Event(ctx, model.EventChannelSwitch, "Watching channel",
		"channel", ch.Login, "game", game.Name, "url", ch.URL())
}

// clearWatchingLocked drops the watch target. Callers hold m.mu.
func (m *Miner) clearWatchingLocked() {
	m.watching = nil
}

// stopWatching drops the watch target and parts chat.
func (m *Miner) stopWatching() {
	m.mu.Lock()
	was := m.watching
	m.watching = nil
	m.mu.Unlock()
	if was == nil {
		return
	}
	m.restartWatching()
	if m.chat != nil {
		m.chat.SetWatching("")
	}
	m.log.Info("Stopped watching", "channel", was.Login)
}

// confirmOnline verifies a channel's live state through GraphQL and brings
// it online or offline accordingly. A channel whose stream outranks the
// current watch target pre-empts it through a channel switch.
func (m *Miner) confirmOnline(ctx context.Context, ch *model.Channel) {
	info, err := m.gql.GetStreamInfo(ctx, ch.Login)
	if err != nil {
		m.log.Warn("Failed to confirm channel online", "channel", ch.Login, "error", err)
		return
	}
	if info == nil || !info.Live {
		m.setChannelOffline(ctx, ch)
		return
	}

	ch.Mu.Lock()
	wasOnline := ch.Online()
	ch.DisplayName = info.DisplayName
	ch.SetOnline(model.NewStream(info.BroadcastID, info.Title, info.Game, info.Viewers, true))
	ch.Mu.Unlock()

	if !wasOnline {
		m.log.Event(ctx, model.EventChannelOnline, "Channel went online",
			"channel", ch.Login, "game", info.Game.Name)
	}

	m.mu.Lock()
	preempt := m.canWatchLocked(ch) && m.shouldSwitchLocked(ch)
	m.mu.Unlock()
	if preempt {
		m.requestState(StateChannelSwitch)
	}
}

// setChannelOffline marks a channel offline; losing the watched channel
// forces a switch.
func (m *Miner) setChannelOffline(ctx context.Context, ch *model.Channel) {
	ch.Mu.Lock()
	wasOnline := ch.Online()
	ch.SetOffline()
	ch.Mu.Unlock()

	if wasOnline {
		m.log.Event(ctx, model.EventChannelOffline, "Channel went offline", "channel", ch.Login)
	}

	m.mu.Lock()
	wasWatched := m.watching == ch
	if wasWatched {
		m.clearWatchingLocked()
	}
	m.mu.Unlock()
	if wasWatched {
		m.restartWatching()
		if m.chat != nil {
			m.chat.SetWatching("")
		}
		m.requestState(StateChannelSwitch)
	}
}

// scheduleOnlineCheck arms the stream-up settle timer for a channel,
// replacing any timer already pending.
func (m *Miner) scheduleOnlineCheck(ch *model.Channel) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if t, ok := m.onlineTimers[ch.ID]; ok {
		t.Stop()
	}
	m.onlineTimers[ch.ID] = time.AfterFunc(constants.OnlineDelay, func() {
		m.timersMu.Lock()
		delete(m.onlineTimers, ch.ID)
		m.timersMu.Unlock()
		ctx := m.runCtx
		if ctx == nil || ctx.Err() != nil {
			return
		}
		m.confirmOnline(ctx, ch)
	})
}

// cancelOnlineCheck drops a pending stream-up settle timer.
func (m *Miner) cancelOnlineCheck(channelID int) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if t, ok := m.onlineTimers[channelID]; ok {
		t.Stop()
		delete(m.onlineTimers, channelID)
	}
}

// stopOnlineTimers cancels every pending settle timer.
func (m *Miner) stopOnlineTimers() {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	for id, t := range m.onlineTimers {
		t.Stop()
		delete(m.onlineTimers, id)
	}
}
