package miner

import (
	"context"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/jsonutil"
	"github.com/Guliveer/twitch-drops-go/internal/model"
	"github.com/Guliveer/twitch-drops-go/internal/utils"
)

// HandleMessage routes a parsed PubSub message by topic kind. The pool
// calls this once per message on a dispatch goroutine.
func (m *Miner) HandleMessage(msg *model.Message) {
	ctx := m.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	switch msg.Topic.Kind {
	case model.TopicUserDrops:
		switch msg.Type {
		case model.MsgTypeDropProgress:
			m.handleDropProgress(msg)
		case model.MsgTypeDropClaim:
			m.handleDropClaim(ctx, msg)
		}

	case model.TopicUserPoints:
		switch msg.Type {
		case model.MsgTypePointsEarned:
			m.handlePointsEarned(msg)
		case model.MsgTypeClaimAvailable:
			m.handleClaimAvailable(ctx, msg)
		}

	case model.TopicStreamState:
		m.handleStreamState(ctx, msg)
	}
}

// handleStreamState tracks a channel's live state from the playback topic.
// Stream-up events are held for a settle delay before the channel is
// confirmed online; a viewcount for a channel believed offline triggers
// the same confirmation, since viewcounts only flow for live streams.
func (m *Miner) handleStreamState(ctx context.Context, msg *model.Message) {
	ch := m.channelByID(msg.Topic.TargetID)
	if ch == nil {
		return
	}

	switch msg.Type {
	case model.MsgTypeStreamUp:
		ch.Mu.Lock()
		ch.StreamUpAt = time.Now()
		ch.Mu.Unlock()
		m.log.Debug("Stream up", "channel", ch.Login)
		m.scheduleOnlineCheck(ch)

	case model.MsgTypeStreamDown:
		m.cancelOnlineCheck(ch.ID)
		m.setChannelOffline(ctx, ch)

	case model.MsgTypeViewCount:
		viewers := jsonutil.IntFromMap(msg.RawMessage, "viewers")
		ch.Mu.Lock()
		applied := ch.SetViewers(viewers)
		ch.Mu.Unlock()
		if !applied {
			m.confirmOnline(ctx, ch)
		}

	case model.MsgTypeCommercial:
		// ad breaks don't affect mining
	}
}

// handlePointsEarned logs community points income on the watched channel.
func (m *Miner) handlePointsEarned(msg *model.Message) {
	gain, _ := msg.Data["point_gain"].(map[string]any)
	earned := jsonutil.IntFromMap(gain, "total_points")
	balance := jsonutil.IntFromMap(msg.Data, "balance")
	if balance == 0 {
		if b, ok := msg.Data["balance"].(map[string]any); ok {
			balance = jsonutil.IntFromMap(b, "balance")
		}
	}
	if earned == 0 {
		return
	}
	m.log.Info("💰 Points earned", "points", earned, "balance", utils.Millify(balance, 1))
}

// handleClaimAvailable claims a pending community points bonus.
func (m *Miner) handleClaimAvailable(ctx context.Context, msg *model.Message) {
	claim, _ := msg.Data["claim"].(map[string]any)
	claimID := jsonutil.StringFromMap(claim, "id")
	channelID := jsonutil.IntFromMap(claim, "channel_id")
	if claimID == "" || channelID == 0 {
		return
	}
	if err := m.gql.ClaimCommunityPoints(ctx, claimID, channelID); err != nil {
		m.log.Warn("Bonus claim failed", "channel_id", channelID, "error", err)
		return
	}
	m.log.Event(ctx, model.EventBonusClaim, "Claimed bonus points", "channel_id", channelID)
}
