package miner

import (
	"context"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/jsonutil"
	"github.com/Guliveer/twitch-drops-go/internal/model"
	"github.com/Guliveer/twitch-drops-go/internal/utils"
)

// expectProgress arms a one-shot slot before a heartbeat is sent, so the
// drop-progress handler can report whether the minute was accounted for.
func (m *Miner) expectProgress() {
	m.progressMu.Lock()
	m.progressSlot = make(chan bool, 1)
	m.progressMu.Unlock()
}

// cancelProgress disarms an in-flight minute expectation.
func (m *Miner) cancelProgress() {
	m.progressMu.Lock()
	m.progressSlot = nil
	m.progressMu.Unlock()
}

// resolveProgress settles the armed slot. handled=true means the event
// matched the expected active drop. The slot stays armed so a resolution
// landing before awaitProgress starts waiting is not lost; expectProgress
// and cancelProgress own the slot's lifecycle.
func (m *Miner) resolveProgress(handled bool) {
	m.progressMu.Lock()
	slot := m.progressSlot
	m.progressMu.Unlock()
	if slot == nil {
		return
	}
	select {
	case slot <- handled:
	default:
	}
}

// awaitProgress waits for the armed slot to settle. It returns false when
// no authoritative matching update arrived within the timeout.
func (m *Miner) awaitProgress(ctx context.Context, timeout time.Duration) bool {
	m.progressMu.Lock()
	slot := m.progressSlot
	m.progressMu.Unlock()
	if slot == nil {
		return false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case handled := <-slot:
		return handled
	case <-t.C:
		m.cancelProgress()
		return false
	case <-ctx.Done():
		m.cancelProgress()
		return false
	}
}

// activeDropLocked returns the drop currently progressed by watching the
// channel: among the eligible campaigns for the channel's game, the
// earnable drop closest to completion. Callers hold m.mu.
func (m *Miner) activeDropLocked(ch *model.Channel) *model.Drop {
	if ch == nil {
		return nil
	}
	ch.Mu.RLock()
	game, ok := ch.Game()
	ch.Mu.RUnlock()
	if !ok {
		return nil
	}

	var best *model.Drop
	for _, c := range m.campaigns {
		if !c.Game.Equal(game) || !c.Eligible(m.cfg.BadgesEmotes) {
			continue
		}
		d := c.ActiveDrop(ch)
		if d == nil {
			continue
		}
		if best == nil || d.RemainingMinutes() < best.RemainingMinutes() {
			best = d
		}
	}
	return best
}

// activeDrop is activeDropLocked with locking.
func (m *Miner) activeDrop(ch *model.Channel) *model.Drop {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeDropLocked(ch)
}

// progressFallback reconciles drop progress after a heartbeat that no
// websocket event accounted for: ask GraphQL for the current drop session,
// and failing that bump the local estimator. A drop exceeding the
// estimator cap means the channel is not actually progressing anything, so
// the watch target gets reconsidered.
func (m *Miner) progressFallback(ctx context.Context, ch *model.Channel) {
	info, err := m.gql.CurrentDrop(ctx, ch.ID)
	if err != nil {
		m.log.Debug("Current drop query failed", "channel", ch.Login, "error", err)
	}
	if info != nil {
		m.mu.Lock()
		d := m.drops[info.DropID]
		if d != nil && d.CanEarn(ch) {
			d.UpdateMinutes(info.CurrentMinutes)
			m.mu.Unlock()
			m.renderDrop(d, false)
			return
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	d := m.activeDropLocked(ch)
	var stalled bool
	if d != nil {
		d.BumpExtra()
		stalled = d.ExtraMinutes >= constants.MaxExtraMinutes
	}
	m.mu.Unlock()

	if d != nil {
		m.renderDrop(d, false)
	}
	if stalled {
		m.log.Warn("No progress updates; reconsidering channel",
			"channel", ch.Login, "drop", dropName(d))
		m.requestState(StateChannelSwitch)
	}
}

// handleDropProgress applies an authoritative minute update from the drops
// topic. Only updates for the expected active drop of the watched channel
// settle the slot as handled; anything else leaves the fallback to run.
func (m *Miner) handleDropProgress(msg *model.Message) {
	dropID := jsonutil.StringFromMap(msg.Data, "drop_id")
	minutes := jsonutil.IntFromMap(msg.Data, "current_progress_min")

	m.mu.Lock()
	active := m.activeDropLocked(m.watching)
	d := m.drops[dropID]
	matched := d != nil && active != nil && d.ID == active.ID
	if matched {
		d.UpdateMinutes(minutes)
	}
	m.mu.Unlock()

	if !matched {
		m.resolveProgress(false)
		return
	}
	m.renderDrop(d, false)
	m.resolveProgress(true)
}

// handleDropClaim runs the claim protocol for a drop-claim event: attach
// the claim instance id, send the claim mutation, wait out server-side
// propagation, then poll the current drop session until it moves off the
// claimed drop before letting the watch loop continue.
func (m *Miner) handleDropClaim(ctx context.Context, msg *model.Message) {
	dropID := jsonutil.StringFromMap(msg.Data, "drop_id")
	instanceID := jsonutil.StringFromMap(msg.Data, "drop_instance_id")

	m.mu.Lock()
	d := m.drops[dropID]
	if d != nil && instanceID != "" {
		d.ClaimID = instanceID
	}
	m.mu.Unlock()

	if d == nil {
		m.log.Warn("Claim event for unknown drop, refetching inventory", "drop_id", dropID)
		m.requestState(StateInventoryFetch)
		return
	}

	if !m.claimDrop(ctx, d) {
		return
	}

	ch := m.watchingChannel()
	if ch != nil {
		sleepCtx(ctx, constants.ClaimSettleDelay)
		m.awaitClaimRollover(ctx, ch, dropID)
	}

	m.mu.Lock()
	remaining := 0
	if d.Campaign != nil {
		remaining = d.Campaign.RemainingDrops()
	}
	m.mu.Unlock()

	if remaining > 0 {
		m.restartWatching()
	} else {
		m.requestState(StateInventoryFetch)
	}
}

// awaitClaimRollover polls the current drop session until it reports a
// different drop than the one just claimed, or the attempts run out.
// Heartbeats sent before the server rolls over would re-progress the
// claimed drop.
func (m *Miner) awaitClaimRollover(ctx context.Context, ch *model.Channel, claimedDropID string) {
	for i := 0; i < constants.ClaimConfirmAttempts; i++ {
		info, err := m.gql.CurrentDrop(ctx, ch.ID)
		if err == nil && (info == nil || info.DropID != claimedDropID) {
			return
		}
		if !sleepCtx(ctx, constants.ClaimConfirmInterval) {
			return
		}
	}
	m.log.Debug("Current drop did not roll over after claim", "drop_id", claimedDropID)
}

// claimDrop sends the claim mutation and reports success. The GQL layer
// maps already-claimed and eligible-for-all statuses to success.
func (m *Miner) claimDrop(ctx context.Context, d *model.Drop) bool {
	m.mu.Lock()
	claimID := d.ClaimID
	m.mu.Unlock()
	if claimID == "" {
		return false
	}

	ok, err := m.gql.ClaimDrop(ctx, claimID)
	if err != nil {
		m.log.Error("Drop claim failed", "drop", d.Name, "error", err)
		return false
	}
	if !ok {
		m.log.Warn("Drop claim rejected", "drop", d.Name)
		return false
	}

	m.mu.Lock()
	d.MarkClaimed()
	campaign := ""
	game := ""
	if d.Campaign != nil {
		campaign = d.Campaign.Name
		game = d.Campaign.Game.Name
	}
	m.mu.Unlock()

	m.log.Event(ctx, model.EventDropClaim, "Claimed drop",
		"drop", d.Name, "benefits", d.BenefitNames(), "campaign", campaign, "game", game)
	return true
}

// renderDrop logs the drop's progress line. subone backs the counter off
// by one minute for pre-renders, where the next heartbeat has not been
// credited yet.
func (m *Miner) renderDrop(d *model.Drop, subone bool) {
	minutes := d.CurrentMinutes()
	if subone && minutes > 0 {
		minutes--
	}
	campaign := ""
	if d.Campaign != nil {
		campaign = d.Campaign.Name
	}

	m.progressMu.Lock()
	fresh := d.ID != m.lastActiveDrop
	m.lastActiveDrop = d.ID
	m.progressMu.Unlock()

	if fresh {
		ctx := m.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		m.log.Event(ctx, model.EventDropProgress, "Mining drop",
			"drop", d.Name, "campaign", campaign,
			"remaining", utils.FormatMinutes(d.RequiredMinutes-minutes))
		return
	}
	m.log.Info("⛏️ "+d.Name, "campaign", campaign, "progress", d.ProgressBar())
}

// renderActive re-renders the watched channel's active drop, if any.
func (m *Miner) renderActive(ch *model.Channel, subone bool) {
	if d := m.activeDrop(ch); d != nil {
		m.renderDrop(d, subone)
	}
}

func dropName(d *model.Drop) string {
	if d == nil {
		return ""
	}
	return d.Name
}
