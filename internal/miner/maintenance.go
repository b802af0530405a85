package miner

import (
	"context"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/model"
	"github.com/Guliveer/twitch-drops-go/internal/utils"
)

// restartMaintenance replaces the background maintenance task with a fresh
// one woken by the given campaign boundary timestamps. Called after every
// inventory fetch.
func (m *Miner) restartMaintenance(triggers []time.Time) {
	m.mntMu.Lock()
	if m.mntCancel != nil {
		m.mntCancel()
	}
	parent := m.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	m.mntCancel = cancel
	m.mntMu.Unlock()

	go m.runMaintenance(ctx, triggers)
}

// stopMaintenance cancels the maintenance task.
func (m *Miner) stopMaintenance() {
	m.mntMu.Lock()
	if m.mntCancel != nil {
		m.mntCancel()
		m.mntCancel = nil
	}
	m.mntMu.Unlock()
}

// runMaintenance wakes periodically — and at every campaign start or end
// boundary — to reconsider the watched channel and sweep the watched
// channel's points bonus, then forces a full inventory refetch once its
// budget runs out.
func (m *Miner) runMaintenance(ctx context.Context, triggers []time.Time) {
	end := time.Now().Add(constants.MaintenanceBudget)

	for {
		now := time.Now()
		if !now.Before(end) {
			break
		}
		wake := now.Add(constants.MaintenancePeriod)
		boundary := false
		if t := nextTrigger(triggers, now); !t.IsZero() && t.Before(wake) {
			wake = t
			boundary = true
		}
		if wake.After(end) {
			wake = end
			boundary = false
		}
		if !sleepCtx(ctx, time.Until(wake)) {
			return
		}
		if boundary {
			m.log.Debug("Campaign boundary reached, reconsidering channel")
			m.requestState(StateChannelSwitch)
		}
		m.sweepWatchedBonus(ctx)
	}

	m.requestState(StateInventoryFetch)
}

// nextTrigger returns the earliest trigger after now, or the zero time.
func nextTrigger(triggers []time.Time, now time.Time) time.Time {
	for _, t := range triggers {
		if t.After(now) {
			return t
		}
	}
	return time.Time{}
}

// sweepWatchedBonus claims any points bonus pending on the watched channel
// that the claim-available event may have missed.
func (m *Miner) sweepWatchedBonus(ctx context.Context) {
	ch := m.watchingChannel()
	if ch == nil {
		return
	}
	points, err := m.gql.ChannelPointsContext(ctx, ch.Login)
	if err != nil || points == nil {
		if err != nil {
			m.log.Debug("Points context query failed", "channel", ch.Login, "error", err)
		}
		return
	}
	m.log.Debug("Points balance", "channel", ch.Login, "balance", utils.Millify(points.Balance, 1))
	if points.AvailableClaimID == "" {
		return
	}
	if err := m.gql.ClaimCommunityPoints(ctx, points.AvailableClaimID, ch.ID); err != nil {
		m.log.Warn("Bonus claim failed", "channel", ch.Login, "error", err)
		return
	}
	m.log.Event(ctx, model.EventBonusClaim, "Claimed bonus points", "channel", ch.Login)
}
