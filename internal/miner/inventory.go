package miner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/gql"
	"github.com/Guliveer/twitch-drops-go/internal/model"
	"github.com/Guliveer/twitch-drops-go/internal/workerpool"
)

// detailWorkers bounds the concurrent campaign-detail batches during an
// inventory fetch.
const detailWorkers = 4

// stateInventoryFetch rebuilds the campaign and drop snapshot: the
// account's inventory for authoritative progress, the campaign dashboard
// for the full catalog, and per-campaign details for drop structure and
// allow-lists. Finished drops are claimed on the spot.
func (m *Miner) stateInventoryFetch(ctx context.Context) error {
	m.log.Info("🔄 Fetching inventory")

	inv, err := m.gql.FetchInventory(ctx)
	if err != nil {
		return err
	}
	summaries, err := m.gql.Campaigns(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	var ids []string
	for _, s := range summaries {
		if s.Status != "EXPIRED" {
			ids = append(ids, s.ID)
		}
	}

	// Detail fetches run in chunked batches so a large catalog resolves in
	// a few round trips.
	var chunks [][]string
	for len(ids) > 0 {
		n := min(len(ids), constants.CampaignDetailsChunk)
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	var detailMu sync.Mutex
	var detailed []*model.Campaign
	err = workerpool.Run(ctx, chunks, detailWorkers, func(ctx context.Context, chunk []string) error {
		campaigns, err := m.gql.CampaignDetails(ctx, chunk)
		if err != nil {
			return err
		}
		detailMu.Lock()
		detailed = append(detailed, campaigns...)
		detailMu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	campaigns := mergeCampaigns(detailed, inv, m.auth.UserID())
	sort.SliceStable(campaigns, func(i, j int) bool {
		return campaigns[i].EndAt.Before(campaigns[j].EndAt)
	})

	drops := make(map[string]*model.Drop)
	var claimable []*model.Drop
	for _, c := range campaigns {
		for _, d := range c.Drops {
			drops[d.ID] = d
			if d.CanClaim() {
				claimable = append(claimable, d)
			}
		}
	}

	m.mu.Lock()
	m.campaigns = campaigns
	m.drops = drops
	m.mu.Unlock()

	m.log.Event(ctx, model.EventInventorySync, "Inventory synced",
		"campaigns", len(campaigns), "drops", len(drops))

	for _, d := range claimable {
		m.claimDrop(ctx, d)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	m.restartMaintenance(campaignTriggers(campaigns, now))

	if err := m.http.SaveCookies(); err != nil {
		m.log.Warn("Failed to save cookies", "error", err)
	}

	m.requestState(StateGamesUpdate)
	return nil
}

// mergeCampaigns overlays the inventory's authoritative per-drop progress
// onto the detailed campaign catalog. Inventory-only campaigns (in
// progress but gone from the dashboard) are kept as-is, and drops whose
// benefits were all awarded during the campaign window are marked claimed.
func mergeCampaigns(detailed []*model.Campaign, inv *gql.Inventory, userID int) []*model.Campaign {
	byID := make(map[string]*model.Campaign, len(detailed))
	campaigns := make([]*model.Campaign, 0, len(detailed))
	for _, c := range detailed {
		byID[c.ID] = c
		campaigns = append(campaigns, c)
	}

	for _, ic := range inv.Campaigns {
		c, ok := byID[ic.ID]
		if !ok {
			campaigns = append(campaigns, ic)
			byID[ic.ID] = ic
			continue
		}
		for _, invDrop := range ic.Drops {
			d := c.DropByID(invDrop.ID)
			if d == nil {
				continue
			}
			if invDrop.RealMinutes > d.RealMinutes {
				d.RealMinutes = invDrop.RealMinutes
				d.ExtraMinutes = 0
			}
			if invDrop.ClaimID != "" {
				d.ClaimID = invDrop.ClaimID
			}
			if invDrop.IsClaimed {
				d.MarkClaimed()
			}
		}
	}

	for _, c := range campaigns {
		for _, d := range c.Drops {
			if d.IsClaimed {
				continue
			}
			if benefitsAwarded(d, inv.ClaimedBenefits) {
				d.MarkClaimed()
				continue
			}
			// A finished drop that never got a claim id gets a synthetic
			// one so the claim mutation can still be sent. Claims stay
			// valid for a day past the campaign end.
			if d.ClaimID == "" && d.CurrentMinutes() >= d.RequiredMinutes &&
				d.Campaign != nil && time.Now().Before(d.Campaign.EndAt.Add(24*time.Hour)) {
				d.ClaimID = d.SyntheticClaimID(userID)
			}
		}
	}
	return campaigns
}

// benefitsAwarded reports whether every benefit of the drop was awarded
// after the drop became available, which means the drop is claimed even
// when the inventory no longer says so.
func benefitsAwarded(d *model.Drop, awarded map[string]time.Time) bool {
	if len(d.Benefits) == 0 {
		return false
	}
	for _, b := range d.Benefits {
		at, ok := awarded[b.ID]
		if !ok || at.Before(d.StartAt) {
			return false
		}
	}
	return true
}

// campaignTriggers collects the future campaign start and end timestamps,
// soonest first; the maintenance task wakes at each boundary to reconsider
// the watched channel.
func campaignTriggers(campaigns []*model.Campaign, now time.Time) []time.Time {
	var triggers []time.Time
	for _, c := range campaigns {
		if c.StartAt.After(now) {
			triggers = append(triggers, c.StartAt)
		}
		if c.EndAt.After(now) {
			triggers = append(triggers, c.EndAt)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].Before(triggers[j]) })
	return triggers
}

// stateGamesUpdate rebuilds the wanted-games ranking from settings and the
// campaign snapshot: eligible campaigns whose game is not excluded and
// that can still earn something within the next hour.
func (m *Miner) stateGamesUpdate(ctx context.Context) error {
	horizon := time.Now().Add(time.Hour)
	wanted := model.NewWantedGames()

	m.mu.Lock()
	for _, c := range m.campaigns {
		game := c.Game
		switch {
		case game.Zero(), m.cfg.Excluded(game.Name):
			continue
		case m.cfg.PriorityOnly && !m.cfg.InPriority(game.Name):
			continue
		case !c.Eligible(m.cfg.BadgesEmotes), !c.CanEarnWithin(horizon):
			continue
		}
		wanted.Add(game, m.cfg.PriorityValue(game.Name))
	}
	m.wanted = wanted
	m.fullCleanup = true
	m.mu.Unlock()

	names := make([]string, 0, wanted.Len())
	for _, g := range wanted.Games() {
		names = append(names, g.Name)
	}
	m.log.Info("🎮 Games to mine", "count", len(names), "games", names)

	m.restartWatching()
	m.requestState(StateChannelsCleanup)
	return ctx.Err()
}
