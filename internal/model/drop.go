package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/utils"
)

// Drop represents a single time-based drop within a campaign.
//
// RealMinutes only moves on authoritative updates (a drop-progress event or
// a current-drop query); ExtraMinutes is the local estimator bumped by the
// watch loop when an authoritative update is missing, reset to zero whenever
// real minutes move.
type Drop struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Campaign *Campaign `json:"-"`

	Benefits        []Benefit `json:"benefits,omitempty"`
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	PreconditionIDs []string  `json:"precondition_ids,omitempty"`
	RequiredMinutes int       `json:"required_minutes"`

	ClaimID      string `json:"claim_id,omitempty"`
	IsClaimed    bool   `json:"is_claimed"`
	RealMinutes  int    `json:"real_minutes"`
	ExtraMinutes int    `json:"extra_minutes"`
}

// CurrentMinutes returns real plus extra minutes clamped to [0, required].
func (d *Drop) CurrentMinutes() int {
	total := d.RealMinutes + d.ExtraMinutes
	if total < 0 {
		return 0
	}
	if total > d.RequiredMinutes {
		return d.RequiredMinutes
	}
	return total
}

// Progress returns the drop's completion ratio in [0, 1].
func (d *Drop) Progress() float64 {
	if d.RequiredMinutes <= 0 {
		if d.IsClaimed {
			return 1
		}
		return 0
	}
	p := float64(d.CurrentMinutes()) / float64(d.RequiredMinutes)
	if p > 1 {
		return 1
	}
	return p
}

// RemainingMinutes returns how many minutes are left to earn this drop.
func (d *Drop) RemainingMinutes() int {
	remaining := d.RequiredMinutes - d.CurrentMinutes()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TotalRequiredMinutes returns this drop's required minutes plus the longest
// precondition chain leading to it.
func (d *Drop) TotalRequiredMinutes() int {
	return d.RequiredMinutes + d.maxPrecondition(func(p *Drop) int {
		return p.TotalRequiredMinutes()
	})
}

// TotalRemainingMinutes returns this drop's remaining minutes plus the
// longest remaining precondition chain leading to it.
func (d *Drop) TotalRemainingMinutes() int {
	return d.RemainingMinutes() + d.maxPrecondition(func(p *Drop) int {
		return p.TotalRemainingMinutes()
	})
}

func (d *Drop) maxPrecondition(minutes func(*Drop) int) int {
	if d.Campaign == nil {
		return 0
	}
	max := 0
	for _, pid := range d.PreconditionIDs {
		if pre := d.Campaign.DropByID(pid); pre != nil {
			if m := minutes(pre); m > max {
				max = m
			}
		}
	}
	return max
}

// PreconditionsMet reports whether every precondition drop has been claimed.
// Precondition ids that do not resolve within the campaign are ignored.
func (d *Drop) PreconditionsMet() bool {
	if d.Campaign == nil {
		return len(d.PreconditionIDs) == 0
	}
	for _, pid := range d.PreconditionIDs {
		if pre := d.Campaign.DropByID(pid); pre != nil && !pre.IsClaimed {
			return false
		}
	}
	return true
}

// earnable covers the drop-local conditions shared by CanEarn and the
// channel-free eligibility checks.
func (d *Drop) earnable() bool {
	return d.PreconditionsMet() &&
		!d.IsClaimed &&
		d.CurrentMinutes() < d.RequiredMinutes &&
		d.ExtraMinutes < constants.MaxExtraMinutes
}

// CanEarn reports whether watching can progress this drop right now.
// A nil channel checks campaign-wide eligibility; a non-nil channel also
// requires the campaign to apply to that channel.
func (d *Drop) CanEarn(channel *Channel) bool {
	if !d.earnable() {
		return false
	}
	if d.Campaign == nil || !d.Campaign.Active(time.Now()) {
		return false
	}
	return channel == nil || d.Campaign.AppliesTo(channel)
}

// CanEarnWithin reports whether this drop could start progressing before the
// given time. Unlike CanEarn it ignores the extra-minutes cap: the cap is a
// live-watching guard, not a statement about the future.
func (d *Drop) CanEarnWithin(stamp time.Time) bool {
	if d.IsClaimed || !d.PreconditionsMet() || d.CurrentMinutes() >= d.RequiredMinutes {
		return false
	}
	if d.Campaign == nil {
		return false
	}
	return d.Campaign.StartAt.Before(stamp) && d.Campaign.EndAt.After(time.Now())
}

// CanClaim reports whether the drop holds a claimable instance. Claims stay
// valid for a day past the campaign end.
func (d *Drop) CanClaim() bool {
	if d.ClaimID == "" || d.IsClaimed {
		return false
	}
	if d.Campaign == nil {
		return false
	}
	return time.Now().Before(d.Campaign.EndAt.Add(24 * time.Hour))
}

// UpdateMinutes applies an authoritative minute count and resets the local
// estimator.
func (d *Drop) UpdateMinutes(real int) {
	if real < 0 {
		real = 0
	}
	if real > d.RequiredMinutes {
		real = d.RequiredMinutes
	}
	d.RealMinutes = real
	d.ExtraMinutes = 0
}

// BumpExtra increments the local minute estimator by one.
func (d *Drop) BumpExtra() {
	d.ExtraMinutes++
}

// MarkClaimed finalizes the drop after a successful claim.
func (d *Drop) MarkClaimed() {
	d.RealMinutes = d.RequiredMinutes
	d.ExtraMinutes = 0
	d.IsClaimed = true
}

// SyntheticClaimID derives the claim instance id the platform uses when the
// websocket claim event was lost.
func (d *Drop) SyntheticClaimID(userID int) string {
	campaignID := ""
	if d.Campaign != nil {
		campaignID = d.Campaign.ID
	}
	return fmt.Sprintf("%d#%s#%s", userID, campaignID, d.ID)
}

// BenefitNames returns the drop's benefit names joined for display.
func (d *Drop) BenefitNames() string {
	names := make([]string, 0, len(d.Benefits))
	for _, b := range d.Benefits {
		names = append(names, b.Name)
	}
	return strings.Join(names, ", ")
}

// ProgressBar returns a text-based progress bar for the drop.
func (d *Drop) ProgressBar() string {
	pct := utils.Percentage(d.CurrentMinutes(), d.RequiredMinutes)
	progress := pct / 2
	remaining := (100 - pct) / 2
	if remaining+progress < 50 {
		remaining += 50 - (remaining + progress)
	}
	bar := strings.Repeat("█", progress) + strings.Repeat(" ", remaining)
	return fmt.Sprintf("|%s|\t%d%% [%d/%d]", bar, pct, d.CurrentMinutes(), d.RequiredMinutes)
}

// Equal returns true if two drops have the same ID.
func (d *Drop) Equal(other *Drop) bool {
	if other == nil {
		return false
	}
	return d.ID == other.ID
}

// String returns a human-readable representation of the drop.
func (d *Drop) String() string {
	return fmt.Sprintf("Drop(id=%s, name=%s, benefits=%s, minutes=%d/%d)",
		d.ID, d.Name, d.BenefitNames(), d.CurrentMinutes(), d.RequiredMinutes)
}
