package model

import (
	"fmt"
	"strings"
	"time"
)

// ChannelHandle identifies a channel on a campaign's allow-list.
type ChannelHandle struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

// Campaign represents a drop campaign. Campaigns and their drops are rebuilt
// wholesale on every inventory fetch; progress carries over through the
// platform's server-side minute counters.
type Campaign struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Game          Game      `json:"game"`
	AccountLinked bool      `json:"account_linked"`
	ImageURL      string    `json:"image_url,omitempty"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	Status        string    `json:"status"`

	AllowedChannels []ChannelHandle `json:"allowed_channels,omitempty"`
	Drops           []*Drop         `json:"drops,omitempty"`

	HasBadgeOrEmote bool `json:"has_badge_or_emote"`

	dropByID map[string]*Drop
}

// Link resolves drop back references and the drop id index. It must be
// called once after the campaign's Drops slice is fully populated.
func (c *Campaign) Link() {
	c.dropByID = make(map[string]*Drop, len(c.Drops))
	hasBadgeOrEmote := false
	for _, d := range c.Drops {
		d.Campaign = c
		c.dropByID[d.ID] = d
		for _, b := range d.Benefits {
			if b.Kind == BenefitBadge || b.Kind == BenefitEmote {
				hasBadgeOrEmote = true
			}
		}
	}
	c.HasBadgeOrEmote = hasBadgeOrEmote
}

// DropByID returns the campaign's drop with the given id, or nil.
func (c *Campaign) DropByID(id string) *Drop {
	if c.dropByID == nil {
		return nil
	}
	return c.dropByID[id]
}

// Valid reports whether the platform still considers the campaign live.
func (c *Campaign) Valid() bool {
	return !strings.EqualFold(c.Status, "EXPIRED")
}

// Active reports whether the campaign is valid and inside its time window.
func (c *Campaign) Active(now time.Time) bool {
	return c.Valid() && !c.StartAt.After(now) && now.Before(c.EndAt)
}

// Upcoming reports whether the campaign is valid but not yet started.
func (c *Campaign) Upcoming(now time.Time) bool {
	return c.Valid() && now.Before(c.StartAt)
}

// Expired reports whether the campaign can no longer progress.
func (c *Campaign) Expired(now time.Time) bool {
	return !c.Valid() || !c.EndAt.After(now)
}

// Eligible reports whether this account can earn the campaign's drops:
// either the game account is linked, or badge/emote mining is enabled and
// the campaign awards one.
func (c *Campaign) Eligible(enableBadgesEmotes bool) bool {
	return c.AccountLinked || (enableBadgesEmotes && c.HasBadgeOrEmote)
}

// AppliesTo reports whether the campaign's allow-list admits the channel.
// Campaigns without an allow-list apply to every channel of their game.
func (c *Campaign) AppliesTo(channel *Channel) bool {
	if len(c.AllowedChannels) == 0 {
		return true
	}
	for _, h := range c.AllowedChannels {
		if h.ID == channel.ID {
			return true
		}
	}
	return false
}

// CanEarn reports whether any of the campaign's drops can progress on the
// given channel (nil for campaign-wide eligibility).
func (c *Campaign) CanEarn(channel *Channel) bool {
	for _, d := range c.Drops {
		if d.CanEarn(channel) {
			return true
		}
	}
	return false
}

// CanEarnWithin reports whether any drop could start progressing before the
// given time.
func (c *Campaign) CanEarnWithin(stamp time.Time) bool {
	for _, d := range c.Drops {
		if d.CanEarnWithin(stamp) {
			return true
		}
	}
	return false
}

// ActiveDrop returns the earnable drop with the fewest remaining minutes on
// the given channel, or nil when nothing can progress.
func (c *Campaign) ActiveDrop(channel *Channel) *Drop {
	var best *Drop
	for _, d := range c.Drops {
		if !d.CanEarn(channel) {
			continue
		}
		if best == nil || d.RemainingMinutes() < best.RemainingMinutes() {
			best = d
		}
	}
	return best
}

// Progress returns the mean completion ratio across all drops.
func (c *Campaign) Progress() float64 {
	if len(c.Drops) == 0 {
		return 0
	}
	var sum float64
	for _, d := range c.Drops {
		sum += d.Progress()
	}
	return sum / float64(len(c.Drops))
}

// ClaimedDrops counts the campaign's claimed drops.
func (c *Campaign) ClaimedDrops() int {
	count := 0
	for _, d := range c.Drops {
		if d.IsClaimed {
			count++
		}
	}
	return count
}

// RemainingDrops counts the campaign's unclaimed drops.
func (c *Campaign) RemainingDrops() int {
	return len(c.Drops) - c.ClaimedDrops()
}

// Equal returns true if two campaigns have the same ID.
func (c *Campaign) Equal(other *Campaign) bool {
	if other == nil {
		return false
	}
	return c.ID == other.ID
}

// String returns a human-readable representation of the campaign.
func (c *Campaign) String() string {
	return fmt.Sprintf("Campaign(id=%s, name=%s, game=%s, claimed=%d/%d)",
		c.ID, c.Name, c.Game.Name, c.ClaimedDrops(), len(c.Drops))
}
