package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeCampaign(drops ...*Drop) *Campaign {
	c := &Campaign{
		ID:            "camp-1",
		Name:          "Test Campaign",
		Game:          Game{ID: 10, Name: "Test Game"},
		AccountLinked: true,
		Status:        "ACTIVE",
		StartAt:       time.Now().Add(-time.Hour),
		EndAt:         time.Now().Add(time.Hour),
		Drops:         drops,
	}
	c.Link()
	return c
}

func TestDropCurrentMinutes(t *testing.T) {
	d := &Drop{RequiredMinutes: 60}

	assert.Equal(t, 0, d.CurrentMinutes())

	d.RealMinutes = 30
	d.ExtraMinutes = 3
	assert.Equal(t, 33, d.CurrentMinutes())

	// clamped to required
	d.RealMinutes = 59
	d.ExtraMinutes = 10
	assert.Equal(t, 60, d.CurrentMinutes())
	assert.Equal(t, 0, d.RemainingMinutes())
}

func TestDropUpdateMinutesResetsEstimator(t *testing.T) {
	d := &Drop{RequiredMinutes: 60, RealMinutes: 10, ExtraMinutes: 4}

	d.UpdateMinutes(15)
	assert.Equal(t, 15, d.RealMinutes)
	assert.Equal(t, 0, d.ExtraMinutes)

	// authoritative counts clamp into the valid range
	d.UpdateMinutes(-5)
	assert.Equal(t, 0, d.RealMinutes)
	d.UpdateMinutes(120)
	assert.Equal(t, 60, d.RealMinutes)
}

func TestDropExtraMinutesCapStopsEarning(t *testing.T) {
	d := &Drop{ID: "d1", RequiredMinutes: 60, RealMinutes: 10}
	activeCampaign(d)

	for i := 0; i < 4; i++ {
		d.BumpExtra()
	}
	assert.True(t, d.CanEarn(nil), "below the cap the drop still earns")

	d.BumpExtra()
	assert.False(t, d.CanEarn(nil), "at the cap the drop is stalled")

	// an authoritative update releases the stall
	d.UpdateMinutes(12)
	assert.True(t, d.CanEarn(nil))
}

func TestDropPreconditions(t *testing.T) {
	first := &Drop{ID: "d1", RequiredMinutes: 30}
	second := &Drop{ID: "d2", RequiredMinutes: 60, PreconditionIDs: []string{"d1"}}
	activeCampaign(first, second)

	assert.False(t, second.PreconditionsMet())
	assert.False(t, second.CanEarn(nil))
	assert.Equal(t, 90, second.TotalRequiredMinutes())

	first.RealMinutes = 20
	assert.Equal(t, 70, second.TotalRemainingMinutes())

	first.MarkClaimed()
	assert.True(t, second.PreconditionsMet())
	assert.True(t, second.CanEarn(nil))
	assert.Equal(t, 60, second.TotalRemainingMinutes())

	// unresolvable precondition ids are ignored
	third := &Drop{ID: "d3", PreconditionIDs: []string{"nope"}}
	activeCampaign(third)
	assert.True(t, third.PreconditionsMet())
}

func TestDropCanClaim(t *testing.T) {
	d := &Drop{ID: "d1", RequiredMinutes: 60, RealMinutes: 60}
	c := activeCampaign(d)

	assert.False(t, d.CanClaim(), "no claim instance yet")

	d.ClaimID = "instance-1"
	assert.True(t, d.CanClaim())

	// claims stay valid for a day past campaign end
	c.EndAt = time.Now().Add(-23 * time.Hour)
	assert.True(t, d.CanClaim())
	c.EndAt = time.Now().Add(-25 * time.Hour)
	assert.False(t, d.CanClaim())

	c.EndAt = time.Now().Add(time.Hour)
	d.MarkClaimed()
	assert.False(t, d.CanClaim())
}

func TestDropSyntheticClaimID(t *testing.T) {
	d := &Drop{ID: "drop-9"}
	activeCampaign(d)
	assert.Equal(t, "1234#camp-1#drop-9", d.SyntheticClaimID(1234))
}

func TestDropMarkClaimed(t *testing.T) {
	d := &Drop{ID: "d1", RequiredMinutes: 60, RealMinutes: 40, ExtraMinutes: 2}
	d.MarkClaimed()

	assert.True(t, d.IsClaimed)
	assert.Equal(t, 60, d.RealMinutes)
	assert.Equal(t, 0, d.ExtraMinutes)
	assert.InDelta(t, 1.0, d.Progress(), 0.001)
}

func TestDropProgressBar(t *testing.T) {
	d := &Drop{RequiredMinutes: 60, RealMinutes: 30}

	bar := d.ProgressBar()
	assert.Equal(t, 25, strings.Count(bar, "█"), "half progress fills half of the 50-cell bar")
	assert.Contains(t, bar, "50% [30/60]")

	d.RealMinutes = 0
	assert.Contains(t, d.ProgressBar(), "0% [0/60]")
	d.MarkClaimed()
	assert.Contains(t, d.ProgressBar(), "100% [60/60]")
}

func TestCampaignAppliesTo(t *testing.T) {
	open := activeCampaign()
	restricted := activeCampaign()
	restricted.AllowedChannels = []ChannelHandle{{ID: 1, Login: "allowed"}}

	allowed := NewChannel(1, "allowed", true)
	other := NewChannel(2, "other", false)

	assert.True(t, open.AppliesTo(allowed))
	assert.True(t, open.AppliesTo(other))
	assert.True(t, restricted.AppliesTo(allowed))
	assert.False(t, restricted.AppliesTo(other))
}

func TestCampaignActiveDropPrefersClosest(t *testing.T) {
	far := &Drop{ID: "far", RequiredMinutes: 120, RealMinutes: 10}
	near := &Drop{ID: "near", RequiredMinutes: 60, RealMinutes: 55}
	claimed := &Drop{ID: "done", RequiredMinutes: 30, RealMinutes: 30, IsClaimed: true}
	c := activeCampaign(far, near, claimed)

	active := c.ActiveDrop(nil)
	require.NotNil(t, active)
	assert.Equal(t, "near", active.ID)

	near.MarkClaimed()
	active = c.ActiveDrop(nil)
	require.NotNil(t, active)
	assert.Equal(t, "far", active.ID)

	assert.Equal(t, 2, c.ClaimedDrops())
	assert.Equal(t, 1, c.RemainingDrops())
}

func TestCampaignEligible(t *testing.T) {
	c := activeCampaign(&Drop{ID: "d1", Benefits: []Benefit{{ID: "b1", Kind: BenefitBadge}}})
	c.AccountLinked = false

	assert.False(t, c.Eligible(false))
	assert.True(t, c.Eligible(true), "badge campaigns are eligible when badge mining is on")

	c.AccountLinked = true
	assert.True(t, c.Eligible(false))
}

func TestCampaignLifecycle(t *testing.T) {
	now := time.Now()
	c := activeCampaign()

	assert.True(t, c.Active(now))
	assert.False(t, c.Upcoming(now))
	assert.False(t, c.Expired(now))

	c.Status = "EXPIRED"
	assert.False(t, c.Active(now))
	assert.True(t, c.Expired(now))

	c.Status = "ACTIVE"
	c.StartAt = now.Add(time.Hour)
	c.EndAt = now.Add(2 * time.Hour)
	assert.True(t, c.Upcoming(now))
	assert.False(t, c.Active(now))
}
