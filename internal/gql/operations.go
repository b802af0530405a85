package gql

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/jsonutil"
	"github.com/Guliveer/twitch-drops-go/internal/model"
)

// gameJSON mirrors the game object embedded in campaign and stream payloads.
type gameJSON struct {
	ID          any    `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Slug        string `json:"slug"`
}

func (gj *gameJSON) toModel() model.Game {
	if gj == nil {
		return model.Game{}
	}
	id, _ := jsonutil.IntFromAny(gj.ID)
	name := gj.DisplayName
	if name == "" {
		name = gj.Name
	}
	return model.Game{ID: id, Name: name, Slug: gj.Slug}
}

// benefitJSON mirrors one benefit node of a drop's benefitEdges.
type benefitJSON struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ImageAssetURL    string `json:"imageAssetURL"`
	DistributionType string `json:"distributionType"`
}

func (bj *benefitJSON) toModel() model.Benefit {
	return model.Benefit{
		ID:       bj.ID,
		Name:     bj.Name,
		Kind:     model.ParseBenefitKind(bj.DistributionType),
		ImageURL: bj.ImageAssetURL,
	}
}

// dropJSON mirrors a time-based drop. The self block is only present on
// authenticated inventory and detail queries.
type dropJSON struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	StartAt                time.Time `json:"startAt"`
	EndAt                  time.Time `json:"endAt"`
	RequiredMinutesWatched int       `json:"requiredMinutesWatched"`
	PreconditionDrops      []struct {
		ID string `json:"id"`
	} `json:"preconditionDrops"`
	BenefitEdges []struct {
		Benefit benefitJSON `json:"benefit"`
	} `json:"benefitEdges"`
	Self *struct {
		CurrentMinutesWatched int    `json:"currentMinutesWatched"`
		DropInstanceID        string `json:"dropInstanceID"`
		IsClaimed             bool   `json:"isClaimed"`
	} `json:"self"`
}

func (dj *dropJSON) toModel() *model.Drop {
	d := &model.Drop{
		ID:              dj.ID,
		Name:            dj.Name,
		StartAt:         dj.StartAt,
		EndAt:           dj.EndAt,
		RequiredMinutes: dj.RequiredMinutesWatched,
	}
	for _, p := range dj.PreconditionDrops {
		d.PreconditionIDs = append(d.PreconditionIDs, p.ID)
	}
	for i := range dj.BenefitEdges {
		d.Benefits = append(d.Benefits, dj.BenefitEdges[i].Benefit.toModel())
	}
	if dj.Self != nil {
		d.UpdateMinutes(dj.Self.CurrentMinutesWatched)
		d.ClaimID = dj.Self.DropInstanceID
		if dj.Self.IsClaimed {
			d.MarkClaimed()
		}
	}
	return d
}

// campaignJSON mirrors a drop campaign as returned by the inventory and
// detail queries. The dashboard returns the same object without drops.
type campaignJSON struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Game     gameJSON  `json:"game"`
	Status   string    `json:"status"`
	StartAt  time.Time `json:"startAt"`
	EndAt    time.Time `json:"endAt"`
	ImageURL string    `json:"imageURL"`
	Self     *struct {
		IsAccountConnected bool `json:"isAccountConnected"`
	} `json:"self"`
	Allow *struct {
		IsEnabled bool `json:"isEnabled"`
		Channels  []struct {
			ID          any    `json:"id"`
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"channels"`
	} `json:"allow"`
	TimeBasedDrops []dropJSON `json:"timeBasedDrops"`
}

func (cj *campaignJSON) toModel() *model.Campaign {
	c := &model.Campaign{
		ID:       cj.ID,
		Name:     cj.Name,
		Game:     cj.Game.toModel(),
		Status:   cj.Status,
		StartAt:  cj.StartAt,
		EndAt:    cj.EndAt,
		ImageURL: cj.ImageURL,
	}
	if cj.Self != nil {
		c.AccountLinked = cj.Self.IsAccountConnected
	}
	if cj.Allow != nil && cj.Allow.IsEnabled {
		for _, h := range cj.Allow.Channels {
			id, err := jsonutil.IntFromAny(h.ID)
			if err != nil || id == 0 {
				continue
			}
			c.AllowedChannels = append(c.AllowedChannels, model.ChannelHandle{
				ID:    id,
				Login: h.Name,
			})
		}
	}
	for i := range cj.TimeBasedDrops {
		c.Drops = append(c.Drops, cj.TimeBasedDrops[i].toModel())
	}
	c.Link()
	return c
}

// Inventory is the account snapshot: in-progress campaigns with server-side
// minute counters, and the benefit ids already awarded with their award time.
type Inventory struct {
	Campaigns       []*model.Campaign
	ClaimedBenefits map[string]time.Time
}

// FetchInventory fetches the account's drops inventory.
func (c *Client) FetchInventory(ctx context.Context) (*Inventory, error) {
	data, err := c.Do(ctx, constants.GQLInventory)
	if err != nil {
		return nil, err
	}

	var resp struct {
		CurrentUser *struct {
			Inventory *struct {
				DropCampaignsInProgress []json.RawMessage `json:"dropCampaignsInProgress"`
				GameEventDrops          []struct {
					ID            string    `json:"id"`
					LastAwardedAt time.Time `json:"lastAwardedAt"`
				} `json:"gameEventDrops"`
			} `json:"inventory"`
		} `json:"currentUser"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gql: parsing inventory: %w", err)
	}

	inv := &Inventory{ClaimedBenefits: make(map[string]time.Time)}
	if resp.CurrentUser == nil || resp.CurrentUser.Inventory == nil {
		return inv, nil
	}

	for _, raw := range resp.CurrentUser.Inventory.DropCampaignsInProgress {
		var cj campaignJSON
		if err := json.Unmarshal(raw, &cj); err != nil {
			c.log.Warn("Skipping malformed inventory campaign", "error", err)
			continue
		}
		inv.Campaigns = append(inv.Campaigns, cj.toModel())
	}
	for _, b := range resp.CurrentUser.Inventory.GameEventDrops {
		inv.ClaimedBenefits[b.ID] = b.LastAwardedAt
	}
	return inv, nil
}

// CampaignSummary is one row of the campaigns dashboard.
type CampaignSummary struct {
	ID     string
	Name   string
	Game   model.Game
	Status string
}

// Campaigns fetches the dashboard summary of all known campaigns. Drops and
// allow-lists require a CampaignDetails call per campaign.
func (c *Client) Campaigns(ctx context.Context) ([]CampaignSummary, error) {
	data, err := c.Do(ctx, constants.GQLCampaigns)
	if err != nil {
		return nil, err
	}

	var resp struct {
		CurrentUser *struct {
			DropCampaigns []campaignJSON `json:"dropCampaigns"`
		} `json:"currentUser"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gql: parsing campaigns dashboard: %w", err)
	}
	if resp.CurrentUser == nil {
		return nil, nil
	}

	summaries := make([]CampaignSummary, 0, len(resp.CurrentUser.DropCampaigns))
	for i := range resp.CurrentUser.DropCampaigns {
		cj := &resp.CurrentUser.DropCampaigns[i]
		summaries = append(summaries, CampaignSummary{
			ID:     cj.ID,
			Name:   cj.Name,
			Game:   cj.Game.toModel(),
			Status: cj.Status,
		})
	}
	return summaries, nil
}

// CampaignDetails fetches full campaign objects for the given campaign ids,
// batched in fixed-size chunks. Campaigns the server no longer knows are
// dropped from the result.
func (c *Client) CampaignDetails(ctx context.Context, campaignIDs []string) ([]*model.Campaign, error) {
	login := strconv.Itoa(c.auth.UserID())

	campaigns := make([]*model.Campaign, 0, len(campaignIDs))
	for start := 0; start < len(campaignIDs); start += constants.CampaignDetailsChunk {
		end := start + constants.CampaignDetailsChunk
		if end > len(campaignIDs) {
			end = len(campaignIDs)
		}

		ops := make([]constants.GQLOperation, 0, end-start)
		for _, id := range campaignIDs[start:end] {
			ops = append(ops, constants.GQLCampaignDetails.WithVars(map[string]any{
				"channelLogin": login,
				"dropID":       id,
			}))
		}

		results, err := c.DoBatch(ctx, ops)
		if err != nil {
			return nil, err
		}
		for _, data := range results {
			var resp struct {
				User *struct {
					DropCampaign *campaignJSON `json:"dropCampaign"`
				} `json:"user"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return nil, fmt.Errorf("gql: parsing campaign details: %w", err)
			}
			if resp.User == nil || resp.User.DropCampaign == nil {
				continue
			}
			campaigns = append(campaigns, resp.User.DropCampaign.toModel())
		}
	}
	return campaigns, nil
}

// StreamInfo is the identity and live-stream snapshot for one channel.
type StreamInfo struct {
	ChannelID   int
	Login       string
	DisplayName string
	Live        bool
	BroadcastID int
	Title       string
	Game        model.Game
	Viewers     int
}

// GetStreamInfo fetches a channel's identity and live-stream state by login.
// Returns nil when the channel does not exist.
func (c *Client) GetStreamInfo(ctx context.Context, login string) (*StreamInfo, error) {
	data, err := c.Do(ctx, constants.GQLGetStreamInfo.WithVars(map[string]any{
		"channel": login,
	}))
	if err != nil {
		return nil, err
	}

	var resp struct {
		User *struct {
			ID          any    `json:"id"`
			Login       string `json:"login"`
			DisplayName string `json:"displayName"`
			Stream      *struct {
				ID           any       `json:"id"`
				Game         *gameJSON `json:"game"`
				ViewersCount int       `json:"viewersCount"`
			} `json:"stream"`
			BroadcastSettings *struct {
				Title string `json:"title"`
			} `json:"broadcastSettings"`
		} `json:"user"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gql: parsing stream info: %w", err)
	}
	if resp.User == nil {
		return nil, nil
	}

	channelID, err := jsonutil.IntFromAny(resp.User.ID)
	if err != nil {
		return nil, fmt.Errorf("gql: parsing stream info channel id: %w", err)
	}
	info := &StreamInfo{
		ChannelID:   channelID,
		Login:       resp.User.Login,
		DisplayName: resp.User.DisplayName,
	}
	if resp.User.BroadcastSettings != nil {
		info.Title = resp.User.BroadcastSettings.Title
	}
	if resp.User.Stream != nil {
		info.Live = true
		info.BroadcastID, _ = jsonutil.IntFromAny(resp.User.Stream.ID)
		info.Game = resp.User.Stream.Game.toModel()
		info.Viewers = resp.User.Stream.ViewersCount
	}
	return info, nil
}

// CurrentDropInfo is the server's view of the drop currently progressing for
// this session.
type CurrentDropInfo struct {
	DropID          string
	CurrentMinutes  int
	RequiredMinutes int
}

// CurrentDrop fetches the authoritative current-session drop for the watched
// channel. Returns nil when no drop session is active.
func (c *Client) CurrentDrop(ctx context.Context, channelID int) (*CurrentDropInfo, error) {
	data, err := c.Do(ctx, constants.GQLCurrentDrop.WithVars(map[string]any{
		"channelID": strconv.Itoa(channelID),
	}))
	if err != nil {
		return nil, err
	}

	var resp struct {
		CurrentUser *struct {
			DropCurrentSession *struct {
				DropID                 string `json:"dropID"`
				CurrentMinutesWatched  int    `json:"currentMinutesWatched"`
				RequiredMinutesWatched int    `json:"requiredMinutesWatched"`
			} `json:"dropCurrentSession"`
		} `json:"currentUser"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gql: parsing current drop: %w", err)
	}
	if resp.CurrentUser == nil || resp.CurrentUser.DropCurrentSession == nil {
		return nil, nil
	}

	session := resp.CurrentUser.DropCurrentSession
	return &CurrentDropInfo{
		DropID:          session.DropID,
		CurrentMinutes:  session.CurrentMinutesWatched,
		RequiredMinutes: session.RequiredMinutesWatched,
	}, nil
}

// DirectoryStream is one live channel from a game directory listing.
type DirectoryStream struct {
	ChannelID   int
	Login       string
	DisplayName string
	Viewers     int
}

// GameDirectory fetches the first page of live drops-enabled streams for a
// game slug, most relevant first. Returns nil when the slug resolves to no
// game; callers can retry through SlugRedirect.
func (c *Client) GameDirectory(ctx context.Context, slug string, limit int) ([]DirectoryStream, error) {
	data, err := c.Do(ctx, constants.GQLGameDirectory.WithVars(map[string]any{
		"slug":  slug,
		"limit": limit,
	}))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Game *struct {
			Streams *struct {
				Edges []struct {
					Node struct {
						ID           any `json:"id"`
						ViewersCount int `json:"viewersCount"`
						Broadcaster  *struct {
							ID          any    `json:"id"`
							Login       string `json:"login"`
							DisplayName string `json:"displayName"`
						} `json:"broadcaster"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"streams"`
		} `json:"game"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gql: parsing game directory: %w", err)
	}
	if resp.Game == nil || resp.Game.Streams == nil {
		return nil, nil
	}

	streams := make([]DirectoryStream, 0, len(resp.Game.Streams.Edges))
	for _, edge := range resp.Game.Streams.Edges {
		b := edge.Node.Broadcaster
		if b == nil {
			continue
		}
		id, err := jsonutil.IntFromAny(b.ID)
		if err != nil || id == 0 {
			continue
		}
		streams = append(streams, DirectoryStream{
			ChannelID:   id,
			Login:       b.Login,
			DisplayName: b.DisplayName,
			Viewers:     edge.Node.ViewersCount,
		})
	}
	return streams, nil
}

// SlugRedirect resolves a game name to its current directory slug. Returns
// an empty slug when the game is unknown.
func (c *Client) SlugRedirect(ctx context.Context, name string) (string, error) {
	data, err := c.Do(ctx, constants.GQLSlugRedirect.WithVars(map[string]any{
		"name": name,
	}))
	if err != nil {
		return "", err
	}

	var resp struct {
		Game *struct {
			ID   any    `json:"id"`
			Slug string `json:"slug"`
		} `json:"game"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("gql: parsing slug redirect: %w", err)
	}
	if resp.Game == nil {
		return "", nil
	}
	return resp.Game.Slug, nil
}

// ClaimDrop claims a drop instance. Returns true when the platform considers
// the drop claimed, including when it had already been claimed before.
func (c *Client) ClaimDrop(ctx context.Context, claimID string) (bool, error) {
	data, err := c.Do(ctx, constants.GQLClaimDrop.WithVars(map[string]any{
		"input": map[string]any{"dropInstanceID": claimID},
	}))
	if err != nil {
		return false, err
	}

	var resp struct {
		ClaimDropRewards *struct {
			Status string `json:"status"`
		} `json:"claimDropRewards"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, fmt.Errorf("gql: parsing claim response: %w", err)
	}
	if resp.ClaimDropRewards == nil {
		return false, nil
	}

	switch resp.ClaimDropRewards.Status {
	case "ELIGIBLE_FOR_ALL", "DROP_INSTANCE_ALREADY_CLAIMED":
		return true, nil
	default:
		return false, nil
	}
}

// ClaimCommunityPoints claims an available community points bonus.
func (c *Client) ClaimCommunityPoints(ctx context.Context, claimID string, channelID int) error {
	_, err := c.Do(ctx, constants.GQLClaimCommunityPoints.WithVars(map[string]any{
		"input": map[string]any{
			"claimID":   claimID,
			"channelID": strconv.Itoa(channelID),
		},
	}))
	return err
}

// PointsContext is the community points state for one channel.
type PointsContext struct {
	Balance          int
	AvailableClaimID string
}

// ChannelPointsContext fetches the points balance and any pending bonus claim
// for a channel. Returns nil when the channel does not exist.
func (c *Client) ChannelPointsContext(ctx context.Context, login string) (*PointsContext, error) {
	data, err := c.Do(ctx, constants.GQLChannelPointsContext.WithVars(map[string]any{
		"channelLogin": login,
	}))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Community *struct {
			Channel *struct {
				Self *struct {
					CommunityPoints *struct {
						Balance        int `json:"balance"`
						AvailableClaim *struct {
							ID string `json:"id"`
						} `json:"availableClaim"`
					} `json:"communityPoints"`
				} `json:"self"`
			} `json:"channel"`
		} `json:"community"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gql: parsing points context: %w", err)
	}
	if resp.Community == nil || resp.Community.Channel == nil ||
		resp.Community.Channel.Self == nil || resp.Community.Channel.Self.CommunityPoints == nil {
		return nil, nil
	}

	points := resp.Community.Channel.Self.CommunityPoints
	out := &PointsContext{Balance: points.Balance}
	if points.AvailableClaim != nil {
		out.AvailableClaimID = points.AvailableClaim.ID
	}
	return out, nil
}
