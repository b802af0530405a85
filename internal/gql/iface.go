package gql

import (
	"context"
	"encoding/json"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/model"
)

// Operations is the interface for all GQL query/mutation methods.
// *Client satisfies this interface.
type Operations interface {
	Do(ctx context.Context, op constants.GQLOperation) (json.RawMessage, error)
	DoBatch(ctx context.Context, ops []constants.GQLOperation) ([]json.RawMessage, error)

	FetchInventory(ctx context.Context) (*Inventory, error)
	Campaigns(ctx context.Context) ([]CampaignSummary, error)
	CampaignDetails(ctx context.Context, campaignIDs []string) ([]*model.Campaign, error)
	GetStreamInfo(ctx context.Context, login string) (*StreamInfo, error)
	CurrentDrop(ctx context.Context, channelID int) (*CurrentDropInfo, error)
	GameDirectory(ctx context.Context, slug string, limit int) ([]DirectoryStream, error)
	SlugRedirect(ctx context.Context, name string) (string, error)
	ClaimDrop(ctx context.Context, claimID string) (bool, error)
	ClaimCommunityPoints(ctx context.Context, claimID string, channelID int) error
	ChannelPointsContext(ctx context.Context, login string) (*PointsContext, error)
}
