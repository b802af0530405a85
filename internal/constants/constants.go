// Package constants defines the Twitch endpoints, client identifiers,
// persisted GQL operations, PubSub topic formats, and the timing/limit
// values that drive the mining control plane.
package constants

import "time"

const (
	// TwitchURL is the base Twitch web URL.
	TwitchURL = "https://www.twitch.tv"
	// PubSubURL is the Twitch PubSub WebSocket endpoint.
	PubSubURL = "wss://pubsub-edge.twitch.tv/v1"
	// GQLURL is the Twitch GraphQL API endpoint.
	GQLURL = "https://gql.twitch.tv/gql"
	// OAuthValidateURL reports the user attached to an access token.
	OAuthValidateURL = "https://id.twitch.tv/oauth2/validate"
	// DeviceCodeURL is the Twitch OAuth2 device code endpoint.
	DeviceCodeURL = "https://id.twitch.tv/oauth2/device"
	// TokenURL is the Twitch OAuth2 token endpoint.
	TokenURL = "https://id.twitch.tv/oauth2/token"
	// LoginURL is the Twitch passport login endpoint.
	LoginURL = "https://passport.twitch.tv/login"
	// IRCURL is the Twitch IRC chat server hostname.
	IRCURL = "irc.chat.twitch.tv"
)

// DeviceCodeScopes are the OAuth scopes requested during device code authorization.
const DeviceCodeScopes = "channel_read chat:read user_blocks_edit user_blocks_read user_follows_edit user_read"

const (
	// ClientID is the web client ID sent with every GQL request.
	ClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"
	// ClientIDSmartTV is the client ID used for the device-code login flow.
	ClientIDSmartTV = "ue6666qo983tsx6so1t0vnawi233wa"
	// ClientVersion is the fallback client build ID, used until the live one
	// is scraped from the landing page.
	ClientVersion = "ef928475-9403-42f2-8a34-55784bd08e16"

	// DropsEnabledTag marks directory streams that currently have Drops enabled.
	DropsEnabledTag = "c2542d6d-cd10-4532-919b-3d19f30a768b"
)

// DefaultUserAgent is the user-agent string used for every outbound request.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const (
	// MaxWebsockets is the maximum number of PubSub WebSocket connections.
	MaxWebsockets = 8
	// WSTopicsLimit is the maximum number of topics per PubSub connection.
	WSTopicsLimit = 50
	// MaxChannels is the candidate-set ceiling: the pool capacity minus the
	// two per-user topics that are always subscribed.
	MaxChannels = MaxWebsockets*WSTopicsLimit - 2
	// CampaignDetailsChunk is how many campaign detail fetches run per batch.
	CampaignDetailsChunk = 20
)

const (
	// TopicUserDrops carries drop-progress and drop-claim events for the user.
	TopicUserDrops = "user-drop-events"
	// TopicUserPoints carries community-points events for the user.
	TopicUserPoints = "community-points-user-v1"
	// TopicStreamState carries stream up/down and viewer counts for a channel.
	TopicStreamState = "video-playback-by-id"
)

const (
	// PingInterval is the spacing between PubSub PING frames.
	PingInterval = 3 * time.Minute
	// PingTimeout is how long after a PING a PONG must arrive.
	PingTimeout = 10 * time.Second
	// WatchInterval is the spacing between minute-watched heartbeats.
	WatchInterval = 59 * time.Second
	// OnlineDelay is how long a stream-up event is held before the channel
	// is confirmed online (streams take a while to settle after going live).
	OnlineDelay = 120 * time.Second
	// MaxExtraMinutes caps the locally estimated minutes a drop may accrue
	// without an authoritative progress update before the channel is dropped.
	MaxExtraMinutes = 5

	// ConnectTimeout bounds connection establishment for every HTTP call.
	ConnectTimeout = 5 * time.Second
	// RequestTimeout bounds every HTTP call end to end.
	RequestTimeout = 10 * time.Second
	// BackoffCap is the maximum interval between transport retries and
	// between WebSocket reconnect attempts.
	BackoffCap = 3 * time.Minute

	// ClaimSettleDelay absorbs server-side propagation lag after a claim
	// before the current-drop confirmation polls start.
	ClaimSettleDelay = 4 * time.Second
	// ClaimConfirmAttempts is how many current-drop polls follow a claim.
	ClaimConfirmAttempts = 8
	// ClaimConfirmInterval is the spacing between confirmation polls.
	ClaimConfirmInterval = 2 * time.Second

	// MaintenancePeriod is the base wake interval of the maintenance task.
	MaintenancePeriod = 30 * time.Minute
	// MaintenanceBudget is how long the maintenance task runs before it
	// forces a full inventory fetch.
	MaintenanceBudget = time.Hour
)

// GQLOperation identifies a persisted GraphQL query by operation name and
// SHA256 hash, optionally carrying a variables template.
type GQLOperation struct {
	OperationName string
	SHA256Hash    string
	Variables     map[string]any
}

// WithVars returns a copy of the operation with the given variables merged
// over the template. The receiver is not modified.
func (op GQLOperation) WithVars(vars map[string]any) GQLOperation {
	merged := make(map[string]any, len(op.Variables)+len(vars))
	for k, v := range op.Variables {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	op.Variables = merged
	return op
}

// Persisted GQL operations consumed by the mining core.
var (
	GQLInventory = GQLOperation{
		OperationName: "Inventory",
		SHA256Hash:    "09acb7d3d7e605a92bdfdcc465f6aa481b71c234d8686a9ba38ea5ed51507592",
		Variables:     map[string]any{"fetchRewardCampaigns": false},
	}
	GQLCampaigns = GQLOperation{
		OperationName: "ViewerDropsDashboard",
		SHA256Hash:    "5a4da2ab3d5b47c9f9ce864e727b2cb346af1e3ea8b897fe8f704a97ff017619",
		Variables:     map[string]any{"fetchRewardCampaigns": false},
	}
	GQLCampaignDetails = GQLOperation{
		OperationName: "DropCampaignDetails",
		SHA256Hash:    "039277bf98f3130929262cc7c6efd9c141ca3749cb6dca442fc8ead9a53f77c1",
	}
	GQLGetStreamInfo = GQLOperation{
		OperationName: "VideoPlayerStreamInfoOverlayChannel",
		SHA256Hash:    "198492e0857f6aedead9665c81c5a06d67b25b58034649687124083ff288597d",
	}
	GQLCurrentDrop = GQLOperation{
		OperationName: "DropCurrentSessionContext",
		SHA256Hash:    "4d06b702d25d652afb9ef835d2a550031f1cf762b193523a92166f40ea3d142b",
		Variables:     map[string]any{"channelID": "", "channelLogin": ""},
	}
	GQLGameDirectory = GQLOperation{
		OperationName: "DirectoryPage_Game",
		SHA256Hash:    "df4bb6cc45055237bfaf3ead608bbafb79815c7100b6ee126719fac2a3924f8b",
		Variables: map[string]any{
			"limit":            30,
			"slug":             "",
			"imageWidth":       50,
			"options":          map[string]any{"broadcasterLanguages": []any{}, "freeformTags": nil, "includeRestricted": []any{"SUB_ONLY_LIVE"}, "recommendationsContext": map[string]any{"platform": "web"}, "sort": "RELEVANCE", "tags": []any{DropsEnabledTag}, "requestID": "JIRA-VXP-2397"},
			"sortTypeIsRecency": false,
		},
	}
	GQLSlugRedirect = GQLOperation{
		OperationName: "DirectoryGameRedirect",
		SHA256Hash:    "1f0300090caceec51f33c5e20647aceff9017f740f223c3c532ba6fa59f6b6cc",
	}
	GQLClaimDrop = GQLOperation{
		OperationName: "DropsPage_ClaimDropRewards",
		SHA256Hash:    "a455deea71bdc9015b78eb49f4acfbce8baa7ccbedd28e549bb025bd0f751930",
	}
	GQLClaimCommunityPoints = GQLOperation{
		OperationName: "ClaimCommunityPoints",
		SHA256Hash:    "46aaeebe02c99afdf4fc97c7c0cba964124bf6b0af229395f1f6d1feed05b3d0",
	}
	GQLChannelPointsContext = GQLOperation{
		OperationName: "ChannelPointsContext",
		SHA256Hash:    "374314de591e69925fce3ddc2bcf085796f56ebb8cad67a0daa3165c03adc345",
	}
)
