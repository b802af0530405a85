package auth

import "context"

// Provider is the session interface consumed by the GQL client, the
// websocket pool and the miner. *Client satisfies it.
type Provider interface {
	Validate(ctx context.Context) error
	AccessToken() string
	UserID() int
	Login() string
	Headers(gql bool) map[string]string
	Invalidate()
}
