package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
)

// deviceCodeResponse is the response from the device code endpoint.
type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
}

// tokenResponse is a successful response from the token endpoint.
type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	ExpiresIn    int      `json:"expires_in"`
	RefreshToken string   `json:"refresh_token"`
	Scope        []string `json:"scope"`
	TokenType    string   `json:"token_type"`
}

// tokenErrorResponse is an error response from the token endpoint.
type tokenErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// loginWithDeviceCode runs the TV-style device code flow: request a code,
// show the verification URL and poll the token endpoint until the user
// authorizes the device or the code expires. Uses the SmartTV client id,
// which is exempt from integrity checks. Must be called with mu held.
func (c *Client) loginWithDeviceCode(ctx context.Context) error {
	dc, err := c.requestDeviceCode(ctx)
	if err != nil {
		return fmt.Errorf("auth: requesting device code: %w", err)
	}

	fmt.Println()
	fmt.Println("📺 Device Code Login")
	fmt.Println("─────────────────────────────────────")
	fmt.Printf("Go to: %s\n", dc.VerificationURI)
	fmt.Printf("Enter code: %s\n", dc.UserCode)
	fmt.Println("─────────────────────────────────────")
	fmt.Println("Waiting for authorization...")
	fmt.Println()

	token, err := c.pollForToken(ctx, dc.DeviceCode, dc.Interval, dc.ExpiresIn)
	if err != nil {
		return fmt.Errorf("auth: polling for token: %w", err)
	}

	c.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.refreshToken = token.RefreshToken
		c.http.Jar().Set("refresh-token", token.RefreshToken)
	}

	c.log.Info("Authorized via device code flow")
	return nil
}

func (c *Client) requestDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	form := url.Values{
		"client_id": {constants.ClientIDSmartTV},
		"scopes":    {constants.DeviceCodeScopes},
	}

	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     constants.DeviceCodeURL,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading device code response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device code request returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var dc deviceCodeResponse
	if err := json.Unmarshal(body, &dc); err != nil {
		return nil, fmt.Errorf("parsing device code response: %w", err)
	}
	if dc.DeviceCode == "" || dc.UserCode == "" {
		return nil, fmt.Errorf("device code response missing required fields")
	}

	return &dc, nil
}

// pollForToken polls the token endpoint at the server-provided interval
// until the user authorizes the device, the code expires, or the context is
// cancelled.
func (c *Client) pollForToken(ctx context.Context, deviceCode string, interval, expiresIn int) (*tokenResponse, error) {
	if interval <= 0 {
		interval = 5
	}

	deadline := time.Now().Add(time.Duration(expiresIn) * time.Second)
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("device code login cancelled: %w", ctx.Err())
		case t := <-ticker.C:
			if t.After(deadline) {
				return nil, fmt.Errorf("device code expired, please try again")
			}

			token, err := c.requestToken(ctx, deviceCode)
			if err != nil {
				return nil, err
			}
			if token != nil {
				return token, nil
			}
		}
	}
}

// requestToken makes a single token request. Returns (nil, nil) while the
// authorization is still pending.
func (c *Client) requestToken(ctx context.Context, deviceCode string) (*tokenResponse, error) {
	form := url.Values{
		"client_id":   {constants.ClientIDSmartTV},
		"device_code": {deviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}

	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     constants.TokenURL,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		var token tokenResponse
		if err := json.Unmarshal(body, &token); err != nil {
			return nil, fmt.Errorf("parsing token response: %w", err)
		}
		if token.AccessToken == "" {
			return nil, fmt.Errorf("token response missing access_token")
		}
		return &token, nil
	}

	if resp.StatusCode == http.StatusBadRequest {
		var errResp tokenErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, fmt.Errorf("parsing token error response: %w", err)
		}

		switch errResp.Message {
		case "authorization_pending":
			return nil, nil
		case "slow_down":
			c.log.Debug("Token endpoint requested slow down")
			return nil, nil
		case "expired_token":
			return nil, fmt.Errorf("device code expired, please try again")
		default:
			return nil, fmt.Errorf("token request failed: %s (status %d)",
				errResp.Message, errResp.Status)
		}
	}

	return nil, fmt.Errorf("token request returned unexpected HTTP %d: %s",
		resp.StatusCode, strings.TrimSpace(string(body)))
}

// refreshAccessToken exchanges the stored refresh token for a fresh access
// token. Must be called with mu held.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	c.log.Info("Refreshing access token")

	form := url.Values{
		"client_id":     {constants.ClientIDSmartTV},
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.refreshToken},
	}

	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     constants.TokenURL,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return fmt.Errorf("auth: sending refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("auth: reading refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: refresh request returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return fmt.Errorf("auth: parsing refresh response: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("auth: refresh response missing access_token")
	}

	c.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.refreshToken = token.RefreshToken
		c.http.Jar().Set("refresh-token", token.RefreshToken)
	}

	c.log.Info("Access token refreshed")
	return nil
}
