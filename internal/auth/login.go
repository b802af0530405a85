package auth

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
)

// ErrCaptcha is returned when Twitch demands a captcha during password
// login. It cannot be solved headlessly; use the device-code flow instead.
var ErrCaptcha = errors.New("auth: captcha required")

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ErrorCode   int    `json:"error_code"`
	ErrorMsg    string `json:"error"`
}

var loginErrorCodes = map[int]string{
	3001:  "invalid login credentials",
	3003:  "invalid login credentials",
	3011:  "two-factor authentication required (Authy)",
	3012:  "invalid two-factor code",
	3022:  "two-factor authentication required (email/SMS)",
	3023:  "invalid two-factor code",
	5023:  "too many login attempts, wait and try again",
	5027:  "integrity check failed",
	10001: "account locked, contact Twitch support",
}

// runLogin obtains a fresh access token: token refresh when a refresh token
// survives, then the password flow when credentials are available, then the
// device-code flow. Must be called with mu held.
func (c *Client) runLogin(ctx context.Context) error {
	if c.refreshToken != "" {
		err := c.refreshAccessToken(ctx)
		if err == nil {
			return nil
		}
		c.log.Warn("Token refresh failed", "error", err)
		c.refreshToken = ""
	}

	password := c.cfg.Password
	if password == "" && c.cfg.Username != "" && isInteractiveTerminal() {
		pw, err := promptPassword(fmt.Sprintf(
			"Password for %s (leave empty for device-code login): ", c.cfg.Username))
		if err == nil {
			password = strings.TrimSpace(pw)
		}
	}

	if password != "" && c.cfg.Username != "" {
		err := c.loginWithPassword(ctx, password)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCaptcha) {
			return err
		}
		c.log.Warn("Password login failed, falling back to device code", "error", err)
	}

	return c.loginWithDeviceCode(ctx)
}

// loginWithPassword performs the passport login flow, handling 2FA
// challenges (Authy and email/SMS codes). On success the access token is
// stored in memory; the caller validates and persists it.
func (c *Client) loginWithPassword(ctx context.Context, password string) error {
	c.log.Info("Attempting password login", "username", c.cfg.Username)

	payload := map[string]any{
		"username":      c.cfg.Username,
		"password":      password,
		"client_id":     constants.ClientID,
		"undelete_user": false,
		"remember_me":   true,
	}

	resp, err := c.sendLoginRequest(ctx, payload)
	if err != nil {
		return err
	}

	switch resp.ErrorCode {
	case 1000:
		return fmt.Errorf("%w: solve it in a browser or use the device-code flow", ErrCaptcha)
	case 3011, 3012:
		return c.handle2FA(ctx, payload, "authy_token", "Authy 2FA")
	case 3022, 3023:
		return c.handle2FA(ctx, payload, "twitchguard_code", "email/SMS 2FA")
	}

	if resp.AccessToken != "" {
		c.accessToken = resp.AccessToken
		return nil
	}

	return loginError(resp)
}

// handle2FA prompts for a second-factor code and repeats the login request
// with it attached.
func (c *Client) handle2FA(ctx context.Context, basePayload map[string]any, tokenKey, label string) error {
	c.log.Info("Two-factor authentication required", "type", label)

	code, err := promptLine(fmt.Sprintf("Enter your %s code: ", label))
	if err != nil {
		return fmt.Errorf("auth: reading 2FA code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("auth: 2FA code cannot be empty")
	}

	payload := make(map[string]any, len(basePayload)+1)
	for k, v := range basePayload {
		payload[k] = v
	}
	payload[tokenKey] = code

	resp, err := c.sendLoginRequest(ctx, payload)
	if err != nil {
		return err
	}

	if resp.ErrorCode == 1000 {
		return fmt.Errorf("%w: solve it in a browser or use the device-code flow", ErrCaptcha)
	}
	if resp.AccessToken != "" {
		c.accessToken = resp.AccessToken
		return nil
	}

	return loginError(resp)
}

func (c *Client) sendLoginRequest(ctx context.Context, payload map[string]any) (*loginResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("auth: marshaling login payload: %w", err)
	}

	resp, err := c.http.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    constants.LoginURL,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Client-Id":    constants.ClientID,
			"X-Device-Id":  c.deviceID,
		},
		Body: body,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: sending login request: %w", err)
	}
	defer resp.Body.Close()

	var result loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("auth: parsing login response: %w", err)
	}
	return &result, nil
}

func loginError(resp *loginResponse) error {
	if desc, ok := loginErrorCodes[resp.ErrorCode]; ok {
		return fmt.Errorf("auth: login failed (code %d): %s", resp.ErrorCode, desc)
	}
	if resp.ErrorMsg != "" {
		return fmt.Errorf("auth: login failed: %s (code %d)", resp.ErrorMsg, resp.ErrorCode)
	}
	return fmt.Errorf("auth: login failed with unknown error code %d", resp.ErrorCode)
}

func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptPassword reads a password from stdin without echoing it.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
