// Package auth manages the Twitch session: access token, device id, session
// id, client version and user id, persisted through the shared cookie jar.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
)

// ErrLoginRequired is returned when no credential source produced a usable
// access token.
var ErrLoginRequired = errors.New("auth: login required")

// buildIDRegex extracts the current client build from the landing page HTML.
var buildIDRegex = regexp.MustCompile(`twilightBuildID="([-a-z0-9]+)"`)

// Config seeds the Client with credentials from settings.
type Config struct {
	// Username is the expected account login. When set, Validate fails if
	// the token belongs to a different account.
	Username string
	// AuthToken seeds the access token when no cookie is stored.
	AuthToken string
	// Password enables the password login flow when set.
	Password string
}

// Client holds the session attributes every Twitch call needs. Validate
// derives the missing ones; everything else is a cheap accessor.
type Client struct {
	mu sync.Mutex

	http *transport.Client
	log  *logger.Logger
	cfg  Config

	validated     bool
	accessToken   string
	refreshToken  string
	userID        int
	login         string
	deviceID      string
	sessionID     string
	clientVersion string
}

// NewClient creates an auth client on top of the shared transport.
func NewClient(cfg Config, httpClient *transport.Client, log *logger.Logger) *Client {
	return &Client{
		http: httpClient,
		log:  log,
		cfg:  cfg,
	}
}

// Validate ensures the session is complete: session id, device id, client
// version, access token and user id. It is serialized so concurrent callers
// observe a single refresh. A 401 from the validate endpoint clears the
// Twitch domain cookies and retries once before escalating to login.
func (c *Client) Validate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.validated {
		return nil
	}

	if c.sessionID == "" {
		c.sessionID = GenerateHex(8)
	}
	if c.clientVersion == "" || c.deviceID == "" {
		c.scrapeLandingPage(ctx)
	}

	rejected := make(map[string]bool)
	for attempt := 0; attempt < 3; attempt++ {
		token := c.accessToken
		if token == "" || rejected[token] {
			token = c.http.Jar().Get("auth-token")
		}
		if (token == "" || rejected[token]) && c.cfg.AuthToken != "" {
			token = c.cfg.AuthToken
		}
		if token == "" || rejected[token] {
			if err := c.runLogin(ctx); err != nil {
				return err
			}
			token = c.accessToken
		}
		c.accessToken = token

		status, err := c.checkToken(ctx)
		if err != nil {
			return err
		}

		switch {
		case status == http.StatusOK:
			c.persistSession()
			c.validated = true
			c.log.Info("Session validated",
				"login", c.login,
				"user_id", c.userID)
			return nil

		case status == http.StatusUnauthorized:
			c.log.Warn("Access token rejected, clearing session cookies",
				"attempt", attempt+1)
			rejected[token] = true
			c.accessToken = ""
			if rt := c.http.Jar().Get("refresh-token"); rt != "" {
				c.refreshToken = rt
			}
			c.http.Jar().ClearDomain("twitch.tv")

		default:
			return fmt.Errorf("auth: token validation returned status %d", status)
		}
	}

	return ErrLoginRequired
}

// checkToken calls the OAuth validate endpoint and fills login and user id
// on success. It returns the HTTP status so the caller can tell 401 apart.
// Must be called with mu held.
func (c *Client) checkToken(ctx context.Context) (int, error) {
	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     constants.OAuthValidateURL,
		Headers: map[string]string{"Authorization": "OAuth " + c.accessToken},
	})
	if err != nil {
		return 0, fmt.Errorf("auth: validating token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}

	var result struct {
		Login  string `json:"login"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("auth: decoding validate response: %w", err)
	}

	if c.cfg.Username != "" && !strings.EqualFold(result.Login, c.cfg.Username) {
		return 0, fmt.Errorf("auth: authenticated as %q but settings expect %q",
			result.Login, c.cfg.Username)
	}

	userID, err := strconv.Atoi(result.UserID)
	if err != nil || userID == 0 {
		return 0, fmt.Errorf("auth: validate returned unusable user id %q", result.UserID)
	}

	c.login = result.Login
	c.userID = userID
	return http.StatusOK, nil
}

// scrapeLandingPage fills clientVersion from the twilightBuildID marker and
// deviceID from the unique_id cookie set by the same request. Failures fall
// back to the pinned version and a random device id. Must be called with mu
// held.
func (c *Client) scrapeLandingPage(ctx context.Context) {
	resp, err := c.http.Get(ctx, constants.TwitchURL)
	if err != nil {
		c.log.Warn("Failed to fetch Twitch landing page", "error", err)
	} else {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr == nil {
			if m := buildIDRegex.FindSubmatch(body); len(m) == 2 {
				c.clientVersion = string(m[1])
				c.log.Debug("Scraped client version", "version", c.clientVersion)
			}
		}
	}

	if c.deviceID == "" {
		c.deviceID = c.http.Jar().Get("unique_id")
	}
	if c.deviceID == "" {
		c.deviceID = randomString(32)
		c.log.Debug("Generated device id", "device_id", c.deviceID)
	}
	if c.clientVersion == "" {
		c.clientVersion = constants.ClientVersion
	}
}

// persistSession writes the session cookies back to the jar and saves it.
// Must be called with mu held.
func (c *Client) persistSession() {
	jar := c.http.Jar()
	jar.Set("auth-token", c.accessToken)
	if c.userID != 0 {
		jar.Set("persistent", strconv.Itoa(c.userID))
	}
	if err := c.http.SaveCookies(); err != nil {
		c.log.Warn("Failed to save cookies", "error", err)
	}
}

// Headers returns the standard request header set. With gql true the OAuth
// authorization header is included.
func (c *Client) Headers(gql bool) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := map[string]string{
		"Client-Id":         constants.ClientID,
		"Client-Session-Id": c.sessionID,
		"Client-Version":    c.clientVersion,
		"X-Device-Id":       c.deviceID,
		"User-Agent":        constants.DefaultUserAgent,
	}
	if gql {
		h["Authorization"] = "OAuth " + c.accessToken
		h["Origin"] = constants.TwitchURL
		h["Referer"] = constants.TwitchURL
	}
	return h
}

// Invalidate drops the in-memory token so the next Validate refreshes the
// whole session.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validated = false
	c.accessToken = ""
}

// AccessToken returns the current OAuth token.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// UserID returns the authenticated user's numeric id, 0 before Validate.
func (c *Client) UserID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Login returns the authenticated account's login name.
func (c *Client) Login() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login
}

// DeviceID returns the device id sent with API requests.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// SessionID returns the per-run client session id.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// GenerateHex returns a random hex string of 2*numBytes characters.
func GenerateHex(numBytes int) string {
	randomBytes := make([]byte, numBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return strings.Repeat("0", numBytes*2)
	}
	return fmt.Sprintf("%x", randomBytes)
}

// GenerateNonce returns the 30-character alphanumeric nonce sent with every
// non-PING pubsub frame.
func GenerateNonce() string {
	return randomString(30)
}

const randomCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		for i := range b {
			b[i] = randomCharset[i%len(randomCharset)]
		}
		return string(b)
	}
	for i := range b {
		b[i] = randomCharset[int(b[i])%len(randomCharset)]
	}
	return string(b)
}
