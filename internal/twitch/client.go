// Package twitch covers the two non-GQL platform surfaces the miner needs:
// scraping a channel's spade telemetry endpoint and posting minute-watched
// heartbeats to it.
package twitch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
)

var (
	settingsURLRegex = regexp.MustCompile(`src="(https://(?:static\.twitchcdn\.net|assets\.twitch\.tv)/config/settings\.[0-9a-f]{32}\.js)"`)
	spadeURLRegex    = regexp.MustCompile(`"spade_url":"(https://video-edge-[.\w\-/]+\.ts)"`)
)

// spadeCacheTTL is how long a scraped spade URL stays reusable. Channel
// objects are rebuilt on every inventory cycle; the cache carries the URL
// across rebuilds so the channel page is not re-scraped each time.
const spadeCacheTTL = 6 * time.Hour

type spadeCache struct {
	mu      sync.Mutex
	entries map[string]spadeCacheEntry
}

type spadeCacheEntry struct {
	url       string
	fetchedAt time.Time
}

func (sc *spadeCache) get(login string) (string, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	entry, ok := sc.entries[login]
	if !ok {
		return "", false
	}
	if time.Since(entry.fetchedAt) > spadeCacheTTL {
		delete(sc.entries, login)
		return "", false
	}
	return entry.url, true
}

func (sc *spadeCache) set(login, spadeURL string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.entries[login] = spadeCacheEntry{url: spadeURL, fetchedAt: time.Now()}
	for key, entry := range sc.entries {
		if time.Since(entry.fetchedAt) > spadeCacheTTL {
			delete(sc.entries, key)
		}
	}
}

// Client scrapes spade URLs and sends watch heartbeats over the shared
// transport.
type Client struct {
	http  *transport.Client
	log   *logger.Logger
	spade *spadeCache
}

// NewClient creates a twitch web client.
func NewClient(httpClient *transport.Client, log *logger.Logger) *Client {
	return &Client{
		http:  httpClient,
		log:   log,
		spade: &spadeCache{entries: make(map[string]spadeCacheEntry)},
	}
}

// FetchSpadeURL resolves the spade telemetry endpoint for a channel: the
// channel page references a settings bundle, and the bundle carries the
// spade URL.
func (c *Client) FetchSpadeURL(ctx context.Context, login string) (string, error) {
	if cached, ok := c.spade.get(login); ok {
		return cached, nil
	}

	pageURL := fmt.Sprintf("%s/%s", constants.TwitchURL, login)
	page, err := c.fetchBody(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("fetching channel page for %s: %w", login, err)
	}

	settingsMatch := settingsURLRegex.FindSubmatch(page)
	if settingsMatch == nil {
		return "", fmt.Errorf("settings bundle URL not found on %s", pageURL)
	}

	settings, err := c.fetchBody(ctx, string(settingsMatch[1]))
	if err != nil {
		return "", fmt.Errorf("fetching settings bundle for %s: %w", login, err)
	}

	spadeMatch := spadeURLRegex.FindSubmatch(settings)
	if spadeMatch == nil {
		return "", fmt.Errorf("spade_url not found in settings bundle for %s", login)
	}

	spadeURL := string(spadeMatch[1])
	c.spade.set(login, spadeURL)
	c.log.Debug("Resolved spade URL", "channel", login, "spade_url", spadeURL)
	return spadeURL, nil
}

// fetchBody GETs a URL and returns the full response body.
func (c *Client) fetchBody(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.http.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

type watchEvent struct {
	Event      string          `json:"event"`
	Properties watchProperties `json:"properties"`
}

type watchProperties struct {
	ChannelID   int    `json:"channel_id"`
	BroadcastID int    `json:"broadcast_id"`
	Player      string `json:"player"`
	UserID      int    `json:"user_id"`
}

// EncodeWatchPayload builds the base64 form value carried by a watch
// heartbeat.
func EncodeWatchPayload(channelID, broadcastID, userID int) (string, error) {
	events := []watchEvent{{
		Event: "minute-watched",
		Properties: watchProperties{
			ChannelID:   channelID,
			BroadcastID: broadcastID,
			Player:      "site",
			UserID:      userID,
		},
	}}
	raw, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshaling watch payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// SendWatch posts one minute-watched heartbeat to a channel's spade URL.
// The server acknowledges with 204. A heartbeat that cannot complete before
// the next beat is due is abandoned as transport.ErrRequestInvalid.
func (c *Client) SendWatch(ctx context.Context, spadeURL string, channelID, broadcastID, userID int) error {
	payload, err := EncodeWatchPayload(channelID, broadcastID, userID)
	if err != nil {
		return err
	}
	form := url.Values{"data": {payload}}

	resp, err := c.http.Do(ctx, transport.Request{
		Method:   http.MethodPost,
		URL:      spadeURL,
		Headers:  map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:     []byte(form.Encode()),
		Deadline: time.Now().Add(constants.WatchInterval),
	})
	if err != nil {
		return fmt.Errorf("sending watch heartbeat: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("watch heartbeat returned status %d", resp.StatusCode)
	}
	return nil
}
