// Package transport provides the shared HTTP layer for all Twitch calls:
// a cookie-persisting client with exponential-backoff retries, optional
// proxy support, and a websocket dialer reusing the same transport.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
)

// ErrRequestInvalid is returned by Do when the request's deadline is too
// close for the call to complete within the client timeout. The caller is
// expected to refresh its auth state and retry with a fresh deadline.
var ErrRequestInvalid = errors.New("request deadline too close to complete")

// maxResponseBytes caps how much of any response body is read into memory.
const maxResponseBytes = 4 << 20

// surfaceAfter is the attempt count at which an ongoing retry loop is
// reported to the log, so a flaky network produces one line, not spam.
const surfaceAfter = 3

// Request describes a single HTTP call. Headers are set on top of the client
// defaults. A non-zero Deadline marks the point after which the response is
// useless to the caller (e.g. an auth window closing).
type Request struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     []byte
	Deadline time.Time
}

// Client wraps *http.Client with a persistent cookie jar, retries with
// exponential backoff, and a websocket dialer sharing the same proxy and
// cookies. All methods are safe for concurrent use.
type Client struct {
	jar       *Jar
	http      *http.Client
	wsHTTP    *http.Client
	log       *logger.Logger
	userAgent string
}

// Options configure a Client.
type Options struct {
	// CookieFile is the JSON file the cookie jar persists to.
	CookieFile string
	// Proxy is an optional proxy URL (http, https or socks5). When empty,
	// the standard environment proxy variables apply.
	Proxy string
	// UserAgent overrides the default browser user agent.
	UserAgent string
}

// NewClient builds a Client, loading any previously persisted cookies.
func NewClient(opts Options, log *logger.Logger) (*Client, error) {
	jar := NewJar(opts.CookieFile)
	if err := jar.Load(); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	proxy := http.ProxyFromEnvironment
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("transport: parsing proxy url %q: %w", opts.Proxy, err)
		}
		proxy = http.ProxyURL(proxyURL)
	}

	tr := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout: constants.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: constants.ConnectTimeout,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = constants.DefaultUserAgent
	}

	return &Client{
		jar: jar,
		http: &http.Client{
			Transport: tr,
			Jar:       jar,
			Timeout:   constants.RequestTimeout,
		},
		// The websocket handshake is bounded by context, not client timeout;
		// a client timeout would kill the connection after it is established.
		wsHTTP: &http.Client{
			Transport: tr,
			Jar:       jar,
		},
		log:       log,
		userAgent: userAgent,
	}, nil
}

// Do performs the request, retrying transport errors and HTTP 5xx with
// exponential backoff (initial 1 s, doubling, capped at 3 min) until the
// context is cancelled. 4xx responses are returned to the caller unretried.
// The response body is fully read and rewrapped, so callers can consume it
// without touching the network.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = constants.BackoffCap
	bo.MaxElapsedTime = 0

	var resp *http.Response
	attempt := 0
	operation := func() error {
		attempt++

		if !req.Deadline.IsZero() && time.Now().After(req.Deadline.Add(-constants.RequestTimeout)) {
			return backoff.Permanent(ErrRequestInvalid)
		}

		r, err := c.attempt(ctx, req)
		if err != nil {
			if attempt == surfaceAfter {
				c.log.Warn("No connection to Twitch, retrying",
					"url", req.URL,
					"error", err)
			}
			return err
		}

		if r.StatusCode >= http.StatusInternalServerError {
			if attempt == surfaceAfter {
				c.log.Warn("Twitch is down, retrying",
					"url", req.URL,
					"status", r.StatusCode)
			}
			return fmt.Errorf("status %d", r.StatusCode)
		}

		resp = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, ErrRequestInvalid) {
			return nil, ErrRequestInvalid
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("transport: %s %s: %w", req.Method, req.URL, err)
	}
	return resp, nil
}

// Get fetches a URL with the default headers via Do.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

func (c *Client) attempt(ctx context.Context, req Request) (*http.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

// DialWebsocket opens a websocket connection through the same proxy and
// cookie jar as regular requests. The handshake is bounded by the request
// timeout; deadlines after that are the caller's business.
func (c *Client) DialWebsocket(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPClient: c.wsHTTP,
		HTTPHeader: http.Header{"User-Agent": []string{c.userAgent}},
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", wsURL, err)
	}
	return conn, nil
}

// Jar returns the persistent cookie jar.
func (c *Client) Jar() *Jar {
	return c.jar
}

// SaveCookies flushes the cookie jar to disk. Called after auth changes and
// on shutdown.
func (c *Client) SaveCookies() error {
	return c.jar.Save()
}

// UserAgent returns the user agent sent with every request.
func (c *Client) UserAgent() string {
	return c.userAgent
}
