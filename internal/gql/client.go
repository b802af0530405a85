// Package gql wraps the fixed catalog of Twitch persisted-query operations
// with single and batched execution, "service timeout" retry, and typed
// decoding of the payloads the miner consumes.
package gql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/auth"
	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
)

// serviceTimeoutDelay is the pause before resending a request that came back
// with a "service timeout" error. Those retry indefinitely.
const serviceTimeoutDelay = time.Second

// ErrUnauthorized marks a 401 response: the access token was rejected and
// has already been invalidated, so the caller should re-validate the session
// and retry.
var ErrUnauthorized = errors.New("gql: access token rejected")

// Error is a non-retryable GraphQL-level failure: the response carried a
// top-level errors list that is not the transient "service timeout".
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gql: %s: %s", e.Op, e.Message)
}

// Client executes persisted GQL operations over the shared transport.
type Client struct {
	http *transport.Client
	auth auth.Provider
	log  *logger.Logger
	url  string
}

// NewClient creates a GQL client bound to the given session.
func NewClient(provider auth.Provider, httpClient *transport.Client, log *logger.Logger) *Client {
	return &Client{
		http: httpClient,
		auth: provider,
		log:  log,
		url:  constants.GQLURL,
	}
}

type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    gqlExtensions  `json:"extensions"`
}

type gqlExtensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

type persistedQuery struct {
	Version    int    `json:"version"`
	SHA256Hash string `json:"sha256Hash"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Do executes a single operation and returns its data payload.
func (c *Client) Do(ctx context.Context, op constants.GQLOperation) (json.RawMessage, error) {
	results, err := c.exec(ctx, []constants.GQLOperation{op}, true)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// DoBatch executes several operations in one HTTP request (a JSON list) and
// returns their data payloads in order.
func (c *Client) DoBatch(ctx context.Context, ops []constants.GQLOperation) ([]json.RawMessage, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	return c.exec(ctx, ops, false)
}

func (c *Client) exec(ctx context.Context, ops []constants.GQLOperation, single bool) ([]json.RawMessage, error) {
	if err := c.auth.Validate(ctx); err != nil {
		return nil, err
	}

	reqs := make([]gqlRequest, len(ops))
	for i, op := range ops {
		reqs[i] = gqlRequest{
			OperationName: op.OperationName,
			Variables:     op.Variables,
			Extensions: gqlExtensions{
				PersistedQuery: persistedQuery{Version: 1, SHA256Hash: op.SHA256Hash},
			},
		}
	}

	var payload any = reqs
	if single {
		payload = reqs[0]
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gql: marshaling request: %w", err)
	}

	label := ops[0].OperationName
	if !single {
		label = fmt.Sprintf("%s[%d]", label, len(ops))
	}

	for {
		out, retry, err := c.post(ctx, body, label)
		if err != nil {
			return nil, err
		}
		if !retry {
			if len(out) != len(ops) {
				return nil, fmt.Errorf("gql: %s: expected %d responses, got %d",
					label, len(ops), len(out))
			}
			return out, nil
		}

		c.log.Debug("GQL service timeout, retrying", "operation", label)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(serviceTimeoutDelay):
		}
	}
}

// post sends one request body and decodes the response(s). The bool result
// asks the caller to resend the identical request after the timeout delay.
func (c *Client) post(ctx context.Context, body []byte, label string) ([]json.RawMessage, bool, error) {
	headers := c.auth.Headers(true)
	headers["Content-Type"] = "application/json"

	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     c.url,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, false, fmt.Errorf("gql: %s: %w", label, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("gql: %s: reading response: %w", label, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.auth.Invalidate()
		return nil, false, fmt.Errorf("%s: %w", label, ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("gql: %s: status %d: %s",
			label, resp.StatusCode, bytes.TrimSpace(raw))
	}

	raw = bytes.TrimSpace(raw)

	var responses []gqlResponse
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &responses); err != nil {
			return nil, false, fmt.Errorf("gql: %s: parsing batch response: %w", label, err)
		}
	} else {
		var r gqlResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, false, fmt.Errorf("gql: %s: parsing response: %w", label, err)
		}
		responses = []gqlResponse{r}
	}

	out := make([]json.RawMessage, len(responses))
	for i, r := range responses {
		for _, e := range r.Errors {
			if e.Message == "service timeout" {
				return nil, true, nil
			}
		}
		if len(r.Errors) > 0 {
			return nil, false, &Error{Op: label, Message: r.Errors[0].Message}
		}
		out[i] = r.Data
	}
	return out, false, nil
}
