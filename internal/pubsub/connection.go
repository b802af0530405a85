package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/Guliveer/twitch-drops-go/internal/auth"
	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/model"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
)

// errReconnect asks the connection loop to tear down the socket and redial.
var errReconnect = errors.New("reconnect requested")

const readLimit = 128 << 10

// State is the lifecycle phase of a single pubsub connection.
type State int

const (
	// StateConnecting covers the initial dial and every redial.
	StateConnecting State = iota
	// StateOpen means the socket is up and the three activity loops run.
	StateOpen
	// StateReconnecting is the backoff pause between a loss and a redial.
	StateReconnecting
	// StateClosed is terminal; the connection will not redial.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DispatchFunc consumes one parsed pubsub message. The connection invokes it
// on its own goroutine per message.
type DispatchFunc func(msg *model.Message)

// Connection is a single websocket to the PubSub server. It tracks the set
// of topics it should be subscribed to (desired) separately from the set the
// server has been told about (submitted); a sync pass reconciles the two
// with LISTEN/UNLISTEN frames. The submitted set is cleared on every
// disconnect so a reconnect re-sends the full subscription.
type Connection struct {
	id int

	http     *transport.Client
	auth     auth.Provider
	log      *logger.Logger
	dispatch DispatchFunc

	mu        sync.Mutex
	desired   map[string]*model.Topic
	submitted map[string]struct{}
	nonces    map[string][]string
	state     State

	lastMsgStamp time.Time
	lastMsgIdent string

	syncCh chan struct{}
	pongCh chan struct{}

	writeMu sync.Mutex
}

// NewConnection creates an idle connection. It does not dial; Run does.
func NewConnection(id int, httpClient *transport.Client, provider auth.Provider, log *logger.Logger, dispatch DispatchFunc) *Connection {
	return &Connection{
		id:        id,
		http:      httpClient,
		auth:      provider,
		log:       log,
		dispatch:  dispatch,
		desired:   make(map[string]*model.Topic),
		submitted: make(map[string]struct{}),
		nonces:    make(map[string][]string),
		syncCh:    make(chan struct{}, 1),
		pongCh:    make(chan struct{}, 1),
	}
}

// ID returns the connection's index within the pool.
func (c *Connection) ID() int { return c.id }

// State returns the connection's current lifecycle phase.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// AddTopics registers topics on this connection and kicks a sync pass.
// The caller is responsible for capacity; topics beyond the per-connection
// limit would be rejected by the server.
func (c *Connection) AddTopics(topics []*model.Topic) {
	c.mu.Lock()
	changed := false
	for _, t := range topics {
		key := t.String()
		if _, ok := c.desired[key]; ok {
			continue
		}
		c.desired[key] = t
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.kickSync()
	}
}

// RemoveTopics drops any of the given topics held by this connection and
// returns the ones actually removed.
func (c *Connection) RemoveTopics(keys map[string]struct{}) []*model.Topic {
	c.mu.Lock()
	var removed []*model.Topic
	for key := range keys {
		if t, ok := c.desired[key]; ok {
			delete(c.desired, key)
			removed = append(removed, t)
		}
	}
	c.mu.Unlock()
	if len(removed) > 0 {
		c.kickSync()
	}
	return removed
}

// Topics returns a copy of the connection's desired topics.
func (c *Connection) Topics() []*model.Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Topic, 0, len(c.desired))
	for _, t := range c.desired {
		out = append(out, t)
	}
	return out
}

// TopicCount returns the number of desired topics.
func (c *Connection) TopicCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.desired)
}

// HasCapacity reports whether the connection can take more topics.
func (c *Connection) HasCapacity() bool {
	return c.TopicCount() < constants.WSTopicsLimit
}

// Run dials and serves the connection until ctx is cancelled, redialing with
// exponential backoff after every loss.
func (c *Connection) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = constants.BackoffCap
	bo.MaxElapsedTime = 0

	for {
		err := c.runOnce(ctx, bo)
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return ctx.Err()
		}

		c.setState(StateReconnecting)
		delay := bo.NextBackOff()
		c.log.Warn("Websocket connection lost, reconnecting",
			"conn", c.id, "error", err, "backoff", delay.Round(time.Second))
		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce performs one dial and serves the socket until it fails or a
// reconnect is requested.
func (c *Connection) runOnce(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	c.setState(StateConnecting)
	ws, err := c.http.DialWebsocket(ctx, constants.PubSubURL)
	if err != nil {
		return fmt.Errorf("dialing pubsub: %w", err)
	}
	ws.SetReadLimit(readLimit)
	bo.Reset()

	c.mu.Lock()
	c.submitted = make(map[string]struct{})
	c.nonces = make(map[string][]string)
	c.state = StateOpen
	c.mu.Unlock()

	c.log.Debug("Websocket connected", "conn", c.id)
	c.kickSync()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, ws) })
	g.Go(func() error { return c.pingLoop(gctx, ws) })
	g.Go(func() error { return c.syncLoop(gctx, ws) })
	err = g.Wait()

	ws.Close(websocket.StatusNormalClosure, "")
	return err
}

// kickSync schedules a topic sync pass. Coalesces with a pending kick.
func (c *Connection) kickSync() {
	select {
	case c.syncCh <- struct{}{}:
	default:
	}
}

func (c *Connection) syncLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.syncCh:
		}
		if err := c.syncTopics(ctx, ws); err != nil {
			return err
		}
	}
}

// syncTopics reconciles desired against submitted: UNLISTEN what is no
// longer wanted, LISTEN (with the current access token) what is missing.
func (c *Connection) syncTopics(ctx context.Context, ws *websocket.Conn) error {
	c.mu.Lock()
	var added, removed []string
	for key := range c.desired {
		if _, ok := c.submitted[key]; !ok {
			added = append(added, key)
		}
	}
	for key := range c.submitted {
		if _, ok := c.desired[key]; !ok {
			removed = append(removed, key)
		}
	}
	c.mu.Unlock()

	if len(removed) > 0 {
		nonce := auth.GenerateNonce()
		req := Request{
			Type:  TypeUnlisten,
			Nonce: nonce,
			Data:  &RequestData{Topics: removed},
		}
		if err := c.write(ctx, ws, req); err != nil {
			return fmt.Errorf("unlisten: %w", err)
		}
		c.mu.Lock()
		for _, key := range removed {
			delete(c.submitted, key)
		}
		c.mu.Unlock()
		c.log.Debug("Unlistened topics", "conn", c.id, "count", len(removed))
	}

	if len(added) > 0 {
		nonce := auth.GenerateNonce()
		req := Request{
			Type:  TypeListen,
			Nonce: nonce,
			Data: &RequestData{
				Topics:    added,
				AuthToken: c.auth.AccessToken(),
			},
		}
		if err := c.write(ctx, ws, req); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		c.mu.Lock()
		c.nonces[nonce] = added
		for _, key := range added {
			c.submitted[key] = struct{}{}
		}
		c.mu.Unlock()
		c.log.Debug("Listened topics", "conn", c.id, "count", len(added))
	}
	return nil
}

// pingLoop sends a PING on the fixed interval and requires a PONG within the
// timeout, requesting a reconnect otherwise.
func (c *Connection) pingLoop(ctx context.Context, ws *websocket.Conn) error {
	ticker := time.NewTicker(constants.PingInterval)
	defer ticker.Stop()

	for {
		// Drain a stale PONG so the wait below matches this ping.
		select {
		case <-c.pongCh:
		default:
		}

		if err := c.write(ctx, ws, Request{Type: TypePing}); err != nil {
			return fmt.Errorf("ping: %w", err)
		}

		select {
		case <-c.pongCh:
		case <-time.After(constants.PingTimeout):
			c.log.Warn("No PONG within deadline", "conn", c.id, "timeout", constants.PingTimeout)
			return errReconnect
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		var resp Response
		if err := wsjson.Read(ctx, ws, &resp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		switch resp.Type {
		case TypePong:
			select {
			case c.pongCh <- struct{}{}:
			default:
			}

		case TypeReconnect:
			c.log.Info("Server requested reconnect", "conn", c.id)
			return errReconnect

		case TypeResponse:
			c.handleAck(&resp)

		case TypeMessage:
			c.handleMessage(&resp)
		}
	}
}

// handleAck resolves a LISTEN/UNLISTEN acknowledgement by nonce. Failed
// topics drop out of submitted so a later sync or reconnect retries them.
func (c *Connection) handleAck(resp *Response) {
	c.mu.Lock()
	topics := c.nonces[resp.Nonce]
	delete(c.nonces, resp.Nonce)
	if resp.Error != "" {
		for _, key := range topics {
			delete(c.submitted, key)
		}
	}
	c.mu.Unlock()

	if resp.Error == "" {
		return
	}
	c.log.Error("Subscription rejected",
		"conn", c.id, "error", resp.Error, "topics", topics)
	if resp.Error == "ERR_BADAUTH" {
		c.auth.Invalidate()
	}
}

func (c *Connection) handleMessage(resp *Response) {
	var data MessageData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		c.log.Error("Malformed MESSAGE envelope", "conn", c.id, "error", err)
		return
	}

	msg, err := model.ParseMessage(data.Topic, []byte(data.Message))
	if err != nil {
		c.log.Error("Malformed pubsub message",
			"conn", c.id, "topic", data.Topic, "error", err)
		return
	}

	// Servers occasionally deliver the same event twice in a row.
	c.mu.Lock()
	if c.lastMsgIdent == msg.Identifier && c.lastMsgStamp.Equal(msg.Timestamp) {
		c.mu.Unlock()
		return
	}
	c.lastMsgIdent = msg.Identifier
	c.lastMsgStamp = msg.Timestamp
	c.mu.Unlock()

	if c.dispatch != nil {
		go c.dispatch(msg)
	}
}

func (c *Connection) write(ctx context.Context, ws *websocket.Conn, req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, ws, req)
}
