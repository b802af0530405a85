// Package chat maintains an optional read-only IRC presence in the watched
// channel. The go-twitch-irc library handles PING/PONG keepalive and
// reconnection internally; this package only tracks which single channel
// the miner should currently sit in.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/model"
)

// Presence follows the watched channel in IRC: when the watch target
// switches, the previous channel is parted and the new one joined.
type Presence struct {
	mu sync.Mutex

	client  *twitch.Client
	mode    model.ChatPresence
	current string
	running bool

	log *logger.Logger
}

// NewPresence creates a chat presence manager authenticated as the given
// account. With mode ChatNever it stays disconnected.
func NewPresence(username, authToken string, mode model.ChatPresence, log *logger.Logger) *Presence {
	client := twitch.NewClient(username, "oauth:"+authToken)

	p := &Presence{
		client: client,
		mode:   mode,
		log:    log,
	}

	client.OnConnect(func() {
		log.Info("💬 Connected to Twitch IRC")
	})
	client.OnReconnectMessage(func(msg twitch.ReconnectMessage) {
		log.Info("💬 Reconnected to Twitch IRC")
	})
	client.OnSelfJoinMessage(func(msg twitch.UserJoinMessage) {
		log.Debug("Joined IRC chat", "channel", msg.Channel)
	})
	client.OnSelfPartMessage(func(msg twitch.UserPartMessage) {
		log.Debug("Left IRC chat", "channel", msg.Channel)
	})

	return p
}

// Enabled reports whether chat presence is active at all.
func (p *Presence) Enabled() bool {
	return p.mode == model.ChatWatching
}

// SetWatching moves the IRC presence to the given channel login, parting
// the previous one. An empty login parts without joining.
func (p *Presence) SetWatching(login string) {
	if !p.Enabled() {
		return
	}
	channel := strings.ToLower(login)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == channel {
		return
	}
	if p.current != "" {
		p.client.Depart(p.current)
		p.log.Debug("Parting IRC chat", "channel", p.current)
	}
	p.current = channel
	if channel != "" {
		p.client.Join(channel)
		p.log.Debug("Joining IRC chat", "channel", channel)
	}
}

// Current returns the channel the presence currently sits in.
func (p *Presence) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Run connects to Twitch IRC and blocks until the context is cancelled.
// With presence disabled it parks on the context instead of connecting.
func (p *Presence) Run(ctx context.Context) error {
	if !p.Enabled() {
		<-ctx.Done()
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		err := p.client.Connect()
		if err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		p.Close()
		return ctx.Err()
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			p.log.Error("IRC connection error", "error", err)
			return err
		}
		return ctx.Err()
	}
}

// Close parts the current channel and disconnects.
func (p *Presence) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false

	if p.current != "" {
		p.client.Depart(p.current)
		p.current = ""
	}

	if err := p.client.Disconnect(); err != nil {
		p.log.Debug("IRC disconnect", "error", err)
	}
}
