// Package notify dispatches user-facing miner events to the configured
// notification providers (Telegram, Discord, webhook, Matrix, Pushover,
// Gotify) with per-provider event filtering.
package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/Guliveer/twitch-drops-go/internal/config"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/model"
)

// defaultHTTPTimeout is the timeout for notification HTTP requests.
const defaultHTTPTimeout = 5 * time.Second

// defaultTitle heads every provider message.
const defaultTitle = "Twitch Drops Miner"

// Notifier is the interface that all notification providers implement.
type Notifier interface {
	Send(ctx context.Context, event model.Event, title, message string) error
	Name() string
	ShouldNotify(event model.Event) bool
}

// baseNotifier provides the shared name and event-filter boilerplate.
// An empty event list means every event fires.
type baseNotifier struct {
	name   string
	events []model.Event
}

// Name returns the human-readable name of the notifier.
func (b *baseNotifier) Name() string { return b.name }

// ShouldNotify reports whether this notifier fires for the given event.
func (b *baseNotifier) ShouldNotify(event model.Event) bool {
	if len(b.events) == 0 {
		return true
	}
	for _, e := range b.events {
		if e == event {
			return true
		}
	}
	return false
}

// Dispatcher fans one event out to every matching provider.
type Dispatcher struct {
	notifiers []Notifier
	log       *logger.Logger
}

// NewDispatcher creates a Dispatcher from the notification configuration,
// initialising every enabled provider over one shared HTTP client.
func NewDispatcher(cfg config.NotificationsConfig, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{log: log}

	httpClient := &http.Client{
		Timeout: defaultHTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		d.notifiers = append(d.notifiers, &Telegram{
			baseNotifier:        baseNotifier{name: "Telegram", events: parseEvents(cfg.Telegram.Events)},
			token:               cfg.Telegram.Token,
			chatID:              cfg.Telegram.ChatID,
			disableNotification: cfg.Telegram.DisableNotification,
			httpClient:          httpClient,
		})
	}

	if cfg.Discord != nil && cfg.Discord.Enabled {
		d.notifiers = append(d.notifiers, &Discord{
			baseNotifier: baseNotifier{name: "Discord", events: parseEvents(cfg.Discord.Events)},
			webhookURL:   cfg.Discord.WebhookURL,
			httpClient:   httpClient,
		})
	}

	if cfg.Webhook != nil && cfg.Webhook.Enabled {
		method := cfg.Webhook.Method
		if method == "" {
			method = http.MethodPost
		}
		d.notifiers = append(d.notifiers, &Webhook{
			baseNotifier: baseNotifier{name: "Webhook", events: parseEvents(cfg.Webhook.Events)},
			url:          cfg.Webhook.Endpoint,
			method:       method,
			httpClient:   httpClient,
		})
	}

	if cfg.Matrix != nil && cfg.Matrix.Enabled {
		d.notifiers = append(d.notifiers, &Matrix{
			baseNotifier: baseNotifier{name: "Matrix", events: parseEvents(cfg.Matrix.Events)},
			homeserver:   cfg.Matrix.Homeserver,
			accessToken:  cfg.Matrix.AccessToken,
			roomID:       cfg.Matrix.RoomID,
			httpClient:   httpClient,
		})
	}

	if cfg.Pushover != nil && cfg.Pushover.Enabled {
		d.notifiers = append(d.notifiers, &Pushover{
			baseNotifier: baseNotifier{name: "Pushover", events: parseEvents(cfg.Pushover.Events)},
			token:        cfg.Pushover.APIToken,
			userKey:      cfg.Pushover.UserKey,
			httpClient:   httpClient,
		})
	}

	if cfg.Gotify != nil && cfg.Gotify.Enabled {
		d.notifiers = append(d.notifiers, &Gotify{
			baseNotifier: baseNotifier{name: "Gotify", events: parseEvents(cfg.Gotify.Events)},
			url:          cfg.Gotify.URL,
			token:        cfg.Gotify.Token,
			httpClient:   httpClient,
		})
	}

	return d
}

// Dispatch sends a notification to every provider that matches the event.
// Each send runs in its own goroutine so a slow provider never blocks the
// caller.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.Event, title, message string) {
	if title == "" {
		title = defaultTitle
	}
	for _, n := range d.notifiers {
		if !n.ShouldNotify(event) {
			continue
		}
		go func(notifier Notifier) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultHTTPTimeout)
			defer cancel()
			if err := notifier.Send(sendCtx, event, title, message); err != nil {
				d.log.Warn("Notification send failed",
					"provider", notifier.Name(),
					"event", string(event),
					"error", err,
				)
			}
		}(n)
	}
}

// NotifyFunc bridges the dispatcher into the logger so Logger.Event calls
// fan out without an import cycle.
func (d *Dispatcher) NotifyFunc() logger.NotifyFunc {
	return func(ctx context.Context, message string, event model.Event) {
		d.Dispatch(ctx, event, defaultTitle, message)
	}
}

// HasNotifiers reports whether any providers are configured.
func (d *Dispatcher) HasNotifiers() bool {
	return len(d.notifiers) > 0
}

// parseEvents converts event name strings to model.Event values, dropping
// unknown names.
func parseEvents(names []string) []model.Event {
	events := make([]model.Event, 0, len(names))
	for _, name := range names {
		if e := model.ParseEvent(name); e != "" {
			events = append(events, e)
		}
	}
	return events
}
