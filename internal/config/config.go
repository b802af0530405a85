// Package config loads and validates the miner's YAML settings file, with
// environment variable overlays so deployments can configure everything
// through TDG_* variables.
package config

import (
	"context"
	"fmt"
	"os"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the settings file read when no -config flag is given.
const DefaultPath = "settings.yaml"

// DefaultStateDir holds the cookie jar and logs unless configured otherwise.
const DefaultStateDir = ".tdg"

// Load reads the settings file, applies defaults, overlays TDG_* environment
// variables and validates the result. A missing file is not an error; the
// environment alone can carry a complete configuration.
func Load(ctx context.Context, path string) (*Settings, error) {
	cfg := &Settings{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env-only configuration
	default:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("config: environment overlay: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Settings) {
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}
	if cfg.Chat == "" {
		cfg.Chat = "NEVER"
	}
}

// Validate checks the configuration for common errors.
func (s *Settings) Validate() error {
	if s.PriorityOnly && len(s.Priority) == 0 {
		return fmt.Errorf("config: priority_only is set but the priority list is empty")
	}

	for _, name := range s.Priority {
		if s.Excluded(name) {
			return fmt.Errorf("config: game %q is both prioritized and excluded", name)
		}
	}

	n := s.Notifications
	if n.Telegram != nil && n.Telegram.Enabled {
		if n.Telegram.Token == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("config: telegram enabled but token or chat_id not set (TDG_TELEGRAM_TOKEN, TDG_TELEGRAM_CHAT_ID)")
		}
	}
	if n.Discord != nil && n.Discord.Enabled && n.Discord.WebhookURL == "" {
		return fmt.Errorf("config: discord enabled but webhook_url not set (TDG_DISCORD_WEBHOOK)")
	}
	if n.Webhook != nil && n.Webhook.Enabled && n.Webhook.Endpoint == "" {
		return fmt.Errorf("config: webhook enabled but endpoint not set (TDG_WEBHOOK_URL)")
	}
	if n.Matrix != nil && n.Matrix.Enabled {
		if n.Matrix.Homeserver == "" || n.Matrix.RoomID == "" || n.Matrix.AccessToken == "" {
			return fmt.Errorf("config: matrix enabled but homeserver, room_id or access_token not set")
		}
	}
	if n.Pushover != nil && n.Pushover.Enabled {
		if n.Pushover.APIToken == "" || n.Pushover.UserKey == "" {
			return fmt.Errorf("config: pushover enabled but api_token or user_key not set")
		}
	}
	if n.Gotify != nil && n.Gotify.Enabled {
		if n.Gotify.URL == "" || n.Gotify.Token == "" {
			return fmt.Errorf("config: gotify enabled but url or token not set")
		}
	}

	return nil
}
