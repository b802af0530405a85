package config

import (
	"strings"

	"github.com/Guliveer/twitch-drops-go/internal/model"
)

// Settings is the full configuration for the mining session. It is loaded
// from a YAML file and overlaid with TDG_* environment variables, so
// container deployments need no file edits.
type Settings struct {
	// Username is the expected account login. When set, auth validation
	// fails if the stored token belongs to a different account.
	Username string `yaml:"username" env:"TDG_USERNAME,overwrite"`

	Auth AuthConfig `yaml:"auth"`

	// Priority is the ordered list of game names to mine first. Earlier
	// entries outrank later ones; games not listed rank below all of them.
	Priority []string `yaml:"priority" env:"TDG_PRIORITY,overwrite,delimiter=;"`

	// Exclude lists game names that are never mined.
	Exclude []string `yaml:"exclude" env:"TDG_EXCLUDE,overwrite,delimiter=;"`

	// PriorityOnly restricts mining to games on the priority list.
	PriorityOnly bool `yaml:"priority_only" env:"TDG_PRIORITY_ONLY,overwrite"`

	// BadgesEmotes makes campaigns awarding a badge or emote eligible even
	// when the game account is not linked.
	BadgesEmotes bool `yaml:"badges_emotes" env:"TDG_BADGES_EMOTES,overwrite"`

	// Proxy routes all HTTP and websocket traffic through the given URL.
	Proxy string `yaml:"proxy" env:"TDG_PROXY,overwrite"`

	// Chat controls IRC presence on the watched channel: NEVER or WATCHING.
	Chat string `yaml:"chat" env:"TDG_CHAT,overwrite"`

	// StateDir holds the persisted cookie jar and log files.
	StateDir string `yaml:"state_dir" env:"TDG_STATE_DIR,overwrite"`

	Log LogConfig `yaml:"log"`

	Notifications NotificationsConfig `yaml:"notifications"`
}

// AuthConfig holds credential seeds. The cookie jar takes precedence over
// both; these only matter on a fresh state dir.
type AuthConfig struct {
	// AuthToken seeds the access token when no cookie is stored.
	AuthToken string `yaml:"auth_token" env:"TDG_AUTH_TOKEN,overwrite"`
	// Password enables the password login flow when set; without it the
	// device-code flow runs.
	Password string `yaml:"password" env:"TDG_PASSWORD,overwrite"`
}

// LogConfig holds logging options.
type LogConfig struct {
	Level string `yaml:"level" env:"TDG_LOG_LEVEL,overwrite"`
	// File enables the debug log file under the state dir.
	File    bool `yaml:"file" env:"TDG_LOG_FILE,overwrite"`
	NoColor bool `yaml:"no_color" env:"TDG_NO_COLOR,overwrite"`
}

// NotificationsConfig holds all notification provider configurations.
type NotificationsConfig struct {
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	Discord  *DiscordConfig  `yaml:"discord,omitempty"`
	Webhook  *WebhookConfig  `yaml:"webhook,omitempty"`
	Matrix   *MatrixConfig   `yaml:"matrix,omitempty"`
	Pushover *PushoverConfig `yaml:"pushover,omitempty"`
	Gotify   *GotifyConfig   `yaml:"gotify,omitempty"`
}

// TelegramConfig holds Telegram notification settings.
type TelegramConfig struct {
	Enabled             bool     `yaml:"enabled" env:"TDG_TELEGRAM_ENABLED,overwrite"`
	Token               string   `yaml:"token,omitempty" env:"TDG_TELEGRAM_TOKEN,overwrite"`
	ChatID              string   `yaml:"chat_id,omitempty" env:"TDG_TELEGRAM_CHAT_ID,overwrite"`
	Events              []string `yaml:"events"`
	DisableNotification bool     `yaml:"disable_notification"`
}

// DiscordConfig holds Discord notification settings.
type DiscordConfig struct {
	Enabled    bool     `yaml:"enabled" env:"TDG_DISCORD_ENABLED,overwrite"`
	WebhookURL string   `yaml:"webhook_url,omitempty" env:"TDG_DISCORD_WEBHOOK,overwrite"`
	Events     []string `yaml:"events"`
}

// WebhookConfig holds generic webhook notification settings.
type WebhookConfig struct {
	Enabled  bool     `yaml:"enabled" env:"TDG_WEBHOOK_ENABLED,overwrite"`
	Endpoint string   `yaml:"endpoint,omitempty" env:"TDG_WEBHOOK_URL,overwrite"`
	Method   string   `yaml:"method"`
	Events   []string `yaml:"events"`
}

// MatrixConfig holds Matrix notification settings.
type MatrixConfig struct {
	Enabled     bool     `yaml:"enabled" env:"TDG_MATRIX_ENABLED,overwrite"`
	Homeserver  string   `yaml:"homeserver,omitempty" env:"TDG_MATRIX_HOMESERVER,overwrite"`
	RoomID      string   `yaml:"room_id,omitempty" env:"TDG_MATRIX_ROOM_ID,overwrite"`
	AccessToken string   `yaml:"access_token,omitempty" env:"TDG_MATRIX_ACCESS_TOKEN,overwrite"`
	Events      []string `yaml:"events"`
}

// PushoverConfig holds Pushover notification settings.
type PushoverConfig struct {
	Enabled  bool     `yaml:"enabled" env:"TDG_PUSHOVER_ENABLED,overwrite"`
	UserKey  string   `yaml:"user_key,omitempty" env:"TDG_PUSHOVER_USER_KEY,overwrite"`
	APIToken string   `yaml:"api_token,omitempty" env:"TDG_PUSHOVER_TOKEN,overwrite"`
	Events   []string `yaml:"events"`
}

// GotifyConfig holds Gotify notification settings.
type GotifyConfig struct {
	Enabled bool     `yaml:"enabled" env:"TDG_GOTIFY_ENABLED,overwrite"`
	URL     string   `yaml:"url,omitempty" env:"TDG_GOTIFY_URL,overwrite"`
	Token   string   `yaml:"token,omitempty" env:"TDG_GOTIFY_TOKEN,overwrite"`
	Events  []string `yaml:"events"`
}

// ParsedChat returns the chat presence mode.
func (s *Settings) ParsedChat() model.ChatPresence {
	return model.ParseChatPresence(strings.ToUpper(s.Chat))
}

// PriorityValue returns the rank weight for a game name: the first priority
// entry carries the highest value, unlisted games carry zero. Matching is
// case-insensitive.
func (s *Settings) PriorityValue(name string) int {
	for i, p := range s.Priority {
		if strings.EqualFold(p, name) {
			return len(s.Priority) - i
		}
	}
	return 0
}

// InPriority reports whether the game name is on the priority list.
func (s *Settings) InPriority(name string) bool {
	return s.PriorityValue(name) > 0
}

// Excluded reports whether the game name is on the exclusion list.
func (s *Settings) Excluded(name string) bool {
	for _, e := range s.Exclude {
		if strings.EqualFold(e, name) {
			return true
		}
	}
	return false
}
