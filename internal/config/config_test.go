package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/twitch-drops-go/internal/model"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeSettings(t, `
username: someuser
auth:
  auth_token: tok123
priority:
  - Best Game
  - Second Game
exclude:
  - Boring Game
priority_only: true
chat: WATCHING
log:
  level: DEBUG
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "someuser", cfg.Username)
	assert.Equal(t, "tok123", cfg.Auth.AuthToken)
	assert.Equal(t, []string{"Best Game", "Second Game"}, cfg.Priority)
	assert.True(t, cfg.PriorityOnly)
	assert.Equal(t, model.ChatWatching, cfg.ParsedChat())
	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, DefaultStateDir, cfg.StateDir, "defaults fill unset fields")
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("TDG_USERNAME", "envuser")
	t.Setenv("TDG_PRIORITY", "One;Two")

	cfg, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "envuser", cfg.Username)
	assert.Equal(t, []string{"One", "Two"}, cfg.Priority)
	assert.Equal(t, "NEVER", cfg.Chat)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeSettings(t, "username: fileuser\n")
	t.Setenv("TDG_USERNAME", "envuser")

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "envuser", cfg.Username)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeSettings(t, "username: [unclosed\n")
	_, err := Load(context.Background(), path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Settings
		wantErr bool
	}{
		{
			name: "valid minimal",
			cfg:  Settings{},
		},
		{
			name:    "priority_only without priority",
			cfg:     Settings{PriorityOnly: true},
			wantErr: true,
		},
		{
			name:    "game both prioritized and excluded",
			cfg:     Settings{Priority: []string{"Game"}, Exclude: []string{"game"}},
			wantErr: true,
		},
		{
			name: "telegram enabled without token",
			cfg: Settings{Notifications: NotificationsConfig{
				Telegram: &TelegramConfig{Enabled: true},
			}},
			wantErr: true,
		},
		{
			name: "discord enabled without webhook",
			cfg: Settings{Notifications: NotificationsConfig{
				Discord: &DiscordConfig{Enabled: true},
			}},
			wantErr: true,
		},
		{
			name: "disabled providers need no fields",
			cfg: Settings{Notifications: NotificationsConfig{
				Telegram: &TelegramConfig{},
				Discord:  &DiscordConfig{},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPriorityValue(t *testing.T) {
	cfg := &Settings{Priority: []string{"First", "Second", "Third"}}

	assert.Equal(t, 3, cfg.PriorityValue("First"))
	assert.Equal(t, 2, cfg.PriorityValue("Second"))
	assert.Equal(t, 1, cfg.PriorityValue("Third"))
	assert.Equal(t, 0, cfg.PriorityValue("Unlisted"))
	assert.Equal(t, 3, cfg.PriorityValue("first"), "matching is case-insensitive")

	assert.True(t, cfg.InPriority("Second"))
	assert.False(t, cfg.InPriority("Unlisted"))
}

func TestExcluded(t *testing.T) {
	cfg := &Settings{Exclude: []string{"Boring Game"}}
	assert.True(t, cfg.Excluded("Boring Game"))
	assert.True(t, cfg.Excluded("boring game"))
	assert.False(t, cfg.Excluded("Fun Game"))
}

func TestParsedChat(t *testing.T) {
	assert.Equal(t, model.ChatNever, (&Settings{Chat: "NEVER"}).ParsedChat())
	assert.Equal(t, model.ChatWatching, (&Settings{Chat: "WATCHING"}).ParsedChat())
	assert.Equal(t, model.ChatNever, (&Settings{Chat: "bogus"}).ParsedChat())
}
