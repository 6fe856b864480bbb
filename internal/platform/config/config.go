package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	ClientID      string `env:"CLIENT_ID"`
	ClientSecret  string `env:"CLIENT_SECRET"`
	BotUserID     string `env:"BOT_USER_ID"`
	BroadcasterID string `env:"BROADCASTER_ID"`

	// EnvFile is where refreshed tokens are written back to. It should be
	// the same file godotenv loaded the credentials from.
	EnvFile string `env:"ENV_FILE" default:".env"`

	CallbackPort   int    `env:"OAUTH_CALLBACK_PORT" default:"3000"`
	BrowserCommand string `env:"BROWSER_COMMAND"`
	ChatPrefix     string `env:"CHAT_PREFIX" default:"🤖"`

	EventSubURL  string `env:"EVENTSUB_WS_URL" default:"wss://eventsub.wss.twitch.tv/ws"`
	HelixURL     string `env:"HELIX_API_URL"`
	AuthorizeURL string `env:"OAUTH_AUTHORIZE_URL" default:"https://id.twitch.tv/oauth2/authorize"`
	TokenURL     string `env:"OAUTH_TOKEN_URL" default:"https://id.twitch.tv/oauth2/token"`
	ValidateURL  string `env:"OAUTH_VALIDATE_URL" default:"https://id.twitch.tv/oauth2/validate"`

	AdminAddr string `env:"ADMIN_ADDR"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	ReconnectMaxAttempts    int           `env:"RECONNECT_MAX_ATTEMPTS" default:"10"`
	ReconnectInitialBackoff time.Duration `env:"RECONNECT_INITIAL_BACKOFF" default:"1s"`
	ReconnectMaxBackoff     time.Duration `env:"RECONNECT_MAX_BACKOFF" default:"2m"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"CLIENT_ID":      cfg.ClientID,
		"CLIENT_SECRET":  cfg.ClientSecret,
		"BOT_USER_ID":    cfg.BotUserID,
		"BROADCASTER_ID": cfg.BroadcasterID,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.CallbackPort < 1 || cfg.CallbackPort > 65535 {
		return fmt.Errorf("OAUTH_CALLBACK_PORT must be a valid port, got %d", cfg.CallbackPort)
	}
	if cfg.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be at least 1, got %d", cfg.ReconnectMaxAttempts)
	}

	return nil
}
