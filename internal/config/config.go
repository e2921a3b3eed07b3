package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full process configuration, loaded from the
// environment with an optional .env overlay for local runs.
type Config struct {
	TelegramToken string `env:"TELEGRAM_TOKEN,required,notEmpty"`
	Port          string `env:"PORT" envDefault:"8080"`

	// Persistence. When LibsqlURL is set the state document lives in
	// libsql; otherwise it is a JSON file on disk.
	DataFile        string `env:"DATA_FILE" envDefault:"data.json"`
	LibsqlURL       string `env:"LIBSQL_URL"`
	LibsqlAuthToken string `env:"LIBSQL_AUTH_TOKEN"`

	AdminIDs      []string `env:"ADMIN_IDS" envSeparator:","`
	AdminPassword string   `env:"ADMIN_PASSWORD"`

	// Chats the bot pays attention to. Empty means all.
	AllowedChats []int64 `env:"ALLOWED_CHATS" envSeparator:","`

	RaffleChatID   int64  `env:"RAFFLE_CHAT_ID"`
	MiniChatID     int64  `env:"MINI_CHAT_ID"`
	GiveawayChatID int64  `env:"GIVEAWAY_CHAT_ID"`
	GambaMention   string `env:"GAMBA_MENTION"`

	MiniClaimWindow  time.Duration `env:"MINI_CLAIM_WINDOW" envDefault:"10m"`
	MiniDefaultSlots int           `env:"MINI_DEFAULT_SLOTS" envDefault:"6"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`

	XPMin      int           `env:"XP_MIN" envDefault:"15"`
	XPMax      int           `env:"XP_MAX" envDefault:"25"`
	XPCooldown time.Duration `env:"XP_COOLDOWN" envDefault:"60s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.MiniDefaultSlots < 2 {
		return nil, fmt.Errorf("MINI_DEFAULT_SLOTS must be at least 2")
	}
	if cfg.XPMin < 1 || cfg.XPMax < cfg.XPMin {
		return nil, fmt.Errorf("XP_MIN/XP_MAX must satisfy 1 <= min <= max")
	}
	return cfg, nil
}

// IsAdmin reports whether a user id appears in the configured admin
// list.
func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatAllowed reports whether the bot should react in the given chat.
func (c *Config) ChatAllowed(chatID int64) bool {
	if len(c.AllowedChats) == 0 {
		return true
	}
	for _, id := range c.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}
