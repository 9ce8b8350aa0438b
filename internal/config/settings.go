package config

import (
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Settings are the process level options read from the environment.
type Settings struct {
	Address     string `env:"RELAY_ADDRESS" envDefault:"0.0.0.0:8001"`
	ConfigFile  string `env:"CONFIG_FILE_LOCATION" envDefault:"./data/config.yaml"`
	ConfigWatch bool   `env:"CONFIG_WATCH" envDefault:"true"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For,
	// X-Real-IP or True-Client-IP. Only enable it behind a proxy that
	// overwrites those headers.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	PlayerEventsCapacity  int `env:"PLAYER_EVENTS_CAPACITY" envDefault:"15000"`
	AnnouncementsCapacity int `env:"ANNOUNCEMENTS_CAPACITY" envDefault:"15000"`
	DuplicateCacheSize    int `env:"DUPLICATE_CACHE_SIZE" envDefault:"500"`

	RateLimitPerSecond  float64       `env:"RATE_LIMIT_PER_SECOND" envDefault:"0"`
	RateLimitBurst      int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	RateLimitIdleTTL    time.Duration `env:"RATE_LIMIT_IDLE_TTL" envDefault:"10m"`
	RateLimitMaxClients int           `env:"RATE_LIMIT_MAX_CLIENTS" envDefault:"100000"`

	StreamKeepAlive time.Duration `env:"STREAM_KEEPALIVE" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadSettings loads a .env file from the working directory when present and
// parses Settings from the environment.
func LoadSettings() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, errors.Wrap(err, "load .env file")
	}

	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, errors.Wrap(err, "parse environment")
	}
	return s, nil
}
