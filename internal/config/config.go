package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	// Endpoint is the game server base URL used for both the event channel and snapshots.
	Endpoint string `env:"SYNC_ENDPOINT" envDefault:"http://localhost:4000/"`

	HTTPAddr             string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT" envDefault:"json"`
	DatabaseURL          string        `env:"DATABASE_URL"`
	ReconnectMaxInterval time.Duration `env:"RECONNECT_MAX_INTERVAL" envDefault:"30s"`
}

// Load reads an optional .env file from the working directory, then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: SYNC_ENDPOINT %q must be an http(s) URL", ErrInvalid, c.Endpoint)
	}
	if c.ReconnectMaxInterval <= 0 {
		return fmt.Errorf("%w: RECONNECT_MAX_INTERVAL must be positive", ErrInvalid)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: LOG_FORMAT %q", ErrInvalid, c.LogFormat)
	}
	return nil
}
