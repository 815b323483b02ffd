package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Port             string
	Env              string
	Store            string
	RedisURL         string
	PresenceInterval time.Duration
	ExportEnabled    bool
	ExportFile       string
}

func (c Config) Dev() bool { return c.Env == "" || c.Env == "development" }

// Load reads an optional .env file and then the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not read .env")
	}
	return FromEnv()
}

func FromEnv() Config {
	c := Config{}
	c.Port = getenv("PORT", "8080")
	c.Env = getenv("ENV", "development")
	c.Store = strings.ToLower(getenv("STORE", StoreMemory))
	c.RedisURL = getenv("REDIS_URL", "redis://localhost:6379/0")
	c.PresenceInterval = 15 * time.Second
	if v := os.Getenv("PRESENCE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Warn().Str("value", v).Msg("invalid PRESENCE_INTERVAL, using default")
		} else {
			c.PresenceInterval = d
		}
	}
	c.ExportEnabled = getenv("EXPORT_ENABLED", "false") == "true"
	c.ExportFile = getenv("EXPORT_FILE", "./planning-poker-results.txt")
	return c
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
