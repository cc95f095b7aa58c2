package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config describes all runtime settings for the server.
//
// Loaded once in main, validated, then passed down explicitly — no
// globals.
type Config struct {
	Env string // dev|stage|prod

	Log struct {
		Format string // text|json
	}

	HTTP struct {
		Addr              string
		ReadHeaderTimeout time.Duration
		ReadTimeout       time.Duration
		WriteTimeout      time.Duration
		IdleTimeout       time.Duration
		ShutdownTimeout   time.Duration
	}

	// Postgres backs the analytics side-channel only; an empty URL
	// disables it without affecting gameplay.
	Postgres struct {
		URL           string
		RunMigrations bool
		MigrationsDir string
	}

	// Redis backs the live clue feed; empty Addr disables it.
	Redis struct {
		Addr    string
		DB      int
		FeedTTL time.Duration
		FeedMax int64
	}

	Images struct {
		Root          string
		PublicBaseURL string
	}

	CORS struct {
		AllowedOrigins []string
	}

	Game struct {
		AdvanceDelay time.Duration
		ReapDelay    time.Duration
	}
}

func LoadFromEnv() (Config, error) {
	var c Config

	c.Env = envString("APP_ENV", "dev")
	c.Log.Format = envString("LOG_FORMAT", "text")

	port := envString("PORT", "4000")
	c.HTTP.Addr = envString("HTTP_ADDR", ":"+port)
	c.HTTP.ReadHeaderTimeout = envDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	c.HTTP.ReadTimeout = envDuration("HTTP_READ_TIMEOUT", 0)
	c.HTTP.WriteTimeout = envDuration("HTTP_WRITE_TIMEOUT", 0)
	c.HTTP.IdleTimeout = envDuration("HTTP_IDLE_TIMEOUT", 60*time.Second)
	c.HTTP.ShutdownTimeout = envDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)

	c.Postgres.URL = envString("DATABASE_URL", "")
	c.Postgres.RunMigrations = envBool("RUN_MIGRATIONS", false)
	c.Postgres.MigrationsDir = envString("MIGRATIONS_DIR", "./db/migrations")

	c.Redis.Addr = envString("REDIS_ADDR", "")
	c.Redis.DB = envInt("REDIS_DB", 0)
	c.Redis.FeedTTL = envDuration("CLUE_FEED_TTL", 24*time.Hour)
	c.Redis.FeedMax = int64(envInt("CLUE_FEED_MAX", 100))

	c.Images.Root = envString("IMAGE_ROOT", "./images")
	c.Images.PublicBaseURL = envString("PUBLIC_BASE_URL", "")

	origins := envString("FRONTEND_ORIGIN", "http://localhost:3000,http://127.0.0.1:3000")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.CORS.AllowedOrigins = append(c.CORS.AllowedOrigins, o)
		}
	}

	c.Game.AdvanceDelay = envDuration("GAME_ADVANCE_DELAY", 5*time.Second)
	c.Game.ReapDelay = envDuration("ROOM_REAP_DELAY", 5*time.Second)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("HTTP addr is empty")
	}
	if c.Images.Root == "" {
		return errors.New("IMAGE_ROOT is empty")
	}
	if c.Postgres.RunMigrations && c.Postgres.URL == "" {
		return errors.New("RUN_MIGRATIONS=true requires DATABASE_URL")
	}
	if c.Game.AdvanceDelay <= 0 {
		return fmt.Errorf("GAME_ADVANCE_DELAY must be positive, got %s", c.Game.AdvanceDelay)
	}
	if c.Game.ReapDelay <= 0 {
		return fmt.Errorf("ROOM_REAP_DELAY must be positive, got %s", c.Game.ReapDelay)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unsupported LOG_FORMAT=%q (want text|json)", c.Log.Format)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
