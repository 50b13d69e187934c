package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port               int           `env:"PORT" envDefault:"4000"`
	AppEnv             string        `env:"APP_ENV" envDefault:"development"`
	CacheDir           string        `env:"CACHE_DIR" envDefault:"./cache"`
	MemoryCacheEntries int           `env:"MEMORY_CACHE_ENTRIES" envDefault:"100"`
	MemoryCacheTTL     time.Duration `env:"MEMORY_CACHE_TTL" envDefault:"10m"`
	MaxWidth           int           `env:"MAX_WIDTH" envDefault:"2000"`
	DefaultQuality     int           `env:"DEFAULT_QUALITY" envDefault:"80"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"15s"`
	MaxSourceBytes     int64         `env:"MAX_SOURCE_BYTES" envDefault:"33554432"` // 32MB
	CoalesceRequests   bool          `env:"COALESCE_REQUESTS" envDefault:"true"`
	VipsMaxCacheMB     int           `env:"VIPS_MAX_CACHE_MB" envDefault:"256"`
	VipsConcurrency    int           `env:"VIPS_CONCURRENCY" envDefault:"1"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"LOG_FORMAT" envDefault:"json"`
	AllowedOrigin      string        `env:"ALLOWED_ORIGIN"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load reads the dotenv file for the current APP_ENV (if any) and then parses
// the environment. Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(DotenvFile(os.Getenv("APP_ENV"))); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load dotenv file: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func DotenvFile(appEnv string) string {
	if strings.EqualFold(appEnv, "production") {
		return ".env.production"
	}
	return ".env"
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid PORT: %d", c.Port)
	case c.MaxWidth < 1:
		return fmt.Errorf("MAX_WIDTH must be positive, got %d", c.MaxWidth)
	case c.DefaultQuality < 1 || c.DefaultQuality > 100:
		return fmt.Errorf("DEFAULT_QUALITY must be between 1-100, got %d", c.DefaultQuality)
	case c.MemoryCacheEntries < 0:
		return fmt.Errorf("MEMORY_CACHE_ENTRIES must not be negative, got %d", c.MemoryCacheEntries)
	case c.MaxSourceBytes <= 0:
		return fmt.Errorf("MAX_SOURCE_BYTES must be positive, got %d", c.MaxSourceBytes)
	case strings.TrimSpace(c.CacheDir) == "":
		return errors.New("CACHE_DIR must not be empty")
	}
	return nil
}
