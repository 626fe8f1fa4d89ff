// Package config loads the service configuration: built-in defaults, an
// optional TOML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"audiobook-feed/internal/domain"
)

// Config holds the application configuration.
type Config struct {
	Server   Server   `toml:"server"`
	Logging  Logging  `toml:"logging"`
	Cache    Cache    `toml:"cache"`
	Catalogs Catalogs `toml:"catalogs"`
	Feed     Feed     `toml:"feed"`
}

// Server configures the HTTP listener and feed sessions.
type Server struct {
	Port                   string `toml:"port"`
	SessionTTLMinutes      int    `toml:"session_ttl_minutes"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// Logging configures the default slog logger.
type Logging struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // auto, text, json
}

// Cache configures the durable overflow cache.
type Cache struct {
	Path           string `toml:"path"`
	ReuseThreshold int    `toml:"reuse_threshold"`
	SeedFallback   bool   `toml:"seed_fallback"`
}

// Catalogs tunes the two catalog clients.
type Catalogs struct {
	DisableITunes             bool    `toml:"disable_itunes"`
	DisableAudimeta           bool    `toml:"disable_audimeta"`
	Region                    string  `toml:"region"`
	AffiliateTag              string  `toml:"affiliate_tag"`
	TimeoutSeconds            int     `toml:"timeout_seconds"`
	MaxAttempts               int     `toml:"max_attempts"`
	ITunesRequestsPerMinute   float64 `toml:"itunes_requests_per_minute"`
	AudimetaRequestsPerMinute float64 `toml:"audimeta_requests_per_minute"`
}

// Feed holds the default feed options and pipeline tuning.
type Feed struct {
	Country              string   `toml:"country"`
	Language             string   `toml:"language"`
	EnabledGenres        []string `toml:"enabled_genres"`
	PreloadAhead         int      `toml:"preload_ahead"`
	AllowExplicit        bool     `toml:"allow_explicit"`
	AllowFallback        bool     `toml:"allow_fallback"`
	MustHavePurchaseLink bool     `toml:"must_have_purchase_link"`
	BackgroundEnrich     int      `toml:"background_enrich"`
	FastScrollSeconds    int      `toml:"fast_scroll_seconds"`
	TaskConcurrency      int      `toml:"task_concurrency"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Port:                   "8080",
			SessionTTLMinutes:      60,
			ShutdownTimeoutSeconds: 10,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
		Cache: Cache{
			Path:           "data/feed.db",
			ReuseThreshold: 40,
			SeedFallback:   true,
		},
		Catalogs: Catalogs{
			TimeoutSeconds:            15,
			MaxAttempts:               6,
			ITunesRequestsPerMinute:   20,
			AudimetaRequestsPerMinute: 60,
		},
		Feed: Feed{
			Country:           "us",
			PreloadAhead:      3,
			AllowFallback:     true,
			BackgroundEnrich:  1,
			FastScrollSeconds: 20,
			TaskConcurrency:   4,
		},
	}
}

// Load builds the configuration. A missing file at path is not an error;
// an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PORT":          &c.Server.Port,
		"LOG_LEVEL":     &c.Logging.Level,
		"LOG_FORMAT":    &c.Logging.Format,
		"CACHE_PATH":    &c.Cache.Path,
		"COUNTRY_CODE":  &c.Feed.Country,
		"LANGUAGE_CODE": &c.Feed.Language,
		"AFFILIATE_TAG": &c.Catalogs.AffiliateTag,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := os.LookupEnv("PRELOAD_AHEAD"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PRELOAD_AHEAD: %w", err)
		}
		c.Feed.PreloadAhead = n
	}
	if v, ok := os.LookupEnv("MUST_HAVE_PURCHASE_LINK"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("MUST_HAVE_PURCHASE_LINK: %w", err)
		}
		c.Feed.MustHavePurchaseLink = b
	}
	return nil
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Feed.Country = strings.ToLower(strings.TrimSpace(c.Feed.Country))
	c.Catalogs.Region = strings.ToLower(strings.TrimSpace(c.Catalogs.Region))
	if c.Catalogs.Region == "" {
		c.Catalogs.Region = c.Feed.Country
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port must be set")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port %q is not a number", c.Server.Port)
	}
	if c.Server.SessionTTLMinutes <= 0 {
		return errors.New("server.session_ttl_minutes must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be one of auto, text, json", c.Logging.Format)
	}
	if strings.TrimSpace(c.Cache.Path) == "" {
		return errors.New("cache.path must be set")
	}
	if c.Cache.ReuseThreshold < 0 {
		return errors.New("cache.reuse_threshold must not be negative")
	}
	if c.Catalogs.DisableITunes && c.Catalogs.DisableAudimeta && !c.Feed.AllowFallback {
		return errors.New("at least one catalog or the fallback dataset must be enabled")
	}
	if c.Catalogs.MaxAttempts < 1 {
		return errors.New("catalogs.max_attempts must be at least 1")
	}
	if c.Catalogs.TimeoutSeconds <= 0 {
		return errors.New("catalogs.timeout_seconds must be positive")
	}
	if c.Feed.PreloadAhead < 0 || c.Feed.PreloadAhead > 20 {
		return fmt.Errorf("feed.preload_ahead %d must be between 0 and 20", c.Feed.PreloadAhead)
	}
	if c.Feed.Language != "" && domain.NormalizeLanguage(c.Feed.Language) == "" {
		return fmt.Errorf("feed.language %q is not a supported language", c.Feed.Language)
	}
	if c.Feed.TaskConcurrency < 1 {
		return errors.New("feed.task_concurrency must be at least 1")
	}
	return nil
}

// FeedOptions returns the default options of new feed sessions.
func (c *Config) FeedOptions() domain.FeedOptions {
	return domain.FeedOptions{
		EnabledGenres:        c.Feed.EnabledGenres,
		AllowExplicit:        c.Feed.AllowExplicit,
		AllowFallback:        c.Feed.AllowFallback,
		MustHavePurchaseLink: c.Feed.MustHavePurchaseLink,
		PreloadAhead:         c.Feed.PreloadAhead,
		Language:             c.Feed.Language,
		Country:              c.Feed.Country,
	}
}

// SessionTTL returns how long an idle feed session is kept.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Server.SessionTTLMinutes) * time.Minute
}

// CatalogTimeout returns the per-request catalog timeout.
func (c *Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalogs.TimeoutSeconds) * time.Second
}

// FastScrollWindow returns the navigation interval considered fast scrolling.
func (c *Config) FastScrollWindow() time.Duration {
	return time.Duration(c.Feed.FastScrollSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
