// Package config loads sarthi's settings from viper and the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// AppName scopes the user directories and the environment prefix.
const AppName = "sarthi"

// Config is the complete application configuration.
type Config struct {
	// Origin is the deployment that serves the reader's assets.
	Origin string

	Cache CacheConfig
	Store StoreConfig
	AI    AIConfig
	Serve ServeConfig

	// Style is the glamour style for rendered answers.
	Style string
	// Width wraps rendered output; zero means detect.
	Width uint
}

// CacheConfig configures the offline cache.
type CacheConfig struct {
	Version          string
	Dir              string
	Manifest         []string
	RecitationPrefix string
	CompressionLevel int
	HotSizeMB        int
	FetchTimeout     time.Duration
	Concurrency      int
}

// StoreConfig configures the key-value store.
type StoreConfig struct {
	Path string
	// Ephemeral keeps everything in memory for the lifetime of the process.
	Ephemeral bool
}

// AIConfig configures the generation client.
type AIConfig struct {
	BaseURL           string
	ChatModel         string
	TranslationModel  string
	Temperature       float64
	MaxOutputTokens   int
	Timeout           time.Duration
	RequestsPerMinute int
}

// ServeConfig configures the local server.
type ServeConfig struct {
	Listen         string
	AllowedOrigins []string
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Origin: "https://bhagavadgita.example",
		Cache: CacheConfig{
			Version:          CacheVersion,
			Manifest:         DefaultManifest(),
			RecitationPrefix: "/assets/verse_recitation/",
			CompressionLevel: 3,
			HotSizeMB:        32,
			FetchTimeout:     30 * time.Second,
			Concurrency:      6,
		},
		AI: AIConfig{
			BaseURL:           "https://generativelanguage.googleapis.com/v1beta",
			ChatModel:         "gemini-2.5-flash-lite",
			TranslationModel:  "gemini-2.5-flash-lite",
			Temperature:       0.7,
			MaxOutputTokens:   800,
			Timeout:           60 * time.Second,
			RequestsPerMinute: 30,
		},
		Serve: ServeConfig{
			Listen: "127.0.0.1:8080",
		},
		Style: "auto",
	}
}

// SetDefaults registers DefaultConfig with v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("origin", d.Origin)
	v.SetDefault("style", d.Style)
	v.SetDefault("width", d.Width)

	v.SetDefault("cache.version", d.Cache.Version)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.manifest", d.Cache.Manifest)
	v.SetDefault("cache.recitation_prefix", d.Cache.RecitationPrefix)
	v.SetDefault("cache.compression_level", d.Cache.CompressionLevel)
	v.SetDefault("cache.hot_size_mb", d.Cache.HotSizeMB)
	v.SetDefault("cache.fetch_timeout", d.Cache.FetchTimeout.String())
	v.SetDefault("cache.concurrency", d.Cache.Concurrency)

	v.SetDefault("store.path", "")
	v.SetDefault("store.ephemeral", false)

	v.SetDefault("ai.base_url", d.AI.BaseURL)
	v.SetDefault("ai.chat_model", d.AI.ChatModel)
	v.SetDefault("ai.translation_model", d.AI.TranslationModel)
	v.SetDefault("ai.temperature", d.AI.Temperature)
	v.SetDefault("ai.max_output_tokens", d.AI.MaxOutputTokens)
	v.SetDefault("ai.timeout", d.AI.Timeout.String())
	v.SetDefault("ai.requests_per_minute", d.AI.RequestsPerMinute)

	v.SetDefault("serve.listen", d.Serve.Listen)
	v.SetDefault("serve.allowed_origins", []string{})
}

// Load reads the configuration from v, fills in directory defaults and
// validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	cfg.Origin = strings.TrimRight(v.GetString("origin"), "/")
	cfg.Style = v.GetString("style")
	cfg.Width = v.GetUint("width")

	cfg.Cache.Version = v.GetString("cache.version")
	cfg.Cache.Dir = v.GetString("cache.dir")
	if m := v.GetStringSlice("cache.manifest"); len(m) > 0 {
		cfg.Cache.Manifest = m
	}
	cfg.Cache.RecitationPrefix = v.GetString("cache.recitation_prefix")
	cfg.Cache.CompressionLevel = v.GetInt("cache.compression_level")
	cfg.Cache.HotSizeMB = v.GetInt("cache.hot_size_mb")
	cfg.Cache.Concurrency = v.GetInt("cache.concurrency")
	if d, err := parseDuration(v, "cache.fetch_timeout"); err != nil {
		return cfg, err
	} else if d > 0 {
		cfg.Cache.FetchTimeout = d
	}

	cfg.Store.Path = v.GetString("store.path")
	cfg.Store.Ephemeral = v.GetBool("store.ephemeral")

	cfg.AI.BaseURL = v.GetString("ai.base_url")
	cfg.AI.ChatModel = v.GetString("ai.chat_model")
	cfg.AI.TranslationModel = v.GetString("ai.translation_model")
	cfg.AI.Temperature = v.GetFloat64("ai.temperature")
	cfg.AI.MaxOutputTokens = v.GetInt("ai.max_output_tokens")
	cfg.AI.RequestsPerMinute = v.GetInt("ai.requests_per_minute")
	if d, err := parseDuration(v, "ai.timeout"); err != nil {
		return cfg, err
	} else if d > 0 {
		cfg.AI.Timeout = d
	}

	cfg.Serve.Listen = v.GetString("serve.listen")
	cfg.Serve.AllowedOrigins = v.GetStringSlice("serve.allowed_origins")

	if err := cfg.resolvePaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseDuration accepts both duration strings and durations.
func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.Get(key)
	switch val := raw.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return val, nil
	case string:
		if val == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	default:
		return v.GetDuration(key), nil
	}
}

func (c *Config) resolvePaths() error {
	scope := gap.NewScope(gap.User, AppName)

	if c.Cache.Dir == "" {
		dir, err := scope.CacheDir()
		if err != nil {
			return fmt.Errorf("could not find cache directory: %w", err)
		}
		c.Cache.Dir = dir
	}
	c.Cache.Dir = ExpandPath(c.Cache.Dir)

	if c.Store.Path == "" && !c.Store.Ephemeral {
		path, err := scope.DataPath(AppName + ".db")
		if err != nil {
			return fmt.Errorf("could not find data directory: %w", err)
		}
		c.Store.Path = path
	}
	c.Store.Path = ExpandPath(c.Store.Path)
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("origin must be an absolute URL, got %q", c.Origin)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin scheme must be http or https, got %q", u.Scheme)
	}

	if strings.TrimSpace(c.Cache.Version) == "" {
		return fmt.Errorf("cache version cannot be empty")
	}
	if !strings.HasPrefix(c.Cache.RecitationPrefix, "/") {
		return fmt.Errorf("cache recitation_prefix must start with /, got %q", c.Cache.RecitationPrefix)
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		return fmt.Errorf("cache compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel)
	}
	if c.Cache.HotSizeMB < 0 || c.Cache.HotSizeMB > 1024 {
		return fmt.Errorf("cache hot_size_mb must be between 0 and 1024, got %d", c.Cache.HotSizeMB)
	}
	if c.Cache.Concurrency < 1 || c.Cache.Concurrency > 64 {
		return fmt.Errorf("cache concurrency must be between 1 and 64, got %d", c.Cache.Concurrency)
	}
	if c.Cache.FetchTimeout < time.Second {
		return fmt.Errorf("cache fetch_timeout must be at least 1 second, got %v", c.Cache.FetchTimeout)
	}

	if c.AI.ChatModel == "" || c.AI.TranslationModel == "" {
		return fmt.Errorf("ai models cannot be empty")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("ai temperature must be between 0.0 and 2.0, got %.2f", c.AI.Temperature)
	}
	if c.AI.MaxOutputTokens < 1 || c.AI.MaxOutputTokens > 65536 {
		return fmt.Errorf("ai max_output_tokens must be between 1 and 65536, got %d", c.AI.MaxOutputTokens)
	}
	if c.AI.RequestsPerMinute < 1 || c.AI.RequestsPerMinute > 6000 {
		return fmt.Errorf("ai requests_per_minute must be between 1 and 6000, got %d", c.AI.RequestsPerMinute)
	}
	if c.AI.Timeout < time.Second {
		return fmt.Errorf("ai timeout must be at least 1 second, got %v", c.AI.Timeout)
	}

	if c.Serve.Listen == "" {
		return fmt.Errorf("serve listen address cannot be empty")
	}
	for _, o := range c.Serve.AllowedOrigins {
		if !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("serve allowed_origins entries must start with http:// or https://, got %q", o)
		}
	}
	return nil
}

// HotCapacity is the hot layer size in bytes.
func (c CacheConfig) HotCapacity() int64 {
	return int64(c.HotSizeMB) << 20
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	home, err := homedir.Expand(path)
	if err != nil {
		return os.ExpandEnv(path)
	}
	return filepath.Clean(os.ExpandEnv(home))
}
