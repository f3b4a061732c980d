// Package config holds client configuration: endpoints, cadences and
// retry limits. Values come from defaults, an optional TOML file and
// environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// EnvAPIURL and friends override file and default values.
	EnvAPIURL    = "COLLABNOTES_API_URL"
	EnvWSURL     = "COLLABNOTES_WS_URL"
	EnvToken     = "COLLABNOTES_TOKEN"
	EnvCachePath = "COLLABNOTES_CACHE_PATH"
	EnvLogLevel  = "COLLABNOTES_LOG_LEVEL"
)

// Config is the full client configuration.
type Config struct {
	// APIURL is the HTTP base for auth and note CRUD.
	APIURL string `toml:"api_url"`
	// WSURL is the websocket base; sessions append /ws/notes/{id}.
	WSURL string `toml:"ws_url"`
	// Token authenticates both HTTP and websocket traffic.
	Token string `toml:"token"`
	// CachePath locates the local snapshot cache file. Empty disables
	// caching.
	CachePath string `toml:"cache_path"`
	LogLevel  string `toml:"log_level"`

	Reconnect ReconnectConfig `toml:"reconnect"`
	Throttle  ThrottleConfig  `toml:"throttle"`
}

type ReconnectConfig struct {
	Interval    duration `toml:"interval"`
	MaxAttempts int      `toml:"max_attempts"`
	OpenTimeout duration `toml:"open_timeout"`
}

type ThrottleConfig struct {
	Cursor          duration `toml:"cursor"`
	LiveTyping      duration `toml:"live_typing"`
	Persist         duration `toml:"persist"`
	TypingStopAfter duration `toml:"typing_stop_after"`
	TypingStale     duration `toml:"typing_stale"`
}

// duration parses TOML strings like "200ms" or "3s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration, matching the server's
// published cadences.
func Default() Config {
	return Config{
		APIURL:   "http://localhost:5000/api",
		WSURL:    "ws://localhost:5000",
		LogLevel: "info",
		Reconnect: ReconnectConfig{
			Interval:    duration(3 * time.Second),
			MaxAttempts: 5,
			OpenTimeout: duration(10 * time.Second),
		},
		Throttle: ThrottleConfig{
			Cursor:          duration(100 * time.Millisecond),
			LiveTyping:      duration(200 * time.Millisecond),
			Persist:         duration(2 * time.Second),
			TypingStopAfter: duration(2 * time.Second),
			TypingStale:     duration(5 * time.Second),
		},
	}
}

// Load builds the configuration from defaults, then the TOML file at
// path (skipped when path is empty or missing), then the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.APIURL = getEnvOrDefault(EnvAPIURL, c.APIURL)
	c.WSURL = getEnvOrDefault(EnvWSURL, c.WSURL)
	c.Token = getEnvOrDefault(EnvToken, c.Token)
	c.CachePath = getEnvOrDefault(EnvCachePath, c.CachePath)
	c.LogLevel = getEnvOrDefault(EnvLogLevel, c.LogLevel)
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("config: api_url must not be empty")
	}
	if c.WSURL == "" {
		return fmt.Errorf("config: ws_url must not be empty")
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("config: reconnect.max_attempts must be at least 1, got %d", c.Reconnect.MaxAttempts)
	}
	for name, d := range map[string]duration{
		"reconnect.interval":         c.Reconnect.Interval,
		"reconnect.open_timeout":     c.Reconnect.OpenTimeout,
		"throttle.cursor":            c.Throttle.Cursor,
		"throttle.live_typing":       c.Throttle.LiveTyping,
		"throttle.persist":           c.Throttle.Persist,
		"throttle.typing_stop_after": c.Throttle.TypingStopAfter,
		"throttle.typing_stale":      c.Throttle.TypingStale,
	} {
		if d.Std() <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}
