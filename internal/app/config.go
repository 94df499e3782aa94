package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved process configuration.
type Config struct {
	Port              int
	TickInterval      time.Duration
	BroadcastInterval time.Duration
	LobbyInterval     time.Duration
	SaveDebounce      time.Duration
	GracePeriod       time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	ClientDir         string
	Pprof             bool

	Store     StoreConfig
	Log       LogConfig
	Events    EventsConfig
	RateLimit RateLimitConfig
}

type StoreConfig struct {
	Driver     string
	URL        string
	Key        string
	Compress   bool
	SQLDialect string
}

// LogConfig drives the process logger. An empty File logs to stdout.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type EventsConfig struct {
	Sinks []string
	File  string
}

type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

var defaultStoreURLs = map[string]string{
	"file":  "./data",
	"redis": "redis://localhost:6379/0",
	"sql":   "file:towerdefense.db",
}

// SetDefaults registers every key with its default and binds the
// environment. Keys map to TD_ variables with dots replaced by underscores;
// the port also honours a bare PORT.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("tick_interval", 100*time.Millisecond)
	v.SetDefault("broadcast_interval", 140*time.Millisecond)
	v.SetDefault("lobby_interval", time.Second)
	v.SetDefault("save_debounce", 2*time.Second)
	v.SetDefault("grace_period", 3*time.Minute)
	v.SetDefault("idle_timeout", 20*time.Minute)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("client_dir", "")
	v.SetDefault("pprof", false)

	v.SetDefault("store.driver", "file")
	v.SetDefault("store.url", "")
	v.SetDefault("store.key", "towerdefense-snapshot")
	v.SetDefault("store.compress", true)
	v.SetDefault("store.sql_dialect", "sqlite")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.compress", false)

	v.SetDefault("events.sinks", []string{"console"})
	v.SetDefault("events.file", "logs/events.jsonl")

	v.SetDefault("ratelimit.per_second", 20.0)
	v.SetDefault("ratelimit.burst", 40)

	v.SetEnvPrefix("TD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("port", "TD_PORT", "PORT")
}

// LoadConfig reads the resolved values out of v and validates them.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:              v.GetInt("port"),
		TickInterval:      v.GetDuration("tick_interval"),
		BroadcastInterval: v.GetDuration("broadcast_interval"),
		LobbyInterval:     v.GetDuration("lobby_interval"),
		SaveDebounce:      v.GetDuration("save_debounce"),
		GracePeriod:       v.GetDuration("grace_period"),
		IdleTimeout:       v.GetDuration("idle_timeout"),
		ShutdownTimeout:   v.GetDuration("shutdown_timeout"),
		ClientDir:         v.GetString("client_dir"),
		Pprof:             v.GetBool("pprof"),
		Store: StoreConfig{
			Driver:     strings.ToLower(strings.TrimSpace(v.GetString("store.driver"))),
			URL:        strings.TrimSpace(v.GetString("store.url")),
			Key:        v.GetString("store.key"),
			Compress:   v.GetBool("store.compress"),
			SQLDialect: strings.ToLower(v.GetString("store.sql_dialect")),
		},
		Log: LogConfig{
			Level:      strings.ToLower(v.GetString("log.level")),
			Format:     strings.ToLower(v.GetString("log.format")),
			File:       v.GetString("log.file"),
			MaxSize:    v.GetInt("log.max_size"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAge:     v.GetInt("log.max_age"),
			Compress:   v.GetBool("log.compress"),
		},
		Events: EventsConfig{
			Sinks: splitList(v.GetStringSlice("events.sinks")),
			File:  v.GetString("events.file"),
		},
		RateLimit: RateLimitConfig{
			PerSecond: v.GetFloat64("ratelimit.per_second"),
			Burst:     v.GetInt("ratelimit.burst"),
		},
	}
	if cfg.Store.URL == "" {
		cfg.Store.URL = defaultStoreURLs[cfg.Store.Driver]
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	for name, d := range map[string]time.Duration{
		"tick_interval":      c.TickInterval,
		"broadcast_interval": c.BroadcastInterval,
		"lobby_interval":     c.LobbyInterval,
		"save_debounce":      c.SaveDebounce,
		"grace_period":       c.GracePeriod,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, errors.New("idle_timeout must not be negative"))
	}
	switch c.Store.Driver {
	case "file", "redis", "none":
	case "sql":
		if c.Store.SQLDialect != "sqlite" && c.Store.SQLDialect != "postgres" {
			errs = append(errs, fmt.Errorf("store.sql_dialect %q is not sqlite or postgres", c.Store.SQLDialect))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not file, redis, sql or none", c.Store.Driver))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	for _, sink := range c.Events.Sinks {
		if sink != "console" && sink != "json" && sink != "memory" {
			errs = append(errs, fmt.Errorf("events.sinks: unknown sink %q", sink))
		}
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit values must not be negative"))
	}
	return errors.Join(errs...)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, strings.ToLower(part))
			}
		}
	}
	return out
}
