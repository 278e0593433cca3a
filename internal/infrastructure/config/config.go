package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type VenueConfig struct {
	Enabled bool   `toml:"enabled"`
	WsURL   string `toml:"ws_url"`
	RestURL string `toml:"rest_url"`
	Quote   string `toml:"quote"`
}

type SymbolMapping struct {
	Coin       string `toml:"coin"`
	Venue      string `toml:"venue"`
	Instrument string `toml:"instrument"`
}

type Config struct {
	App struct {
		PrintEveryMin int `toml:"print_every_min"`
	} `toml:"app"`

	Symbols struct {
		List           []string        `toml:"list"`
		Priority       []string        `toml:"priority"`
		Map            []SymbolMapping `toml:"map"`
		NegativeTTLSec int             `toml:"negative_ttl_sec"`
	} `toml:"symbols"`

	Engine struct {
		StepMs               int     `toml:"step_ms"`
		ThrottleMs           int     `toml:"throttle_ms"`
		PriorityThrottleMs   int     `toml:"priority_throttle_ms"`
		MaxChangeFraction    float64 `toml:"max_change_fraction"`
		SignificanceFraction float64 `toml:"significance_fraction"`
		InterpSteps          int     `toml:"interp_steps"`
		VolumeLowRatio       float64 `toml:"volume_low_ratio"`
		VolumeHighRatio      float64 `toml:"volume_high_ratio"`
	} `toml:"engine"`

	Fallback struct {
		PollSec     int      `toml:"poll_sec"`
		FailLimit   int      `toml:"fail_limit"`
		LivenessSec int      `toml:"liveness_sec"`
		VenueOrder  []string `toml:"venue_order"`
	} `toml:"fallback"`

	Session struct {
		ConnectTimeoutSec int `toml:"connect_timeout_sec"`
		PingSec           int `toml:"ping_sec"`
		HealthSec         int `toml:"health_sec"`
		MaxAgeMin         int `toml:"max_age_min"`
		BackoffBaseMs     int `toml:"backoff_base_ms"`
		BackoffMaxSec     int `toml:"backoff_max_sec"`
		BackoffJitterMs   int `toml:"backoff_jitter_ms"`
		MaxAttempts       int `toml:"max_attempts"`
	} `toml:"session"`

	Venues map[string]VenueConfig `toml:"venues"`

	Cache struct {
		TTLMin     int    `toml:"ttl_min"`
		SaveSec    int    `toml:"save_sec"`
		SqlitePath string `toml:"sqlite_path"`

		Redis struct {
			Enabled bool   `toml:"enabled"`
			Addr    string `toml:"addr"`
			Prefix  string `toml:"prefix"`
		} `toml:"redis"`

		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`
	} `toml:"cache"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.PrintEveryMin <= 0 {
		cfg.App.PrintEveryMin = 5
	}
	if cfg.Symbols.NegativeTTLSec <= 0 {
		cfg.Symbols.NegativeTTLSec = 600
	}

	if cfg.Engine.StepMs <= 0 {
		cfg.Engine.StepMs = 100
	}
	if cfg.Engine.ThrottleMs <= 0 {
		cfg.Engine.ThrottleMs = 1500
	}
	if cfg.Engine.PriorityThrottleMs <= 0 {
		cfg.Engine.PriorityThrottleMs = 500
	}
	if cfg.Engine.MaxChangeFraction <= 0 {
		cfg.Engine.MaxChangeFraction = 0.10
	}
	if cfg.Engine.SignificanceFraction <= 0 {
		cfg.Engine.SignificanceFraction = 0.0005
	}
	if cfg.Engine.InterpSteps <= 0 {
		cfg.Engine.InterpSteps = 10
	}
	if cfg.Engine.VolumeLowRatio <= 0 {
		cfg.Engine.VolumeLowRatio = 0.1
	}
	if cfg.Engine.VolumeHighRatio <= 0 {
		cfg.Engine.VolumeHighRatio = 2.0
	}

	if cfg.Fallback.PollSec <= 0 {
		cfg.Fallback.PollSec = 10
	}
	if cfg.Fallback.FailLimit <= 0 {
		cfg.Fallback.FailLimit = 2
	}
	if cfg.Fallback.LivenessSec <= 0 {
		cfg.Fallback.LivenessSec = 30
	}

	if cfg.Session.ConnectTimeoutSec <= 0 {
		cfg.Session.ConnectTimeoutSec = 10
	}
	if cfg.Session.PingSec <= 0 {
		cfg.Session.PingSec = 25
	}
	if cfg.Session.HealthSec <= 0 {
		cfg.Session.HealthSec = 30
	}
	if cfg.Session.MaxAgeMin <= 0 {
		cfg.Session.MaxAgeMin = 23 * 60
	}
	if cfg.Session.BackoffBaseMs <= 0 {
		cfg.Session.BackoffBaseMs = 500
	}
	if cfg.Session.BackoffMaxSec <= 0 {
		cfg.Session.BackoffMaxSec = 60
	}
	if cfg.Session.BackoffJitterMs <= 0 {
		cfg.Session.BackoffJitterMs = 250
	}
	if cfg.Session.MaxAttempts <= 0 {
		cfg.Session.MaxAttempts = 10
	}

	if cfg.Cache.TTLMin <= 0 {
		cfg.Cache.TTLMin = 60
	}
	if cfg.Cache.SaveSec <= 0 {
		cfg.Cache.SaveSec = 30
	}
	if strings.TrimSpace(cfg.Cache.SqlitePath) == "" {
		cfg.Cache.SqlitePath = "pricemux.db"
	}
	if cfg.Cache.Redis.Enabled && strings.TrimSpace(cfg.Cache.Redis.Prefix) == "" {
		cfg.Cache.Redis.Prefix = "pricemux"
	}

	for name, v := range cfg.Venues {
		if strings.TrimSpace(v.Quote) == "" {
			v.Quote = "USDT"
			cfg.Venues[name] = v
		}
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	cfg.Symbols.Priority = normalizeSymbols(cfg.Symbols.Priority)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}

	if cfg.Engine.VolumeHighRatio <= cfg.Engine.VolumeLowRatio {
		return errors.New("engine.volume_high_ratio must exceed engine.volume_low_ratio")
	}

	enabled := 0
	for name, v := range cfg.Venues {
		if !v.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(v.WsURL) == "" {
			return fmt.Errorf("venues.%s.ws_url empty but enabled", name)
		}
	}
	if enabled == 0 {
		return errors.New("no venue enabled")
	}

	if cfg.Cache.Redis.Enabled && strings.TrimSpace(cfg.Cache.Redis.Addr) == "" {
		return errors.New("cache.redis.addr empty but enabled")
	}
	if cfg.Cache.Postgres.Enabled && strings.TrimSpace(cfg.Cache.Postgres.DSN) == "" {
		return errors.New("cache.postgres.dsn empty but enabled")
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Duration accessors, so callers never re-derive units.

func (c *Config) StepInterval() time.Duration { return time.Duration(c.Engine.StepMs) * time.Millisecond }

func (c *Config) ThrottleWindow() time.Duration {
	return time.Duration(c.Engine.ThrottleMs) * time.Millisecond
}

func (c *Config) PriorityThrottleWindow() time.Duration {
	return time.Duration(c.Engine.PriorityThrottleMs) * time.Millisecond
}

func (c *Config) FallbackPoll() time.Duration { return time.Duration(c.Fallback.PollSec) * time.Second }

func (c *Config) LivenessWindow() time.Duration {
	return time.Duration(c.Fallback.LivenessSec) * time.Second
}

func (c *Config) CacheTTL() time.Duration { return time.Duration(c.Cache.TTLMin) * time.Minute }

func (c *Config) SaveInterval() time.Duration { return time.Duration(c.Cache.SaveSec) * time.Second }

func (c *Config) PrintInterval() time.Duration {
	return time.Duration(c.App.PrintEveryMin) * time.Minute
}

func (c *Config) NegativeTTL() time.Duration {
	return time.Duration(c.Symbols.NegativeTTLSec) * time.Second
}
