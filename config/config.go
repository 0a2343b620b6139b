// Package config binds the rate limiter's recognized configuration options
// to a loadable, hot-reloadable settings object. This is the engine's own
// configuration layer, not HTTP/DI glue: it produces the typed structs
// algo.Config, breaker.Config, throttle.Config, and audit.Config consume,
// nothing framework-specific.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/manojcchoudhary/ratelimitcore/algo"
)

// CompilerMode selects the expression compilation policy. It is carried for
// completeness of the configuration surface even though this module's
// resolver always compiles eagerly on first use; the knob is honored as a
// passthrough for integrators that want to gate compilation at their own
// call site.
type CompilerMode string

const (
	CompilerOff       CompilerMode = "off"
	CompilerMixed     CompilerMode = "mixed"
	CompilerImmediate CompilerMode = "immediate"
)

// StorageType selects the storage topology.
type StorageType string

const (
	StorageInMemory    StorageType = "in_memory"
	StorageLocal       StorageType = "local"
	StorageDistributed StorageType = "distributed"
	StorageTiered      StorageType = "tiered"
)

// LimiterSpec is one named limiter policy as read from configuration, prior
// to algo.Config.Normalize() defaulting and validation.
type LimiterSpec struct {
	Name         string        `mapstructure:"name"`
	Algorithm    string        `mapstructure:"algorithm"`
	Limit        int64         `mapstructure:"limit"`
	Window       time.Duration `mapstructure:"window"`
	Capacity     int64         `mapstructure:"capacity"`
	RefillRate   float64       `mapstructure:"refill_rate"`
	TTL          time.Duration `mapstructure:"ttl"`
	FailStrategy string        `mapstructure:"fail_strategy"`
}

// ToAlgoConfig converts a LimiterSpec into an algo.Config and normalizes it,
// returning the same *algo.ConfigError Normalize would: configuration errors
// fail fast at construction and are never silently defaulted away.
func (s LimiterSpec) ToAlgoConfig() (algo.Config, error) {
	var kind algo.Kind
	switch strings.ToLower(s.Algorithm) {
	case "token_bucket", "tokenbucket":
		kind = algo.TokenBucket
	case "sliding_window", "slidingwindow":
		kind = algo.SlidingWindow
	case "fixed_window", "fixedwindow":
		kind = algo.FixedWindow
	default:
		return algo.Config{}, &algo.ConfigError{Field: "Algorithm", Reason: fmt.Sprintf("unrecognized algorithm %q", s.Algorithm)}
	}

	fs := algo.FailOpen
	if strings.EqualFold(s.FailStrategy, "fail_closed") {
		fs = algo.FailClosed
	}

	cfg := algo.Config{
		Name:         s.Name,
		Kind:         kind,
		Limit:        s.Limit,
		Window:       s.Window,
		Capacity:     s.Capacity,
		RefillRate:   s.RefillRate,
		TTL:          s.TTL,
		FailStrategy: fs,
	}
	if err := cfg.Normalize(); err != nil {
		return algo.Config{}, err
	}
	return cfg, nil
}

// Config is the root configuration surface, bound from file/env via viper.
type Config struct {
	Enabled bool `mapstructure:"enabled"`

	Spel struct {
		CompilerMode CompilerMode `mapstructure:"compiler_mode"`
		CacheSize    int          `mapstructure:"cache_size"`
	} `mapstructure:"spel"`

	Proxy struct {
		TrustedHops     int      `mapstructure:"trusted_hops"`
		TrustedProxies  []string `mapstructure:"trusted_proxies"`
	} `mapstructure:"proxy"`

	Throttling struct {
		Enabled    bool    `mapstructure:"enabled"`
		SoftLimit  float64 `mapstructure:"soft_limit"`
		HardLimit  float64 `mapstructure:"hard_limit"`
		MaxDelayMs int64   `mapstructure:"max_delay_ms"`
		Strategy   string  `mapstructure:"strategy"`
	} `mapstructure:"throttling"`

	Storage struct {
		Type StorageType `mapstructure:"type"`
	} `mapstructure:"storage"`

	CircuitBreaker struct {
		FailureThreshold float64       `mapstructure:"failure_threshold"`
		Window           time.Duration `mapstructure:"window"`
		HalfOpenDelay    time.Duration `mapstructure:"half_open_delay"`
	} `mapstructure:"circuit_breaker"`

	Fail struct {
		Strategy string `mapstructure:"strategy"`
	} `mapstructure:"fail"`

	ProblemDetails struct {
		Enabled          bool   `mapstructure:"enabled"`
		TypeURI          string `mapstructure:"type_uri"`
		IncludeExtensions bool  `mapstructure:"include_extensions"`
	} `mapstructure:"problem_details"`

	Limiters []LimiterSpec `mapstructure:"limiters"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("enabled", true)
	v.SetDefault("spel.compiler_mode", string(CompilerImmediate))
	v.SetDefault("spel.cache_size", 1000)
	v.SetDefault("proxy.trusted_hops", 1)
	v.SetDefault("throttling.enabled", false)
	v.SetDefault("throttling.max_delay_ms", 2000)
	v.SetDefault("throttling.strategy", "linear")
	v.SetDefault("storage.type", string(StorageTiered))
	v.SetDefault("circuit_breaker.failure_threshold", 0.5)
	v.SetDefault("circuit_breaker.window", "10s")
	v.SetDefault("circuit_breaker.half_open_delay", "30s")
	v.SetDefault("fail.strategy", "fail_open")
	v.SetDefault("problem_details.enabled", false)
	v.SetDefault("problem_details.type_uri", "about:blank")
}

// ThrottleStrategy returns throttling.strategy as the throttle package's
// Strategy enum ("linear" unless exactly "exponential").
func (c Config) ThrottleStrategy() int {
	if strings.EqualFold(c.Throttling.Strategy, "exponential") {
		return 1
	}
	return 0
}

// Watcher loads Config from a file via viper, watches it for changes with
// fsnotify, and invokes a callback on every successful reload.
type Watcher struct {
	v   *viper.Viper
	log *zap.Logger

	mu  sync.RWMutex
	cur Config
}

// NewWatcher loads path once and returns a Watcher positioned at the
// resulting Config. path may be empty, in which case only defaults and
// environment variables (prefixed RATELIMITCORE_) apply.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ratelimitcore")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ratelimitcore: reading config %s: %w", path, err)
		}
	}

	w := &Watcher{v: v, log: log}
	if err := w.reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Current returns the most recently loaded Config. Safe for concurrent use.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

func (w *Watcher) reload() error {
	var c Config
	if err := w.v.Unmarshal(&c); err != nil {
		return fmt.Errorf("ratelimitcore: decoding config: %w", err)
	}
	w.mu.Lock()
	w.cur = c
	w.mu.Unlock()
	return nil
}

// Watch starts watching the config file for changes, invoking onChange
// after every successful reload. It returns immediately; watching continues
// until the underlying viper instance is garbage collected or the process
// exits, matching fsnotify's own lifecycle (there is no explicit Stop in
// viper's API).
func (w *Watcher) Watch(onChange func(Config)) {
	w.v.OnConfigChange(func(e fsnotify.Event) {
		if err := w.reload(); err != nil {
			w.log.Warn("config reload failed, keeping previous config",
				zap.String("file", e.Name), zap.Error(err))
			return
		}
		w.log.Info("config reloaded", zap.String("file", e.Name))
		if onChange != nil {
			onChange(w.Current())
		}
	})
	w.v.WatchConfig()
}
