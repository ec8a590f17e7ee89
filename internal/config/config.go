// Package config loads and validates the engine configuration from YAML and
// environment, and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// Config holds the full engine configuration.
type Config struct {
	Store   StoreConfig               `yaml:"store" mapstructure:"store"`
	Server  ServerConfig              `yaml:"server" mapstructure:"server"`
	Log     LogConfig                 `yaml:"log" mapstructure:"log"`
	Queue   QueueConfig               `yaml:"queue" mapstructure:"queue"`
	Retry   RetryConfig               `yaml:"retry" mapstructure:"retry"`
	Breaker BreakerConfig             `yaml:"breaker" mapstructure:"breaker"`
	Monitor MonitorConfig             `yaml:"monitor" mapstructure:"monitor"`
	Notify  NotifyConfig              `yaml:"notify" mapstructure:"notify"`
	Phases  map[string]PhaseConfig    `yaml:"phases" mapstructure:"phases"`
	Rate    map[string]RateLaneConfig `yaml:"rate" mapstructure:"rate"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// QueueConfig configures the durable job queue.
type QueueConfig struct {
	LeaseDurationSecs int `yaml:"lease_duration_secs" mapstructure:"lease_duration_secs"`
	MaxAttempts       int `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelaySecs    int `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
}

// LeaseDuration returns the configured lease duration.
func (q QueueConfig) LeaseDuration() time.Duration {
	return time.Duration(q.LeaseDurationSecs) * time.Second
}

// RetryDelay returns the delay before a failed entry becomes eligible again.
func (q QueueConfig) RetryDelay() time.Duration {
	return time.Duration(q.RetryDelaySecs) * time.Second
}

// RetryConfig configures the retry executor for external service calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// BreakerConfig configures per-service circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold" mapstructure:"success_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitorConfig configures the background pipeline watchdog.
type MonitorConfig struct {
	CheckIntervalSecs int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StuckWindowSecs   int `yaml:"stuck_window_secs" mapstructure:"stuck_window_secs"`
	MaxRecoveries     int `yaml:"max_recoveries" mapstructure:"max_recoveries"`
}

// StuckWindow returns the no-progress window after which a phase counts as stuck.
func (m MonitorConfig) StuckWindow() time.Duration {
	return time.Duration(m.StuckWindowSecs) * time.Second
}

// NotifyConfig configures the status-change notification sink.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// RateLaneConfig limits outbound calls to one downstream service.
type RateLaneConfig struct {
	PerSecond float64 `yaml:"per_second" mapstructure:"per_second"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// PhaseConfig is the typed per-phase configuration. Keys of Config.Phases
// must be members of the closed phase enumeration; Validate rejects anything
// else at startup.
type PhaseConfig struct {
	Enabled          bool    `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	SuccessThreshold float64 `yaml:"success_threshold" mapstructure:"success_threshold"`
	MinSuccesses     int     `yaml:"min_successes" mapstructure:"min_successes"`
	MaxItemAttempts  int     `yaml:"max_item_attempts" mapstructure:"max_item_attempts"`
	Critical         bool    `yaml:"critical" mapstructure:"critical"`
}

// Timeout returns the phase wall-clock budget.
func (p PhaseConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// Phase returns the configuration for the named phase. All nine phases carry
// defaults, so lookups never miss for valid names.
func (c *Config) Phase(name model.PhaseName) PhaseConfig {
	return c.Phases[string(name)]
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CYLVY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("queue.lease_duration_secs", 120)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.retry_delay_secs", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 1)
	v.SetDefault("breaker.reset_timeout_secs", 30)
	v.SetDefault("monitor.check_interval_secs", 60)
	v.SetDefault("monitor.stuck_window_secs", 600)
	v.SetDefault("monitor.max_recoveries", 2)

	for _, p := range model.AllPhases() {
		key := "phases." + string(p)
		v.SetDefault(key+".enabled", true)
		v.SetDefault(key+".timeout_secs", 1800)
		v.SetDefault(key+".concurrency", 10)
		v.SetDefault(key+".success_threshold", 0.8)
		v.SetDefault(key+".min_successes", 1)
		v.SetDefault(key+".max_item_attempts", 3)
	}
	v.SetDefault("phases.serp_collection.critical", true)
	v.SetDefault("phases.company_enrichment.concurrency", 15)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration once at startup, so bad per-phase
// settings fail the process instead of the first execution that hits them.
func (c *Config) Validate() error {
	for name, pc := range c.Phases {
		if !model.ValidPhase(model.PhaseName(name)) {
			return eris.Errorf("config: unknown phase %q", name)
		}
		if pc.TimeoutSecs <= 0 {
			return eris.Errorf("config: phase %s: timeout_secs must be positive", name)
		}
		if pc.Concurrency <= 0 {
			return eris.Errorf("config: phase %s: concurrency must be positive", name)
		}
		if pc.SuccessThreshold <= 0 || pc.SuccessThreshold > 1 {
			return eris.Errorf("config: phase %s: success_threshold must be in (0, 1]", name)
		}
		if pc.MaxItemAttempts <= 0 {
			return eris.Errorf("config: phase %s: max_item_attempts must be positive", name)
		}
	}
	if c.Queue.LeaseDurationSecs <= 0 {
		return eris.New("config: queue.lease_duration_secs must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return eris.New("config: queue.max_attempts must be positive")
	}
	if c.Monitor.CheckIntervalSecs <= 0 {
		return eris.New("config: monitor.check_interval_secs must be positive")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
