// Package config loads engine configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantdesk/trading-engine/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full engine configuration tree.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Provider ProviderConfig `mapstructure:"provider"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Risk     RiskConfig     `mapstructure:"risk"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type ProviderConfig struct {
	// BaseURL of the historical candle endpoint. Empty means synthetic
	// data only.
	BaseURL      string        `mapstructure:"base_url"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type EngineConfig struct {
	DefaultInterval       string  `mapstructure:"default_interval"`
	DefaultCommissionRate float64 `mapstructure:"default_commission_rate"`
	DefaultSlippageBps    float64 `mapstructure:"default_slippage_bps"`
}

type RiskConfig struct {
	DailyLossLimitPct float64       `mapstructure:"daily_loss_limit_pct"`
	RecoveryDelay     time.Duration `mapstructure:"recovery_delay"`
	AutoSuspend       bool          `mapstructure:"auto_suspend"`
}

// Limits converts the risk section into monitor limits.
func (c RiskConfig) Limits() risk.Limits {
	return risk.Limits{
		DailyLossLimitPct: decimal.NewFromFloat(c.DailyLossLimitPct),
		RecoveryDelay:     c.RecoveryDelay,
		AutoSuspend:       c.AutoSuspend,
	}
}

// Load reads configuration from the given file (optional) and from
// QDESK_-prefixed environment variables, over built-in defaults.
// Environment keys use underscores, e.g. QDESK_RISK_DAILY_LOSS_LIMIT_PCT.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9105")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.fetch_timeout", 10*time.Second)
	v.SetDefault("provider.cache_ttl", 5*time.Minute)
	v.SetDefault("engine.default_interval", "1h")
	v.SetDefault("engine.default_commission_rate", 0.001)
	v.SetDefault("engine.default_slippage_bps", 0)
	v.SetDefault("risk.daily_loss_limit_pct", 0.05)
	v.SetDefault("risk.recovery_delay", 24*time.Hour)
	v.SetDefault("risk.auto_suspend", true)

	v.SetEnvPrefix("QDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
