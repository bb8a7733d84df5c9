// Package config provides configuration management for the trading core.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// Environment selects the brokerage environment.
type Environment string

const (
	EnvProd    Environment = "prod"
	EnvStaging Environment = "stg"
	EnvDev     Environment = "dev"
)

// Valid reports whether the environment is a known one.
func (e Environment) Valid() bool {
	switch e {
	case EnvProd, EnvStaging, EnvDev:
		return true
	}
	return false
}

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig `mapstructure:"trading"`
	Feed        FeedConfig    `mapstructure:"feed"`
	Credentials Credentials   `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode            string `mapstructure:"mode"`             // "live", "paper"
	DefaultProduct  string `mapstructure:"default_product"`  // NRML, MIS, CNC
	DefaultExchange string `mapstructure:"default_exchange"` // NSE, BSE, MCX
}

// FeedConfig holds push-feed reconnection tuning.
type FeedConfig struct {
	MaxRetries    int     `mapstructure:"max_retries"`
	BaseDelayMS   int     `mapstructure:"base_delay_ms"`
	MaxDelayMS    int     `mapstructure:"max_delay_ms"`
	BackoffGrowth float64 `mapstructure:"backoff_growth"`
}

// Credentials holds the brokerage login material from credentials.toml.
// Never logged in plaintext; see internal/security.
type Credentials struct {
	ConsumerKey string      `mapstructure:"consumer_key"`
	Environment Environment `mapstructure:"environment"`
	Mobile      string      `mapstructure:"mobile"`
	UCC         string      `mapstructure:"ucc"`
	MPIN        string      `mapstructure:"mpin"`
	TOTPSecret  string      `mapstructure:"totp_secret"` // optional, for code auto-generation
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/neotrader"
	}
	return filepath.Join(home, ".config", "neotrader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("trading.mode", "live")
	v.SetDefault("trading.default_product", string(models.ProductNRML))
	v.SetDefault("trading.default_exchange", string(models.NSE))
	v.SetDefault("feed.max_retries", 10)
	v.SetDefault("feed.base_delay_ms", 1000)
	v.SetDefault("feed.max_delay_ms", 30000)
	v.SetDefault("feed.backoff_growth", 2.0)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if werr := createTemplateConfig(configDir); werr != nil {
				return werr
			}
			return v.Unmarshal(target)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("environment", string(EnvProd))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if werr := createTemplateCredentials(configDir); werr != nil {
				return werr
			}
			creds.Environment = EnvProd
			return nil
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEO_CONSUMER_KEY"); v != "" {
		cfg.Credentials.ConsumerKey = v
	}
	if v := os.Getenv("NEO_ENVIRONMENT"); v != "" {
		cfg.Credentials.Environment = Environment(v)
	}
	if v := os.Getenv("NEO_MOBILE"); v != "" {
		cfg.Credentials.Mobile = v
	}
	if v := os.Getenv("NEO_UCC"); v != "" {
		cfg.Credentials.UCC = v
	}
	if v := os.Getenv("NEO_MPIN"); v != "" {
		cfg.Credentials.MPIN = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}
	if c.Credentials.Environment != "" && !c.Credentials.Environment.Valid() {
		return fmt.Errorf("invalid environment: %s (must be prod, stg or dev)", c.Credentials.Environment)
	}
	if c.Feed.MaxRetries < 0 {
		return fmt.Errorf("feed.max_retries must be non-negative")
	}
	if c.Feed.BackoffGrowth != 0 && c.Feed.BackoffGrowth < 1 {
		return fmt.Errorf("feed.backoff_growth must be >= 1")
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// SaveCredentials persists the credential fields back to credentials.toml.
// Called after a successful login so later sessions can prefill them.
func SaveCredentials(configDir string, creds Credentials) error {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("consumer_key", creds.ConsumerKey)
	v.Set("environment", string(creds.Environment))
	v.Set("mobile", creds.Mobile)
	v.Set("ucc", creds.UCC)
	v.Set("mpin", creds.MPIN)
	if creds.TOTPSecret != "" {
		v.Set("totp_secret", creds.TOTPSecret)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if err := v.WriteConfigAs(path); err != nil {
		return err
	}
	return os.Chmod(path, 0600)
}
