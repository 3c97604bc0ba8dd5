// Package config handles loading and validating the drip engine configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DRIP_DRY_RUN.
const EnvPrefix = "DRIP"

// ConfigParseError indicates a configuration file exists but contains invalid content.
// This is distinct from "file not found" errors, which should use default config.
type ConfigParseError struct {
	Path string
	Err  error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("invalid config at %s: %v", e.Path, e.Err)
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// Config holds the knobs of the drip email engine.
type Config struct {
	// DryRun creates drafts instead of sending emails.
	DryRun bool `yaml:"dry_run" envconfig:"DRY_RUN"`
	// DailySendLimit caps onboarding and coverage emails per UTC day.
	DailySendLimit int `yaml:"daily_send_limit" envconfig:"DAILY_SEND_LIMIT"`
	// SalvageSendLimit caps salvage emails per run.
	SalvageSendLimit int `yaml:"salvage_send_limit" envconfig:"SALVAGE_SEND_LIMIT"`
	// FirstEmailDay is the number of days after install before the first onboarding email.
	FirstEmailDay int `yaml:"first_email_day" envconfig:"FIRST_EMAIL_DAY"`
	// GapDays is the number of days between consecutive onboarding emails.
	GapDays int `yaml:"gap_days" envconfig:"GAP_DAYS"`
	// FreeCreditUSD is the balance salvaged owners are topped up to.
	FreeCreditUSD float64 `yaml:"free_credit_usd" envconfig:"FREE_CREDIT_USD"`
	// PageSize is the number of installations fetched per batch.
	PageSize int `yaml:"page_size" envconfig:"PAGE_SIZE"`

	// FromAddress is the sender, e.g. "Wes from GitAuto <wes@gitauto.ai>".
	FromAddress string `yaml:"from_address" envconfig:"FROM_ADDRESS"`
	// ReplyTo receives replies; replies are tracked to stop further emails.
	ReplyTo string `yaml:"reply_to" envconfig:"REPLY_TO"`
	// SlackChannel receives run start and summary messages.
	SlackChannel string `yaml:"slack_channel" envconfig:"SLACK_CHANNEL"`

	// SendDelay and SendJitter schedule live sends at now+delay+rand[0,jitter).
	SendDelay  time.Duration `yaml:"send_delay" envconfig:"SEND_DELAY"`
	SendJitter time.Duration `yaml:"send_jitter" envconfig:"SEND_JITTER"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DryRun:           true,
		DailySendLimit:   50,
		SalvageSendLimit: 20,
		FirstEmailDay:    1,
		GapDays:          3,
		FreeCreditUSD:    5,
		PageSize:         100,
		FromAddress:      "Wes from GitAuto <wes@gitauto.ai>",
		ReplyTo:          "wes@gitauto.ai",
		SlackChannel:     "#drip-emails",
		SendDelay:        time.Hour,
		SendJitter:       2 * time.Hour,
	}
}

// Load reads the config file at path (optional), applies DRIP_* environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	fromFile := false

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			config, err = parse(content)
			if err != nil {
				// Wrap parse errors so callers can distinguish from read errors
				return nil, &ConfigParseError{Path: path, Err: err}
			}
			fromFile = true
		}
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		if fromFile {
			return nil, &ConfigParseError{Path: path, Err: err}
		}
		return nil, err
	}

	return config, nil
}

// Parse parses and validates a config from YAML content on top of the defaults.
func Parse(content []byte) (*Config, error) {
	config, err := parse(content)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func parse(content []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(content, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DailySendLimit < 0 {
		return fmt.Errorf("invalid daily_send_limit: %d (must be >= 0)", c.DailySendLimit)
	}
	if c.SalvageSendLimit < 0 {
		return fmt.Errorf("invalid salvage_send_limit: %d (must be >= 0)", c.SalvageSendLimit)
	}
	if c.FirstEmailDay < 0 {
		return fmt.Errorf("invalid first_email_day: %d (must be >= 0)", c.FirstEmailDay)
	}
	if c.GapDays < 1 {
		return fmt.Errorf("invalid gap_days: %d (must be >= 1)", c.GapDays)
	}
	if c.FreeCreditUSD < 0 {
		return fmt.Errorf("invalid free_credit_usd: %v (must be >= 0)", c.FreeCreditUSD)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("invalid page_size: %d (must be >= 1)", c.PageSize)
	}
	if c.FromAddress == "" {
		return fmt.Errorf("from_address is required")
	}
	if c.SendDelay < 0 || c.SendJitter < 0 {
		return fmt.Errorf("send_delay and send_jitter must not be negative")
	}
	return nil
}
