package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"signalbot/internal/model"
)

// Config is the full application configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Database DatabaseConfig `json:"database"`
	Dispatch DispatchConfig `json:"dispatch"`
	Logging  LoggingConfig  `json:"logging"`
	Analysis AnalysisConfig `json:"analysis,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type DatabaseConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DispatchConfig controls the dispatch coordinator.
//
// Defaults (when fields are omitted/zero):
//   - schedule: "@every 30s"
//   - workers: 4
//   - rate_per_sec: 10
//   - send_timeout: "10s"
type DispatchConfig struct {
	Schedule    string `json:"schedule,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// AnalysisConfig is consumed as given by the external analysis engine; the
// store only enforces the hard confidence range on submitted signals.
type AnalysisConfig struct {
	MinConfidence int      `json:"min_confidence,omitempty"`
	CryptoSymbols []string `json:"crypto_symbols,omitempty"`
	StockSymbols  []string `json:"stock_symbols,omitempty"`
	ETFSymbols    []string `json:"etf_symbols,omitempty"`
}

// Validate checks settings a running bot cannot do without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	for name, raw := range map[string]string{
		"telegram.poll_timeout": c.Telegram.PollTimeout,
		"database.busy_timeout": c.Database.BusyTimeout,
		"dispatch.send_timeout": c.Dispatch.SendTimeout,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if mc := c.Analysis.MinConfidence; mc != 0 && (mc < model.MinConfidence || mc > model.MaxConfidence) {
		return fmt.Errorf("analysis.min_confidence %d out of range [%d,%d]", mc, model.MinConfidence, model.MaxConfidence)
	}
	return nil
}

// Duration helpers; empty strings mean "use the default".

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

func (c TelegramConfig) PollTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.PollTimeout)
	return d
}

func (c DatabaseConfig) BusyTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.BusyTimeout)
	return d
}

func (c DispatchConfig) SendTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.SendTimeout)
	return d
}
