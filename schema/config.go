package schema

import (
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	StateDir      string
	KeyStorePath  string
	MinFormFields int
	// HighlightDuration overrides the fill highlight lifetime when positive.
	HighlightDuration time.Duration
	// DebounceInterval overrides the mutation rescan quiet period when positive.
	DebounceInterval time.Duration
}

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".formvox", "state")
	}
	if cfg.MinFormFields <= 0 {
		cfg.MinFormFields = DefaultMinFormFields
	}
	return cfg, nil
}

// ConnConfig defines backend channel settings.
type ConnConfig struct {
	URL               string
	ReconnectBase     time.Duration
	ReconnectGrowth   float64
	ReconnectMax      time.Duration
	KeepaliveInterval time.Duration
	// MaxReconnectAttempts is carried for configuration compatibility but is
	// never consulted: reconnection retries without bound.
	MaxReconnectAttempts int
}

// Default backend channel settings.
const (
	DefaultReconnectBase     = time.Second
	DefaultReconnectGrowth   = 2.0
	DefaultReconnectMax      = 30 * time.Second
	DefaultKeepaliveInterval = 20 * time.Second
)

// NormalizeConnConfig applies channel defaults.
func NormalizeConnConfig(cfg ConnConfig) ConnConfig {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.ReconnectGrowth <= 1 {
		cfg.ReconnectGrowth = DefaultReconnectGrowth
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultReconnectMax
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	return cfg
}
