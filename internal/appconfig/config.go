package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	Backend       BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Conn          ConnConfig      `mapstructure:"conn" yaml:"conn"`
	HTTP          HTTPConfig      `mapstructure:"http" yaml:"http"`
	Detection     DetectionConfig `mapstructure:"detection" yaml:"detection"`
	Vault         VaultConfig     `mapstructure:"vault" yaml:"vault"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// BackendConfig points at the assistant backend.
type BackendConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	SocketURL string `mapstructure:"socket_url" yaml:"socket_url"`
}

// ConnConfig tunes the backend socket lifecycle.
type ConnConfig struct {
	ReconnectBaseMs   int     `mapstructure:"reconnect_base_ms" yaml:"reconnect_base_ms"`
	ReconnectGrowth   float64 `mapstructure:"reconnect_growth" yaml:"reconnect_growth"`
	ReconnectMaxMs    int     `mapstructure:"reconnect_max_ms" yaml:"reconnect_max_ms"`
	KeepaliveSeconds  int     `mapstructure:"keepalive_seconds" yaml:"keepalive_seconds"`
	MaxReconnectTries int     `mapstructure:"max_reconnect_tries" yaml:"max_reconnect_tries"`
}

// HTTPConfig configures the tab-facing HTTP server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DetectionConfig tunes form detection and fill feedback.
type DetectionConfig struct {
	MinFormFields int `mapstructure:"min_form_fields" yaml:"min_form_fields"`
	DebounceMs    int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	HighlightMs   int `mapstructure:"highlight_ms" yaml:"highlight_ms"`
}

// VaultConfig configures at-rest encryption of the session registry.
type VaultConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	KeyStorePath string `mapstructure:"key_store_path" yaml:"key_store_path"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".formvox", "state"),
		Backend: BackendConfig{
			BaseURL:   "http://127.0.0.1:27490",
			SocketURL: "ws://127.0.0.1:27490/api/v1/push",
		},
		Conn: ConnConfig{
			ReconnectBaseMs:   1000,
			ReconnectGrowth:   2.0,
			ReconnectMaxMs:    30000,
			KeepaliveSeconds:  20,
			MaxReconnectTries: 10,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:27491",
		},
		Detection: DetectionConfig{
			MinFormFields: 2,
			DebounceMs:    500,
			HighlightMs:   1500,
		},
		Vault: VaultConfig{
			Enabled:      true,
			KeyStorePath: filepath.Join(home, ".formvox", "state", "keys.bundle"),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".formvox", "config.yaml"), nil
}
