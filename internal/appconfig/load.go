package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/formvox/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FORMVOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.socket_url", cfg.Backend.SocketURL)
	v.SetDefault("conn.reconnect_base_ms", cfg.Conn.ReconnectBaseMs)
	v.SetDefault("conn.reconnect_growth", cfg.Conn.ReconnectGrowth)
	v.SetDefault("conn.reconnect_max_ms", cfg.Conn.ReconnectMaxMs)
	v.SetDefault("conn.keepalive_seconds", cfg.Conn.KeepaliveSeconds)
	v.SetDefault("conn.max_reconnect_tries", cfg.Conn.MaxReconnectTries)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("detection.min_form_fields", cfg.Detection.MinFormFields)
	v.SetDefault("detection.debounce_ms", cfg.Detection.DebounceMs)
	v.SetDefault("detection.highlight_ms", cfg.Detection.HighlightMs)
	v.SetDefault("vault.enabled", cfg.Vault.Enabled)
	v.SetDefault("vault.key_store_path", cfg.Vault.KeyStorePath)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateBackendConfig(cfg.Backend); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateBackendConfig(cfg BackendConfig) error {
	base := strings.TrimSpace(cfg.BaseURL)
	if base != "" {
		parsed, err := url.Parse(base)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("backend.base_url must include scheme and host (e.g. http://127.0.0.1:27490)")
		}
	}
	socket := strings.TrimSpace(cfg.SocketURL)
	if socket != "" {
		parsed, err := url.Parse(socket)
		if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") {
			return fmt.Errorf("backend.socket_url must be a ws:// or wss:// URL")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Backend.BaseURL = expandEnv(cfg.Backend.BaseURL)
	cfg.Backend.SocketURL = expandEnv(cfg.Backend.SocketURL)
	cfg.Vault.KeyStorePath = expandEnv(cfg.Vault.KeyStorePath)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// ServiceConfig converts the loaded config to the core service settings.
func (c Config) ServiceConfig() (schema.ServiceConfig, error) {
	return schema.NormalizeServiceConfig(schema.ServiceConfig{
		StateDir:          c.StateDir,
		KeyStorePath:      c.Vault.KeyStorePath,
		MinFormFields:     c.Detection.MinFormFields,
		HighlightDuration: time.Duration(c.Detection.HighlightMs) * time.Millisecond,
		DebounceInterval:  time.Duration(c.Detection.DebounceMs) * time.Millisecond,
	})
}

// ConnSettings converts the loaded config to socket lifecycle settings.
func (c Config) ConnSettings() schema.ConnConfig {
	return schema.NormalizeConnConfig(schema.ConnConfig{
		URL:                  c.Backend.SocketURL,
		ReconnectBase:        time.Duration(c.Conn.ReconnectBaseMs) * time.Millisecond,
		ReconnectGrowth:      c.Conn.ReconnectGrowth,
		ReconnectMax:         time.Duration(c.Conn.ReconnectMaxMs) * time.Millisecond,
		KeepaliveInterval:    time.Duration(c.Conn.KeepaliveSeconds) * time.Second,
		MaxReconnectAttempts: c.Conn.MaxReconnectTries,
	})
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
