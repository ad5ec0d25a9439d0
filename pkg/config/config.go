package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor helpers.
//
// Example (~/.consync/config.yaml):
//
// api:
//   base_url: https://claude.ai/api
//   page_limit: 30
// storage:
//   data_dir: /home/me/.consync
// transport:
//   curl_path: curl
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.

type AppConfig struct {
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Transport TransportConfig `yaml:"transport"`
}

type APIConfig struct {
	BaseURL   *string `yaml:"base_url"`
	PageLimit *int    `yaml:"page_limit"`
	Locale    *string `yaml:"locale"`
}

type StorageConfig struct {
	DataDir *string `yaml:"data_dir"`
}

type TransportConfig struct {
	CurlPath *string `yaml:"curl_path"`
}

const (
	DefaultBaseURL   = "https://claude.ai/api"
	DefaultPageLimit = 30
	DefaultLocale    = "en-US"
	DefaultCurlPath  = "curl"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".consync")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.consync/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}
	// Defaults are applied via the accessor helpers.

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	if strings.TrimSpace(cfg.BaseURL()) == "" {
		return nil, "", fmt.Errorf("invalid api.base_url (empty) in %s", configFile)
	}
	if limit := cfg.PageLimit(); limit < 1 || limit > 1000 {
		return nil, "", fmt.Errorf("invalid api.page_limit %d in %s", limit, configFile)
	}
	if strings.TrimSpace(cfg.DataDir()) == "" {
		// Data dir default depends on the home dir resolved above.
		cfg.Storage.DataDir = &configDir
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat config file %s: %w", configFile, err)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	content := fmt.Sprintf(
		"api:\n  base_url: %s\n  page_limit: %d\n  locale: %s\nstorage:\n  data_dir: %s\ntransport:\n  curl_path: %s\n",
		DefaultBaseURL, DefaultPageLimit, DefaultLocale, configDir, DefaultCurlPath,
	)
	if err := os.WriteFile(configFile, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write default config %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) BaseURL() string {
	if c.API.BaseURL != nil {
		return strings.TrimRight(*c.API.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (c *AppConfig) PageLimit() int {
	if c.API.PageLimit != nil {
		return *c.API.PageLimit
	}
	return DefaultPageLimit
}

func (c *AppConfig) Locale() string {
	if c.API.Locale != nil && strings.TrimSpace(*c.API.Locale) != "" {
		return *c.API.Locale
	}
	return DefaultLocale
}

func (c *AppConfig) DataDir() string {
	if c.Storage.DataDir != nil {
		return *c.Storage.DataDir
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return ""
	}
	return configDir
}

func (c *AppConfig) CurlPath() string {
	if c.Transport.CurlPath != nil && strings.TrimSpace(*c.Transport.CurlPath) != "" {
		return *c.Transport.CurlPath
	}
	return DefaultCurlPath
}
