package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	emailEnv    = "ANYDOWN_EMAIL"
	passwordEnv = "ANYDOWN_PASSWORD"
)

// Load loads configuration from the global config file, falling back to
// defaults when it is absent or unreadable.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil // Return defaults if no home dir
	}

	path := filepath.Join(home, ".anydown", "config.yaml")
	if err := loadFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return cfg, err
	}

	return cfg, nil
}

// LoadFrom loads configuration from an explicit file path over defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	return v.Unmarshal(cfg)
}

// Email resolves the account email: the environment variable wins over the
// config file. Empty means "not configured, prompt the user".
func (c *Config) Email() string {
	if email := os.Getenv(emailEnv); email != "" {
		return email
	}
	return c.Account.Email
}

// PasswordFromEnv reads the account password. The password is only ever
// read from the environment; it has no config-file counterpart.
func PasswordFromEnv() string {
	return os.Getenv(passwordEnv)
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".anydown", "config.yaml")
}

// SessionPath returns the path to the persisted session snapshot
func SessionPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".anydown", "session.json")
}

// HistoryDBPath returns the path to the sync run archive
func HistoryDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".anydown", "history.db")
}
