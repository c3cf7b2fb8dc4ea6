package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Encryption selects how the mailbox session is protected.
type Encryption string

const (
	EncryptionTLS      Encryption = "TLS"
	EncryptionStartTLS Encryption = "opportunistic-TLS"
	EncryptionNone     Encryption = "none"
)

// ParseEncryption normalizes config spellings of the encryption mode.
func ParseEncryption(s string) (Encryption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tls", "ssl":
		return EncryptionTLS, nil
	case "opportunistic-tls", "starttls":
		return EncryptionStartTLS, nil
	case "none", "plain":
		return EncryptionNone, nil
	}
	return "", fmt.Errorf("unknown encryption mode %q", s)
}

// ConnectionConfig describes one mailbox endpoint. It is immutable for the
// duration of a fetch session.
type ConnectionConfig struct {
	MailboxID  string
	Host       string
	Port       int
	Encryption Encryption
	Username   string
	Secret     string
}

// Addr returns host:port.
func (c ConnectionConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MailboxConfig holds the configuration for a single support mailbox.
type MailboxConfig struct {
	// ID is the stable identifier used in message ids.
	ID string `mapstructure:"id" yaml:"id"`

	// Name is the user-defined label shown in the UI.
	Name string `mapstructure:"name" yaml:"name"`

	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	Encryption string `mapstructure:"encryption" yaml:"encryption"`
	Username   string `mapstructure:"username" yaml:"username"`

	// Secret may be left empty; the credential keyring is consulted then.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// Enabled controls whether this mailbox is actively polled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PollIntervalSec is how often (in seconds) to fetch updates.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// Connection builds the session descriptor for this mailbox.
func (m MailboxConfig) Connection() (ConnectionConfig, error) {
	enc, err := ParseEncryption(m.Encryption)
	if err != nil {
		return ConnectionConfig{}, fmt.Errorf("mailbox %s: %w", m.ID, err)
	}
	port := m.Port
	if port == 0 {
		port = 993
		if enc != EncryptionTLS {
			port = 143
		}
	}
	return ConnectionConfig{
		MailboxID:  m.ID,
		Host:       m.Host,
		Port:       port,
		Encryption: enc,
		Username:   m.Username,
		Secret:     m.Secret,
	}, nil
}

// SyncConfig controls ingestion.
type SyncConfig struct {
	WindowSize        int `mapstructure:"window_size" yaml:"window_size"`
	AuthTimeoutSec    int `mapstructure:"auth_timeout_sec" yaml:"auth_timeout_sec"`
	ConnectTimeoutSec int `mapstructure:"connect_timeout_sec" yaml:"connect_timeout_sec"`
	FetchTimeoutSec   int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
}

// AuthTimeout returns the login deadline.
func (s SyncConfig) AuthTimeout() time.Duration {
	return time.Duration(s.AuthTimeoutSec) * time.Second
}

// ConnectTimeout returns the overall session deadline.
func (s SyncConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSec) * time.Second
}

// FetchTimeout returns the deadline for one ingestion cycle.
func (s SyncConfig) FetchTimeout() time.Duration {
	return time.Duration(s.FetchTimeoutSec) * time.Second
}

// StorageConfig locates the status database.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mailboxes []MailboxConfig `mapstructure:"mailboxes" yaml:"mailboxes"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Display   DisplayConfig   `mapstructure:"display" yaml:"display"`
}

// EnabledMailboxes returns the mailboxes that should be polled.
func (c *AppConfig) EnabledMailboxes() []MailboxConfig {
	var out []MailboxConfig
	for _, m := range c.Mailboxes {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// configDir returns ~/.config/supportinbox, or "." when there is no home.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "supportinbox")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/supportinbox/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultDBPath returns the default location of the status database.
func DefaultDBPath() string {
	return filepath.Join(configDir(), "inbox.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Mailboxes: []MailboxConfig{},
		Sync: SyncConfig{
			WindowSize:        20,
			AuthTimeoutSec:    15,
			ConnectTimeoutSec: 60,
			FetchTimeoutSec:   90,
		},
		Storage: StorageConfig{DBPath: DefaultDBPath()},
		Log:     LogConfig{Level: "info", Format: "console"},
		Display: DisplayConfig{Theme: "default"},
	}
}

func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("sync.window_size", d.Sync.WindowSize)
	v.SetDefault("sync.auth_timeout_sec", d.Sync.AuthTimeoutSec)
	v.SetDefault("sync.connect_timeout_sec", d.Sync.ConnectTimeoutSec)
	v.SetDefault("sync.fetch_timeout_sec", d.Sync.FetchTimeoutSec)
	v.SetDefault("storage.db_path", d.Storage.DBPath)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("display.theme", d.Display.Theme)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Scalar keys can be overridden with SUPPORTINBOX_* environment variables
// (e.g. SUPPORTINBOX_SYNC_WINDOW_SIZE). If the file does not exist, the
// defaults are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("supportinbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Sync.WindowSize <= 0 {
		cfg.Sync.WindowSize = 20
	}

	for i := range cfg.Mailboxes {
		if cfg.Mailboxes[i].PollIntervalSec == 0 {
			cfg.Mailboxes[i].PollIntervalSec = 120
		}
		if cfg.Mailboxes[i].ID == "" {
			return nil, fmt.Errorf("parsing config %s: mailbox %d has no id", path, i)
		}
		if !cfg.Mailboxes[i].Enabled {
			// Viper unmarshals missing bools as false; treat unset as true.
			key := fmt.Sprintf("mailboxes.%d.enabled", i)
			if !v.IsSet(key) {
				cfg.Mailboxes[i].Enabled = true
			}
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mailboxes", cfg.Mailboxes)
	v.Set("sync", cfg.Sync)
	v.Set("storage", cfg.Storage)
	v.Set("log", cfg.Log)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
