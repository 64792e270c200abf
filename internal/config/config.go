package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the optional tool config looked up at the firmware root.
const FileName = "storygen.yaml"

// DefaultAnnounceTopic is the MQTT topic bundle announcements go to.
const DefaultAnnounceTopic = "zacus/story/bundle"

type ToolConfig struct {
	Version int `yaml:"version"`
	Paths   struct {
		SpecDir    string `yaml:"spec_dir"`
		GameDir    string `yaml:"game_dir"`
		ContentDir string `yaml:"content_dir"`
		CppOutDir  string `yaml:"cpp_out_dir"`
		BundleRoot string `yaml:"bundle_root"`
	} `yaml:"paths"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Announce AnnounceConfig `yaml:"announce"`
}

// LedgerConfig locates the optional generation ledger database.
// DSN wins over the discrete fields when set.
type LedgerConfig struct {
	DSN          string `yaml:"dsn"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	PasswordFile string `yaml:"password_file"`
}

// Enabled reports whether a ledger is configured at all.
func (l LedgerConfig) Enabled() bool {
	return l.DSN != "" || l.Host != ""
}

type AnnounceConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// AnnounceTopic returns the configured topic, defaulting to
// DefaultAnnounceTopic if not set.
func (c *ToolConfig) AnnounceTopic() string {
	if c.Announce.Topic == "" {
		return DefaultAnnounceTopic
	}
	return c.Announce.Topic
}

func LoadToolConfig(path string) (*ToolConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ToolConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported %s version: %d", filepath.Base(path), cfg.Version)
	}

	return &cfg, nil
}

// LoadOptionalToolConfig returns an empty config when path does not exist.
func LoadOptionalToolConfig(path string) (*ToolConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &ToolConfig{Version: 1}, nil
	}
	return LoadToolConfig(path)
}
