package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/kelseyhightower/envconfig"

	"github.com/onkernel/snaprelay/lib/allowlist"
	"github.com/onkernel/snaprelay/lib/logger"
	"github.com/onkernel/snaprelay/lib/zstdutil"
)

// Config holds all configuration for the relay server
type Config struct {
	// Server configuration
	Port     int    `envconfig:"PORT" default:"10001"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Origins whose pages may talk to the relay. ALLOWLIST_FILE, when set, is a
	// YAML document with an "origins" list that extends ALLOWED_ORIGINS.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"https://lecturesnap.app,http://localhost:3000"`
	AllowListFile  string   `envconfig:"ALLOWLIST_FILE"`
	// Extension origins (e.g. chrome-extension://<id>) allowed to connect as
	// source or panel contexts. Clients sending no Origin are always allowed.
	ExtensionOrigins []string `envconfig:"EXTENSION_ORIGINS"`

	// How long a capture or seek request waits for the source. Zero disables expiry.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	// Per-connection queue of relay messages awaiting write.
	Outbox int `envconfig:"RELAY_OUTBOX" default:"64"`

	// Cross-tab channels over libp2p gossip, for dashboards served by several relays.
	CrossTabP2P    bool                      `envconfig:"CROSSTAB_P2P" default:"false"`
	P2PListenAddrs []string                  `envconfig:"P2P_LISTEN_ADDRS" default:"/ip4/0.0.0.0/tcp/0"`
	P2PBootstrap   []string                  `envconfig:"P2P_BOOTSTRAP"`
	P2PCompression zstdutil.CompressionLevel `envconfig:"P2P_COMPRESSION" default:"fastest"`
}

type allowListFile struct {
	Origins []string `json:"origins"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if config.AllowListFile != "" {
		origins, err := readAllowListFile(config.AllowListFile)
		if err != nil {
			return nil, err
		}
		config.AllowedOrigins = append(config.AllowedOrigins, origins...)
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// AllowList builds the origin allow-list.
func (c *Config) AllowList() (*allowlist.List, error) {
	return allowlist.New(c.AllowedOrigins...)
}

// ExtensionList builds the list of origins trusted for source and panel contexts.
func (c *Config) ExtensionList() (*allowlist.List, error) {
	return allowlist.New(c.ExtensionOrigins...)
}

func readAllowListFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ALLOWLIST_FILE: %w", err)
	}
	var f allowListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse ALLOWLIST_FILE %s: %w", path, err)
	}
	return f.Origins, nil
}

func validate(config *Config) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if len(config.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS is required")
	}
	if _, err := config.AllowList(); err != nil {
		return fmt.Errorf("ALLOWED_ORIGINS: %w", err)
	}
	if _, err := config.ExtensionList(); err != nil {
		return fmt.Errorf("EXTENSION_ORIGINS: %w", err)
	}
	if config.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if config.Outbox <= 0 {
		return fmt.Errorf("RELAY_OUTBOX must be greater than 0")
	}
	if !config.P2PCompression.Valid() {
		return fmt.Errorf("P2P_COMPRESSION must be one of fastest, default, better, best")
	}
	if config.CrossTabP2P && len(config.P2PListenAddrs) == 0 {
		return fmt.Errorf("P2P_LISTEN_ADDRS is required when CROSSTAB_P2P is set")
	}

	return nil
}
