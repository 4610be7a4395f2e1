// Package daemon manages the settlement node lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/infra/registry"
	"github.com/tutu-network/poco/internal/security"
)

// Config holds all daemon configuration. The embedded registry tables are
// decoded from top-level [[categories]], [[apps]], ... arrays.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	Domain    security.Domain `toml:"domain"`
	Policy    domain.Policy   `toml:"policy"`
	Callback  CallbackConfig  `toml:"callback"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`

	registry.Config
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID      string `toml:"id"`
	DataDir string `toml:"data_dir"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	AdminToken  string   `toml:"admin_token"`
	CORSOrigins []string `toml:"cors_origins"`
}

// CallbackConfig controls result forwarding.
type CallbackConfig struct {
	Timeout   string           `toml:"timeout"`
	Consumers []ConsumerConfig `toml:"consumers"`
}

// ConsumerConfig binds a callback address to an HTTP endpoint.
type ConsumerConfig struct {
	Address common.Address `toml:"address"`
	URL     string         `toml:"url"`
}

// StorageConfig selects the ledger store.
type StorageConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "memory"
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
	Console   bool   `toml:"console"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// DefaultConfig returns a configuration that runs a local node.
func DefaultConfig() Config {
	homeDir := pocoHome()
	return Config{
		Node: NodeConfig{
			DataDir: homeDir,
		},
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8545,
			CORSOrigins: []string{"*"},
		},
		Domain: security.Domain{
			Name:    "iExecODB",
			Version: "5.0.0",
			ChainID: 134,
		},
		Policy: domain.DefaultPolicy(),
		Callback: CallbackConfig{
			Timeout: "5s",
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      filepath.Join(homeDir, "poco.log"),
			MaxSizeMB: 50,
			MaxFiles:  5,
			Console:   true,
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if _, err := c.CallbackTimeout(); err != nil {
		return err
	}
	for _, cc := range c.Callback.Consumers {
		if cc.Address == (common.Address{}) || cc.URL == "" {
			return fmt.Errorf("callback.consumers: address and url required")
		}
	}
	return nil
}

// CallbackTimeout parses the callback budget. An empty value selects the
// forwarder default.
func (c Config) CallbackTimeout() (time.Duration, error) {
	if c.Callback.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Callback.Timeout)
	if err != nil {
		return 0, fmt.Errorf("callback.timeout: %w", err)
	}
	return d, nil
}

// LoadConfig reads config from $POCO_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile reads config from path, falling back to defaults when the
// file does not exist.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Node.DataDir == "" {
		cfg.Node.DataDir = pocoHome()
	}
	return cfg, nil
}

// SaveConfig writes the config to $POCO_HOME/config.toml.
func SaveConfig(cfg Config) error {
	return SaveConfigFile(ConfigPath(), cfg)
}

// SaveConfigFile writes the config to path.
func SaveConfigFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ConfigPath is the default config file location.
func ConfigPath() string {
	return filepath.Join(pocoHome(), "config.toml")
}

// pocoHome returns the node data directory.
func pocoHome() string {
	if env := os.Getenv("POCO_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".poco")
}
