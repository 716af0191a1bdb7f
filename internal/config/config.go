// Package config loads the static, per-binary configuration shared by
// cmd/bridged, cmd/noded, and cmd/pbctl: serial port naming, timing
// constants that the spec fixes as tuning knobs rather than protocol
// invariants, and logging. Grounded on firestige-Otus's
// internal/config (viper + mapstructure-tagged struct, Load(path)).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/northfieldiot/pipebridge/internal/logging"
)

// BridgeConfig is cmd/bridged's configuration.
type BridgeConfig struct {
	SerialPort      string              `mapstructure:"serial_port"`
	UniqueID        uint64              `mapstructure:"unique_id"`
	TableTickPeriod time.Duration       `mapstructure:"table_tick_period"`
	CullThreshold   time.Duration       `mapstructure:"cull_threshold"`
	LogLevel        string              `mapstructure:"log_level"`
	LogFile         logging.FileOptions `mapstructure:"log_file"`
}

// NodeConfig is cmd/noded's configuration.
type NodeConfig struct {
	Serial        uint64              `mapstructure:"serial"`
	KeepaliveTick time.Duration       `mapstructure:"keepalive_tick"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFile       logging.FileOptions `mapstructure:"log_file"`
}

// HostConfig is cmd/pbctl's configuration.
type HostConfig struct {
	SerialPort string              `mapstructure:"serial_port"`
	LogLevel   string              `mapstructure:"log_level"`
	LogFile    logging.FileOptions `mapstructure:"log_file"`
}

// DefaultHostConfig returns the config used when no file/flags
// override it.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		SerialPort: "/dev/ttyACM0",
		LogLevel:   "info",
	}
}

// LoadHost reads path (if non-empty) over the defaults, unmarshalling
// into a HostConfig.
func LoadHost(path string) (HostConfig, error) {
	cfg := DefaultHostConfig()
	v := newViper(path)
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal host config: %w", err)
	}
	return cfg, nil
}

// DefaultBridgeConfig returns the config used when no file/flags
// override it.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		SerialPort:      "/dev/ttyACM0",
		TableTickPeriod: 5 * time.Second,
		CullThreshold:   30 * time.Second,
		LogLevel:        "info",
	}
}

// DefaultNodeConfig returns the config used when no file/flags
// override it.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		KeepaliveTick: 100 * time.Millisecond,
		LogLevel:      "info",
	}
}

// LoadBridge reads path (if non-empty) over the defaults, unmarshalling
// into a BridgeConfig. A PIPEBRIDGE_-prefixed environment variable
// overrides a key only when the config file also sets that key; with
// no file, the environment is not read.
func LoadBridge(path string) (BridgeConfig, error) {
	cfg := DefaultBridgeConfig()
	v := newViper(path)
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal bridge config: %w", err)
	}
	return cfg, nil
}

// LoadNode reads path (if non-empty) over the defaults, unmarshalling
// into a NodeConfig.
func LoadNode(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()
	v := newViper(path)
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal node config: %w", err)
	}
	return cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PIPEBRIDGE")
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		// Best-effort: a missing/invalid file falls back to the defaults
		// rather than failing the binary outright.
		_ = v.ReadInConfig()
	}
	return v
}
