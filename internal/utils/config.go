package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Persistence modes
const (
	WriteThroughDisk = "writethroughdisk"
	BufferedWrite    = "bufferedwrite"
)

// Config struct holds application configuration
type Config struct {
	InternalPort    int              `yaml:"internal_port" env:"GEOMYS_INTERNAL_PORT"`
	ExternalPort    int              `yaml:"external_port" env:"GEOMYS_EXTERNAL_PORT"`
	MetricsPort     int              `yaml:"metrics_port" env:"GEOMYS_METRICS_PORT"`
	Persistence     string           `yaml:"persistence" env:"GEOMYS_PERSISTENCE"`
	PersistencePath string           `yaml:"persistence_path" env:"GEOMYS_PERSISTENCE_PATH"`
	Replication     bool             `yaml:"replication_enabled" env:"GEOMYS_REPLICATION"`
	NodeID          int              `yaml:"node_id" env:"GEOMYS_NODE_ID"`
	IsLeader        bool             `yaml:"leader" env:"GEOMYS_LEADER"`
	LeaderAddress   string           `yaml:"leader_address" env:"GEOMYS_LEADER_ADDRESS"`
	Followers       map[int32]string `yaml:"followers"`
	LogFile         string           `yaml:"log_file" env:"GEOMYS_LOG_FILE"`
	Debug           bool             `yaml:"debug" env:"GEOMYS_DEBUG"`
}

// DefaultConfigPath returns ~/.geomys/geomys.yaml
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".geomys", "geomys.yaml"), nil
}

// LoadConfig reads the YAML config file, applies defaults and then the
// GEOMYS_* environment overrides. A missing file yields the defaults. The
// optional envFile is loaded into the environment first.
func LoadConfig(filename, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	config, err := loadConfigFromFile(filename)
	if err != nil {
		return nil, err
	}

	if err := envdecode.Decode(config); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	applyDefaults(config)
	return config, nil
}

// loadConfigFromFile reads and parses the config file
func loadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return getDefaultConfig(), nil
		}
		return nil, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	return config, nil
}

// getDefaultConfig returns default config values
func getDefaultConfig() *Config {
	return &Config{
		InternalPort: 6379,
		ExternalPort: 7379,
		Persistence:  BufferedWrite,
		IsLeader:     false,
	}
}

// applyDefaults ensures missing values get defaults
func applyDefaults(config *Config) {
	if config.InternalPort == 0 {
		config.InternalPort = 6379
	}
	if config.ExternalPort == 0 {
		config.ExternalPort = config.InternalPort + 1000
	}
	if config.Persistence != WriteThroughDisk && config.Persistence != BufferedWrite {
		config.Persistence = WriteThroughDisk
	}
	if config.PersistencePath == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			config.PersistencePath = filepath.Join(homeDir, ".geomys", "binlog.dat")
		} else {
			config.PersistencePath = "binlog.dat"
		}
	}
	if config.Followers == nil {
		config.Followers = make(map[int32]string)
	}
}
