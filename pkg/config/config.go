// Package config loads overlay configuration from the environment, with an
// optional YAML file taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds engine configuration.
type Config struct {
	DataDir           string        `yaml:"data_dir"`
	AppID             string        `yaml:"app_id"`
	ProfileID         string        `yaml:"profile_id"`
	EnableHeartbeat   bool          `yaml:"enable_heartbeat"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LogLevel          string        `yaml:"log_level"`
	Telemetry         bool          `yaml:"telemetry"`
	OTLPEndpoint      string        `yaml:"otlp_endpoint"`
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	dataDir := os.Getenv("FORGE_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	appID := os.Getenv("FORGE_APP_ID")
	if appID == "" {
		appID = "forge"
	}
	profileID := os.Getenv("FORGE_PROFILE_ID")
	if profileID == "" {
		profileID = "default"
	}
	logLevel := os.Getenv("FORGE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	interval := 15 * time.Second
	if v := os.Getenv("FORGE_HEARTBEAT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Second
		}
	}

	return &Config{
		DataDir:           dataDir,
		AppID:             appID,
		ProfileID:         profileID,
		EnableHeartbeat:   os.Getenv("FORGE_HEARTBEAT") == "true",
		HeartbeatInterval: interval,
		LogLevel:          logLevel,
		Telemetry:         os.Getenv("FORGE_TELEMETRY") == "true",
		OTLPEndpoint:      os.Getenv("FORGE_OTLP_ENDPOINT"),
	}
}

// fileConfig mirrors Config with pointer fields so absent keys leave the
// environment-derived value alone. Durations are Go duration strings.
type fileConfig struct {
	DataDir           *string `yaml:"data_dir"`
	AppID             *string `yaml:"app_id"`
	ProfileID         *string `yaml:"profile_id"`
	EnableHeartbeat   *bool   `yaml:"enable_heartbeat"`
	HeartbeatInterval *string `yaml:"heartbeat_interval"`
	LogLevel          *string `yaml:"log_level"`
	Telemetry         *bool   `yaml:"telemetry"`
	OTLPEndpoint      *string `yaml:"otlp_endpoint"`
}

// LoadFile overlays values from a YAML file onto the environment defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if fc.DataDir != nil {
		cfg.DataDir = *fc.DataDir
	}
	if fc.AppID != nil {
		cfg.AppID = *fc.AppID
	}
	if fc.ProfileID != nil {
		cfg.ProfileID = *fc.ProfileID
	}
	if fc.EnableHeartbeat != nil {
		cfg.EnableHeartbeat = *fc.EnableHeartbeat
	}
	if fc.HeartbeatInterval != nil {
		d, err := time.ParseDuration(*fc.HeartbeatInterval)
		if err != nil {
			return nil, fmt.Errorf("config: heartbeat_interval: %w", err)
		}
		cfg.HeartbeatInterval = d
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.Telemetry != nil {
		cfg.Telemetry = *fc.Telemetry
	}
	if fc.OTLPEndpoint != nil {
		cfg.OTLPEndpoint = *fc.OTLPEndpoint
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	return cfg, nil
}
