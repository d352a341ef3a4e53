// Package config handles loading and validating the gateway configuration.
// The gateway runs with sensible defaults when no file is present; a YAML
// file and a handful of environment variables override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the file or a field is absent.
const (
	DefaultListenAddr       = ":8080"
	DefaultWakePort         = 9
	DefaultWakeBroadcast    = "255.255.255.255"
	DefaultMinBatchSize     = 1
	DefaultBatchTimeout     = 50 * time.Millisecond
	DefaultDispatchTick     = 10 * time.Millisecond
	DefaultHeartbeatTimeout = 90 * time.Second
	DefaultSweepInterval    = 15 * time.Second
	DefaultSendQueueSize    = 32
	DefaultStorePath        = "gateway.db"
)

// Config is the top-level gateway configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Auth     AuthConfig     `yaml:"auth"`
	Models   ModelsConfig   `yaml:"models"`
	Batching BatchingConfig `yaml:"batching"`
	Runners  RunnersConfig  `yaml:"runners"`
	Wake     WakeConfig     `yaml:"wake"`
	Store    StoreConfig    `yaml:"store"`
}

// ListenConfig describes the gateway's HTTP listener.
type ListenConfig struct {
	Addr string `yaml:"addr"`
	// AllowedOrigins restricts CORS origins; "*" allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig describes authentication material.
type AuthConfig struct {
	// RunnerSecret is the shared bearer secret runners present during the
	// registration handshake.
	RunnerSecret string `yaml:"runner_secret"`
	// JWTSecret is the HMAC secret used to validate user and admin tokens.
	JWTSecret string `yaml:"jwt_secret"`
	// AdminRole is the role required to open an admin stream.
	AdminRole string `yaml:"admin_role"`
}

// ModelsConfig classifies model identifiers into routing tiers.
type ModelsConfig struct {
	Big  []string `yaml:"big"`
	Fast []string `yaml:"fast"`
	// TierMachineTypes maps a tier to the machine types eligible to load
	// models of that tier on demand.
	TierMachineTypes map[string][]string `yaml:"tier_machine_types"`
	// AffinityMachineType is the machine type preferred by the affinity
	// selection policy.
	AffinityMachineType string `yaml:"affinity_machine_type"`
}

// BatchingConfig controls the batch queue and dispatcher.
type BatchingConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MinBatchSize int           `yaml:"min_batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	DispatchTick time.Duration `yaml:"dispatch_tick"`
}

// RunnersConfig controls the control-channel fleet.
type RunnersConfig struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SendQueueSize    int           `yaml:"send_queue_size"`
}

// WakeConfig controls the wake-on-LAN subsystem.
type WakeConfig struct {
	BroadcastAddr string `yaml:"broadcast_addr"`
	Port          int    `yaml:"port"`
	// BouncerAddr, when set, relays wake requests over TCP instead of
	// broadcasting on the local segment.
	BouncerAddr string `yaml:"bouncer_addr"`
}

// StoreConfig describes the audit store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Addr: DefaultListenAddr},
		Auth:   AuthConfig{AdminRole: "admin"},
		Batching: BatchingConfig{
			MinBatchSize: DefaultMinBatchSize,
			BatchTimeout: DefaultBatchTimeout,
			DispatchTick: DefaultDispatchTick,
		},
		Runners: RunnersConfig{
			HeartbeatTimeout: DefaultHeartbeatTimeout,
			SweepInterval:    DefaultSweepInterval,
			SendQueueSize:    DefaultSendQueueSize,
		},
		Wake: WakeConfig{
			BroadcastAddr: DefaultWakeBroadcast,
			Port:          DefaultWakePort,
		},
		Store: StoreConfig{Path: DefaultStorePath},
	}
}

// Load parses a YAML configuration file, fills in defaults, applies
// environment overrides and validates the result. An empty path yields the
// defaults (plus environment overrides).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath finds the config file path. Priority: GATEWAY_CONFIG env var,
// then ./gateway.yaml, then "" (defaults only).
func ResolvePath() string {
	if p := os.Getenv("GATEWAY_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("gateway.yaml"); err == nil {
		return "gateway.yaml"
	}
	return ""
}

func (c *Config) applyDefaults() {
	if c.Listen.Addr == "" {
		c.Listen.Addr = DefaultListenAddr
	}
	if c.Auth.AdminRole == "" {
		c.Auth.AdminRole = "admin"
	}
	if c.Batching.MinBatchSize <= 0 {
		c.Batching.MinBatchSize = DefaultMinBatchSize
	}
	if c.Batching.BatchTimeout <= 0 {
		c.Batching.BatchTimeout = DefaultBatchTimeout
	}
	if c.Batching.DispatchTick <= 0 {
		c.Batching.DispatchTick = DefaultDispatchTick
	}
	if c.Runners.HeartbeatTimeout <= 0 {
		c.Runners.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Runners.SweepInterval <= 0 {
		c.Runners.SweepInterval = DefaultSweepInterval
	}
	if c.Runners.SendQueueSize < DefaultSendQueueSize {
		c.Runners.SendQueueSize = DefaultSendQueueSize
	}
	if c.Wake.BroadcastAddr == "" {
		c.Wake.BroadcastAddr = DefaultWakeBroadcast
	}
	if c.Wake.Port <= 0 {
		c.Wake.Port = DefaultWakePort
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GATEWAY_LISTEN_ADDR"); v != "" {
		c.Listen.Addr = v
	}
	if v := os.Getenv("GATEWAY_RUNNER_SECRET"); v != "" {
		c.Auth.RunnerSecret = v
	}
	if v := os.Getenv("GATEWAY_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("GATEWAY_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("GATEWAY_WAKE_BOUNCER"); v != "" {
		c.Wake.BouncerAddr = v
	}
}

// Validate checks the configuration for inconsistencies that would break the
// gateway at runtime.
func (c *Config) Validate() error {
	if c.Auth.RunnerSecret == "" {
		return errors.New("config: auth.runner_secret is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	if c.Wake.Port < 1 || c.Wake.Port > 65535 {
		return fmt.Errorf("config: wake.port %d out of range", c.Wake.Port)
	}
	// Classification is case-insensitive; compare accordingly.
	seen := make(map[string]string, len(c.Models.Big)+len(c.Models.Fast))
	for _, id := range c.Models.Big {
		seen[strings.ToLower(id)] = "big"
	}
	for _, id := range c.Models.Fast {
		if tier, ok := seen[strings.ToLower(id)]; ok && tier != "fast" {
			return fmt.Errorf("config: model %q classified as both big and fast", id)
		}
	}
	return nil
}
