package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/gatekeeper/risk"
)

// Config represents the complete gatekeeper configuration
type Config struct {
	Ledger     LedgerConfig     `json:"ledger" yaml:"ledger"`
	Risk       risk.Params      `json:"risk" yaml:"risk"`
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway"`
	Supervisor SupervisorConfig `json:"supervisor" yaml:"supervisor"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Control    ControlConfig    `json:"control" yaml:"control"`
}

// LedgerConfig contains portfolio ledger initialization parameters
type LedgerConfig struct {
	InitialCash    float64 `json:"initial_cash" yaml:"initial_cash"`
	ReservationTTL string  `json:"reservation_ttl" yaml:"reservation_ttl"` // e.g., "30s", "2m"
	SweepInterval  string  `json:"sweep_interval" yaml:"sweep_interval"`
}

// GatewayConfig contains message gateway parameters
type GatewayConfig struct {
	DedupWindow    string `json:"dedup_window" yaml:"dedup_window"`
	AdmitTimeout   string `json:"admit_timeout" yaml:"admit_timeout"`
	PublishRetries int    `json:"publish_retries" yaml:"publish_retries"`
	PublishBackoff string `json:"publish_backoff" yaml:"publish_backoff"`
	RedisAddr      string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
}

// SupervisorConfig contains circuit breaker supervisor parameters
type SupervisorConfig struct {
	TickInterval string `json:"tick_interval" yaml:"tick_interval"`
}

// JournalConfig contains durable storage parameters
type JournalConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

// ControlConfig contains the operator HTTP surface parameters
type ControlConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// Duration parses a duration string field, returning the fallback when the
// field is empty.
func Duration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// LoadFromFile loads configuration from a file (JSON or YAML based on content)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	// REDIS_ADDR overrides the file so deployments can point at their own
	// dedup store without editing config.
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Gateway.RedisAddr = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if (len(path) > 5 && path[len(path)-5:] == ".yaml") || (len(path) > 4 && path[len(path)-4:] == ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Ledger.InitialCash <= 0 {
		return fmt.Errorf("ledger.initial_cash must be positive")
	}
	if _, err := Duration(c.Ledger.ReservationTTL, 0); err != nil {
		return fmt.Errorf("ledger.reservation_ttl: %w", err)
	}
	if _, err := Duration(c.Ledger.SweepInterval, 0); err != nil {
		return fmt.Errorf("ledger.sweep_interval: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if _, err := Duration(c.Gateway.DedupWindow, 0); err != nil {
		return fmt.Errorf("gateway.dedup_window: %w", err)
	}
	if _, err := Duration(c.Gateway.AdmitTimeout, 0); err != nil {
		return fmt.Errorf("gateway.admit_timeout: %w", err)
	}
	if _, err := Duration(c.Gateway.PublishBackoff, 0); err != nil {
		return fmt.Errorf("gateway.publish_backoff: %w", err)
	}
	if c.Gateway.PublishRetries < 0 {
		return fmt.Errorf("gateway.publish_retries must not be negative")
	}
	if _, err := Duration(c.Supervisor.TickInterval, 0); err != nil {
		return fmt.Errorf("supervisor.tick_interval: %w", err)
	}
	if c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path is required")
	}
	if c.Control.ListenAddr == "" {
		return fmt.Errorf("control.listen_addr is required")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			InitialCash:    100000,
			ReservationTTL: "2m",
			SweepInterval:  "15s",
		},
		Risk: risk.Params{
			Version:               1,
			MaxPositionSizePct:    5,
			MaxDailyLossPct:       3,
			MaxPortfolioRiskPct:   10,
			StopLossPct:           2,
			TakeProfitPct:         4,
			MinTradeAmount:        10,
			MaxTradeAmount:        100000,
			MaxPositionsPerSymbol: 3,
			MaxTotalPositions:     10,
		},
		Gateway: GatewayConfig{
			DedupWindow:    "10m",
			AdmitTimeout:   "2s",
			PublishRetries: 3,
			PublishBackoff: "100ms",
		},
		Supervisor: SupervisorConfig{
			TickInterval: "5s",
		},
		Journal: JournalConfig{
			DBPath: "./gatekeeper.db",
		},
		Control: ControlConfig{
			ListenAddr: ":8089",
		},
	}
}
