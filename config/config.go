package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the ledgerd node configuration.
type Config struct {
	ListenAddress   string          `toml:"ListenAddress"`
	DataDir         string          `toml:"DataDir"`
	ChainID         uint64          `toml:"ChainID"`
	RewardModels    []string        `toml:"RewardModels"`
	GenesisFile     string          `toml:"GenesisFile"`
	Environment     string          `toml:"Environment"`
	LogLevel        string          `toml:"LogLevel"`
	LogFile         string          `toml:"LogFile"`
	IdempotencyFile string          `toml:"IdempotencyFile"`
	MetricsEnabled  bool            `toml:"MetricsEnabled"`
	ReadTimeout     int             `toml:"ReadTimeout"`
	WriteTimeout    int             `toml:"WriteTimeout"`
	Indexer         IndexerConfig   `toml:"Indexer"`
	RateLimit       RateLimitConfig `toml:"RateLimit"`
	Telemetry       TelemetryConfig `toml:"Telemetry"`
}

// IndexerConfig selects the event indexer database. An empty Driver disables
// the indexer.
type IndexerConfig struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	SampleRatio float64 `toml:"SampleRatio"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		ListenAddress:   ":8545",
		DataDir:         "./ledger-data",
		ChainID:         1337,
		RewardModels:    []string{"fixed", "badge"},
		GenesisFile:     "",
		Environment:     "local",
		LogLevel:        "info",
		IdempotencyFile: "",
		MetricsEnabled:  true,
		ReadTimeout:     10,
		WriteTimeout:    10,
		Indexer:         IndexerConfig{Driver: "sqlite", DSN: "./ledger-data/events.db"},
		RateLimit:       RateLimitConfig{RequestsPerMinute: 600, Burst: 50},
	}
}

// Load reads the configuration at path. A missing file is created with the
// defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	normalize(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	cfg.Indexer.Driver = strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
	models := make([]string, 0, len(cfg.RewardModels))
	for _, model := range cfg.RewardModels {
		if trimmed := strings.ToLower(strings.TrimSpace(model)); trimmed != "" {
			models = append(models, trimmed)
		}
	}
	cfg.RewardModels = models
}

// ValidateConfig checks cross-field constraints.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if cfg.ListenAddress == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be non-zero")
	}
	if len(cfg.RewardModels) == 0 {
		return fmt.Errorf("config: at least one reward model required")
	}
	for _, model := range cfg.RewardModels {
		if model != "fixed" && model != "badge" {
			return fmt.Errorf("config: unknown reward model %q", model)
		}
	}
	switch cfg.Indexer.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown indexer driver %q", cfg.Indexer.Driver)
	}
	if cfg.Indexer.Driver != "" && strings.TrimSpace(cfg.Indexer.DSN) == "" {
		return fmt.Errorf("config: indexer DSN required for driver %s", cfg.Indexer.Driver)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate limit must be non-negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry sample ratio must be within [0,1]")
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		return fmt.Errorf("config: timeouts must be non-negative")
	}
	return nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
