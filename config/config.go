// Package config loads the YAML configuration shared by the detdb binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/detdb/core/durability/memstore"
	"github.com/sushant-115/detdb/core/engine"
	"github.com/sushant-115/detdb/core/txservice"
	"github.com/sushant-115/detdb/internal/workload/intunif"
	"github.com/sushant-115/detdb/pkg/logger"
	"github.com/sushant-115/detdb/pkg/telemetry"
)

// Bench describes the intunif workload driven by detdb_bench.
type Bench struct {
	// Txns is the number of measured transactions.
	Txns int `yaml:"txns"`
	// Warmup transactions run before the clock starts.
	Warmup     int         `yaml:"warmup"`
	Seed       uint64      `yaml:"seed"`
	Mix        intunif.Mix `yaml:"mix"`
	ValueRange uint64      `yaml:"value_range"`
}

type Config struct {
	Protocol  string           `yaml:"protocol"`
	Service   txservice.Config `yaml:"service"`
	Store     memstore.Config  `yaml:"store"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Bench     Bench            `yaml:"bench"`
}

// Default returns a configuration that runs sparkle on four workers.
func Default() Config {
	return Config{
		Protocol: engine.Sparkle,
		Service: txservice.Config{
			Workers:      4,
			QueueSlack:   txservice.DefaultQueueSlack,
			PollInterval: txservice.DefaultPollInterval,
		},
		Logger: logger.Config{Level: "info", Format: "console", OutputFile: "stderr"},
		Telemetry: telemetry.Config{
			ServiceName:      "detdb",
			PrometheusPort:   9464,
			TraceSampleRatio: 1,
		},
		Bench: Bench{
			Txns:       100000,
			Warmup:     1000,
			Seed:       1145141919810,
			Mix:        intunif.DefaultMix,
			ValueRange: 1 << 16,
		},
	}
}

// Load reads path on top of Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	known := false
	for _, p := range engine.Protocols() {
		if strings.EqualFold(p, c.Protocol) {
			known = true
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("%w %q", engine.ErrUnknownProtocol, c.Protocol))
	}
	if err := c.Service.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("service: %w", err))
	}
	if c.Store.OpsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("store: ops_per_second must not be negative"))
	}
	if c.Bench.Txns < 0 || c.Bench.Warmup < 0 {
		errs = append(errs, fmt.Errorf("bench: txns and warmup must not be negative"))
	}
	if c.Bench.Mix.Commit == 0 {
		errs = append(errs, fmt.Errorf("bench: mix.commit must be positive"))
	}
	if c.Bench.ValueRange == 0 {
		errs = append(errs, fmt.Errorf("bench: value_range must be positive"))
	}
	return errors.Join(errs...)
}
