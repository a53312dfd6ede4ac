package engine

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"sectorcrc/blockdev"
)

// Mode selects the execution strategy.
type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
)

// Config holds the engine tunables. Zero fields take their defaults.
type Config struct {
	Mode       Mode `yaml:"mode"`
	SectorSize int  `yaml:"sector_size"`

	ReaderThreads    int `yaml:"reader_threads"`
	ProcessorThreads int `yaml:"processor_threads"` // default NumCPU - readers
	VerifyThreads    int `yaml:"verify_threads"`    // default NumCPU

	BatchSize   int `yaml:"batch_size"`   // sectors per reader read
	QueueFactor int `yaml:"queue_factor"` // queue capacity = factor * batch

	ProgressEvery uint64 `yaml:"progress_every"`
	SortLedger    bool   `yaml:"sort_ledger"`
}

// DefaultConfig returns the sequential 512-byte profile.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = Sequential
	}
	if c.SectorSize == 0 {
		c.SectorSize = blockdev.DefaultSectorSize
	}
	if c.ReaderThreads == 0 {
		c.ReaderThreads = 1
	}
	if c.ProcessorThreads == 0 {
		c.ProcessorThreads = max(runtime.NumCPU()-c.ReaderThreads, 1)
	}
	if c.VerifyThreads == 0 {
		c.VerifyThreads = runtime.NumCPU()
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.QueueFactor == 0 {
		c.QueueFactor = 4
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = 100
	}
	return c
}

// QueueCapacity is the bound of the reader to processor queue.
func (c Config) QueueCapacity() int { return c.QueueFactor * c.BatchSize }

// Validate rejects unusable settings.
func (c Config) Validate() error {
	switch c.Mode {
	case Sequential, Parallel:
	default:
		return fmt.Errorf("unknown mode %q (sequential or parallel)", c.Mode)
	}
	if c.SectorSize <= 0 {
		return fmt.Errorf("sector size must be positive, got %d", c.SectorSize)
	}
	if c.ReaderThreads < 1 || c.ProcessorThreads < 1 || c.VerifyThreads < 1 {
		return fmt.Errorf("thread counts must be at least 1 (readers %d, processors %d, verify %d)",
			c.ReaderThreads, c.ProcessorThreads, c.VerifyThreads)
	}
	if c.BatchSize < 1 || c.QueueFactor < 1 {
		return fmt.Errorf("batch size and queue factor must be at least 1")
	}
	return nil
}

// LoadConfig reads a YAML engine profile. Missing fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes c as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
