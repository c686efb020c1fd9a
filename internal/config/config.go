package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/aniniscale/internal/partition"
	"github.com/ivlev/aniniscale/internal/progress"
)

// ErrInvalidConfiguration is the partition sentinel, re-exported so callers
// validating a Config need not import partition.
var ErrInvalidConfiguration = partition.ErrInvalidConfiguration

type Config struct {
	InputPath      string        `yaml:"input"`
	OutputPath     string        `yaml:"output"`
	BlockX         int           `yaml:"block_x"`
	BlockY         int           `yaml:"block_y"`
	TaskBlockSide  int           `yaml:"task_block_side"`
	ReportInterval time.Duration `yaml:"report_interval"`
	Workers        int           `yaml:"workers"`
	Page           int           `yaml:"page"`
	DPI            int           `yaml:"dpi"`
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file"`
	JSONLogs       bool          `yaml:"json_logs"`
	ShowStats      bool          `yaml:"stats"`
	StatsLog       string        `yaml:"stats_log"`
	BuildVersion   string        `yaml:"-"`
}

// Default returns the settings used when nothing is specified. Workers is
// left at zero; the caller fills it from the host CPU count.
func Default() Config {
	return Config{
		BlockX:         8,
		BlockY:         8,
		TaskBlockSide:  partition.DefaultMaxTaskSide,
		ReportInterval: progress.DefaultInterval,
		DPI:            150,
		LogLevel:       "INFO",
		StatsLog:       "benchmark.log",
	}
}

func (c *Config) Block() partition.BlockSize {
	return partition.BlockSize{X: c.BlockX, Y: c.BlockY}
}

// PassThrough reports whether the run can skip tiling altogether.
func (c *Config) PassThrough() bool {
	return c.BlockX == 1 && c.BlockY == 1
}

// Validate checks the settings the core depends on. Every problem is
// reported, not only the first.
func (c *Config) Validate() error {
	var errs []error
	if c.InputPath == "" {
		errs = append(errs, errors.New("input image path is required"))
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output image path is required"))
	}
	if c.BlockX < 1 {
		errs = append(errs, fmt.Errorf("x block size must be a positive integer, got %d", c.BlockX))
	}
	if c.BlockY < 1 {
		errs = append(errs, fmt.Errorf("y block size must be a positive integer, got %d", c.BlockY))
	}
	if c.TaskBlockSide < 1 {
		errs = append(errs, fmt.Errorf("task block side must be a positive integer, got %d", c.TaskBlockSide))
	}
	if c.ReportInterval < 0 {
		errs = append(errs, fmt.Errorf("reporting interval must not be negative, got %s", c.ReportInterval))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.Page < 0 {
		errs = append(errs, fmt.Errorf("page must not be negative, got %d", c.Page))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfiguration, path, err)
	}
	return nil
}

func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
