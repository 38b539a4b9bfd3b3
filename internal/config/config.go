package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	TrainDir     string  `yaml:"train_dir"`
	ValDir       string  `yaml:"val_dir"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	NumWorkers   int     `yaml:"num_workers"`
	LearningRate float64 `yaml:"learning_rate"`
	NumClasses   int     `yaml:"num_classes"`
	Device       string  `yaml:"device"`
	Seed         int64   `yaml:"seed"`
	Shuffle      bool    `yaml:"shuffle"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	TrainDir   string
	ValDir     string
	Epochs     int
	BatchSize  int
	NumWorkers int
	Device     string
	Seed       int64
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.TrainDir != "" {
		c.TrainDir = o.TrainDir
	}
	if o.ValDir != "" {
		c.ValDir = o.ValDir
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
}

// Validate verifies the config is runnable and fills in defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.TrainDir == "" {
		return errors.New("train_dir must be set")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning_rate must be >= 0 (got %g)", c.LearningRate)
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.05
	}
	if c.NumClasses == 0 {
		c.NumClasses = 2
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("num_classes must be >= 2 (got %d)", c.NumClasses)
	}
	if c.Device == "" {
		c.Device = "cpu"
	}
	return nil
}

func parseYAML(r io.Reader) (*Config, error) {
	cfg := &Config{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: missing ':'", lineNo)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, "\"'")
		switch key {
		case "train_dir":
			cfg.TrainDir = value
		case "val_dir":
			cfg.ValDir = value
		case "epochs":
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: epochs: %w", lineNo, err)
			}
			cfg.Epochs = v
		case "batch_size":
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: batch_size: %w", lineNo, err)
			}
			cfg.BatchSize = v
		case "num_workers":
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: num_workers: %w", lineNo, err)
			}
			cfg.NumWorkers = v
		case "learning_rate":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: learning_rate: %w", lineNo, err)
			}
			cfg.LearningRate = v
		case "num_classes":
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: num_classes: %w", lineNo, err)
			}
			cfg.NumClasses = v
		case "device":
			cfg.Device = value
		case "seed":
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: seed: %w", lineNo, err)
			}
			cfg.Seed = v
		case "shuffle":
			v, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: shuffle: %w", lineNo, err)
			}
			cfg.Shuffle = v
		default:
			return nil, fmt.Errorf("line %d: unknown key %s", lineNo, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
