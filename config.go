package batchz

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultBatchLimit = 1
	DefaultQueueLimit = 16
	DefaultWorkers    = 1
)

// Config holds the tunables of a Coalescer.
//
// The zero value is usable: Defaults fills in every unset field, giving a
// single worker that executes each request on its own (BatchLimit 1).
type Config struct {
	// Name identifies the coalescer in logs, errors and metric labels.
	// Defaults to "coalescer-" followed by a short random id.
	Name string `yaml:"name" json:"name"`

	// BatchLimit is the maximum number of requests merged into one batch.
	BatchLimit int `yaml:"batch_limit" json:"batch_limit"`

	// QueueLimit is the maximum number of closed batches waiting for a
	// worker. Once reached and the open batch is full, Submit is refused.
	QueueLimit int `yaml:"queue_limit" json:"queue_limit"`

	// Workers is the number of goroutines executing batches.
	Workers int `yaml:"workers" json:"workers"`

	// MaxLatency is how long an open batch keeps accepting requests
	// before an idle worker may take it. Zero lets an idle worker take
	// the open batch immediately.
	MaxLatency time.Duration `yaml:"max_latency" json:"max_latency"`
}

// Defaults returns a copy of c with every unset field filled in.
func (c Config) Defaults() Config {
	if c.Name == "" {
		c.Name = "coalescer-" + uuid.NewString()[:8]
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	if c.QueueLimit == 0 {
		c.QueueLimit = DefaultQueueLimit
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	switch {
	case c.BatchLimit < 1:
		return fmt.Errorf("%w: batch_limit must be at least 1, got %d", ErrInvalidConfig, c.BatchLimit)
	case c.QueueLimit < 1:
		return fmt.Errorf("%w: queue_limit must be at least 1, got %d", ErrInvalidConfig, c.QueueLimit)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Workers)
	case c.MaxLatency < 0:
		return fmt.Errorf("%w: max_latency must not be negative, got %s", ErrInvalidConfig, c.MaxLatency)
	}
	return nil
}

// ParseConfig decodes a YAML document into a Config, applies defaults and
// validates the result.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg = cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}
