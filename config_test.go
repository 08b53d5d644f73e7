package batchz

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.Defaults()

	assert.True(t, strings.HasPrefix(cfg.Name, "coalescer-"), "generated name %q", cfg.Name)
	assert.Len(t, cfg.Name, len("coalescer-")+8)
	assert.Equal(t, DefaultBatchLimit, cfg.BatchLimit)
	assert.Equal(t, DefaultQueueLimit, cfg.QueueLimit)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Zero(t, cfg.MaxLatency)
	require.NoError(t, cfg.Validate())

	other := Config{}.Defaults()
	assert.NotEqual(t, cfg.Name, other.Name, "generated names should differ")
}

func TestConfig_DefaultsKeepsSetFields(t *testing.T) {
	cfg := Config{Name: "embedder", BatchLimit: 32, Workers: 4, MaxLatency: 5 * time.Millisecond}.Defaults()

	assert.Equal(t, "embedder", cfg.Name)
	assert.Equal(t, 32, cfg.BatchLimit)
	assert.Equal(t, DefaultQueueLimit, cfg.QueueLimit)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5*time.Millisecond, cfg.MaxLatency)
}

func TestConfig_Validate(t *testing.T) {
	base := Config{Name: "x", BatchLimit: 1, QueueLimit: 1, Workers: 1}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative batch limit", func(c *Config) { c.BatchLimit = -1 }, "batch_limit"},
		{"negative queue limit", func(c *Config) { c.QueueLimit = -3 }, "queue_limit"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"negative latency", func(c *Config) { c.MaxLatency = -time.Millisecond }, "max_latency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	require.NoError(t, base.Validate())
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
name: reranker
batch_limit: 64
queue_limit: 8
workers: 2
max_latency: 2ms
`)

	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, Config{
		Name:       "reranker",
		BatchLimit: 64,
		QueueLimit: 8,
		Workers:    2,
		MaxLatency: 2 * time.Millisecond,
	}, cfg)
}

func TestParseConfig_AppliesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("batch_limit: 16\n"))
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.BatchLimit)
	assert.Equal(t, DefaultQueueLimit, cfg.QueueLimit)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.NotEmpty(t, cfg.Name)
}

func TestParseConfig_Errors(t *testing.T) {
	_, err := ParseConfig([]byte("batch_limit: [not, a, number]\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseConfig([]byte("workers: -2\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batchz.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\nbatch_limit: 4\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, 4, cfg.BatchLimit)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
