package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Handler.LockTTL.Std())
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
}

func TestLoadFileAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
handler:
  processingTimeout: 5s
  lockTTL: 1m
scheduler:
  period: 30s
  batchSize: 50
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Handler.ProcessingTimeout.Std())
	assert.Equal(t, time.Minute, cfg.Handler.LockTTL.Std())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Period.Std())
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
}

func TestLoadRejectsNonPositiveBatchSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
scheduler:
  batchSize: 0
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batchSize")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-a:9092,broker-b:9092")
	t.Setenv("REDIS_ADDR", "redis-main:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "redis-main:6379", cfg.Redis.Addr)
}
