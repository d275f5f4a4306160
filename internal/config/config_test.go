package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WARNING_THRESHOLD", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("JOB_MAX_ATTEMPTS", "")
	t.Setenv("JOB_RETRY_BACKOFF", "")
	t.Setenv("WORKER_METRICS_PORT", "")
	cfg := Load()
	assert.Equal(t, 2, cfg.WarningThreshold)
	assert.Equal(t, "dev", cfg.Env)
	assert.False(t, cfg.Production())
	assert.False(t, cfg.CloudinaryConfigured())
	assert.Equal(t, 5, cfg.JobMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.JobRetryBackoff)
	assert.Equal(t, "9091", cfg.WorkerMetricsPort)
	assert.True(t, cfg.WorkerMetricsEnabled())

	t.Setenv("WORKER_METRICS_PORT", "off")
	assert.False(t, Load().WorkerMetricsEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("WARNING_THRESHOLD", "3")
	t.Setenv("SNAPSHOT_RETRY_BACKOFF", "1s")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, 3, cfg.WarningThreshold)
	assert.Equal(t, time.Second, cfg.SnapshotRetryBackoff)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("GENERATOR_CONCURRENCY", "many")
	t.Setenv("RUN_LOCK_TTL", "forever")
	t.Setenv("AUTO_MIGRATE", "maybe")
	cfg := Load()
	assert.Equal(t, 4, cfg.GeneratorConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.RunLockTTL)
	assert.True(t, cfg.AutoMigrate)
}
