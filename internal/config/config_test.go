package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "KES", cfg.DefaultCurrency)
	assert.Equal(t, "audit_trail", cfg.KafkaAuditTopic)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.True(t, cfg.ApprovalTier1Max.Equal(decimal.NewFromInt(10_000_000)))
	assert.True(t, cfg.ApprovalTier2Max.Equal(decimal.NewFromInt(100_000_000)))
	assert.True(t, cfg.RequireDistinctApprovers)
	assert.Equal(t, 8, cfg.BulkConcurrency)
	assert.Equal(t, 15*time.Minute, cfg.BulkClaimTimeout)
	assert.Empty(t, cfg.SeedFile)
	assert.Equal(t, 3, cfg.CommitMaxRetries)
	assert.Equal(t, uint32(5), cfg.ExecutorBreakerFailures)
	assert.Equal(t, 30*time.Second, cfg.ExecutorBreakerTimeout)
}

func TestOverrides(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"KAFKA_BROKERS":              "kafka-1:9092, kafka-2:9092,",
		"REQUIRE_DISTINCT_APPROVERS": "false",
		"BULK_CONCURRENCY":           "32",
		"APPROVAL_TIER1_MAX":         "5000",
		"APPROVAL_TIER2_MAX":         "50000.50",
		"EXECUTOR_BREAKER_TIMEOUT":   "5s",
		"SEED_FILE":                  "seed/dev.yaml",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.RequireDistinctApprovers)
	assert.Equal(t, 32, cfg.BulkConcurrency)
	assert.Equal(t, "50000.5", cfg.ApprovalTier2Max.String())
	assert.Equal(t, 5*time.Second, cfg.ExecutorBreakerTimeout)
	assert.Equal(t, "seed/dev.yaml", cfg.SeedFile)
}

func TestInvalidValuesAreCollected(t *testing.T) {
	_, err := FromEnv(lookupFrom(map[string]string{
		"BULK_CONCURRENCY":           "0",
		"REQUIRE_DISTINCT_APPROVERS": "maybe",
		"APPROVAL_TIER1_MAX":         "200000000",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BULK_CONCURRENCY")
	assert.Contains(t, err.Error(), "REQUIRE_DISTINCT_APPROVERS")
	assert.Contains(t, err.Error(), "APPROVAL_TIER2_MAX")
}

func TestLoadReadsEnvFile(t *testing.T) {
	const key = "COMMIT_MAX_RETRIES"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s already set in the environment", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=7\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.CommitMaxRetries)
}

func TestLoadWithoutEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
