package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tracelight-io/tracelight/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TRACELIGHT_DB", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("TRACELIGHT_EVIDENCE_BUCKET", "")
	t.Setenv("TRACELIGHT_COPROCESSOR_QPS", "")
	t.Setenv("TRACELIGHT_COPROCESSOR_BURST", "")

	cfg := config.Load()

	assert.Equal(t, "tracelight.db", cfg.DatabasePath)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Empty(t, cfg.EvidenceBucket)
	assert.Equal(t, "evidence", cfg.EvidencePrefix)
	assert.Equal(t, 5.0, cfg.CoprocessorQPS)
	assert.Equal(t, 10, cfg.CoprocessorBurst)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TRACELIGHT_DB", "/var/lib/tracelight/kernel.db")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TRACELIGHT_EVIDENCE_BUCKET", "audit-archive")
	t.Setenv("TRACELIGHT_EVIDENCE_PREFIX", "packs/v1")
	t.Setenv("TRACELIGHT_COPROCESSOR_QPS", "2.5")
	t.Setenv("TRACELIGHT_COPROCESSOR_BURST", "4")

	cfg := config.Load()

	assert.Equal(t, "/var/lib/tracelight/kernel.db", cfg.DatabasePath)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "audit-archive", cfg.EvidenceBucket)
	assert.Equal(t, "packs/v1", cfg.EvidencePrefix)
	assert.Equal(t, 2.5, cfg.CoprocessorQPS)
	assert.Equal(t, 4, cfg.CoprocessorBurst)
}

func TestLoad_IgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("TRACELIGHT_COPROCESSOR_QPS", "not-a-number")
	t.Setenv("TRACELIGHT_COPROCESSOR_BURST", "-3")

	cfg := config.Load()

	assert.Equal(t, 5.0, cfg.CoprocessorQPS)
	assert.Equal(t, 10, cfg.CoprocessorBurst)
}
