// Package config loads kernel configuration from environment variables.
package config

import (
	"os"
	"strconv"
)

// Config holds kernel configuration.
type Config struct {
	DatabasePath string
	LogLevel     string

	// PackFile optionally points to a YAML file of additional pack
	// definitions loaded on top of the built-ins.
	PackFile string

	// EvidenceBucket enables S3 archival of evidence packs when set.
	EvidenceBucket string
	EvidencePrefix string

	CoprocessorQPS   float64
	CoprocessorBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	dbPath := os.Getenv("TRACELIGHT_DB")
	if dbPath == "" {
		dbPath = "tracelight.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	prefix := os.Getenv("TRACELIGHT_EVIDENCE_PREFIX")
	if prefix == "" {
		prefix = "evidence"
	}

	qps := 5.0
	if v := os.Getenv("TRACELIGHT_COPROCESSOR_QPS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			qps = parsed
		}
	}
	burst := 10
	if v := os.Getenv("TRACELIGHT_COPROCESSOR_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			burst = parsed
		}
	}

	return &Config{
		DatabasePath:     dbPath,
		LogLevel:         logLevel,
		PackFile:         os.Getenv("TRACELIGHT_PACK_FILE"),
		EvidenceBucket:   os.Getenv("TRACELIGHT_EVIDENCE_BUCKET"),
		EvidencePrefix:   prefix,
		CoprocessorQPS:   qps,
		CoprocessorBurst: burst,
	}
}
