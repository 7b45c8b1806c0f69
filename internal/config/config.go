// Package config loads the orchestrator process's configuration from the
// environment, with documented defaults. Flags set by the process's own
// bootstrap CLI (cmd/workflow-service) override the corresponding
// environment variable.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the fully-resolved process configuration.
type Config struct {
	ListenAddr      string
	TemplatesDir    string
	DescriptorsDir  string
	Persistence     string // "memory" | "redis" | "mongo" | "s3"
	RedisAddr       string
	MongoURI        string
	MongoDatabase   string
	S3Bucket        string
	MaxConcurrent   int
	AdmissionCap    int
	RetentionWindow time.Duration
	LRUCap          int
	ToolTimeout     time.Duration
	WatchReload     bool
}

// Load resolves configuration from the environment with the documented
// defaults; LISTEN_ADDR is the only variable the engine itself requires to
// be overridable per spec, the rest are additive operational knobs.
func Load() Config {
	return Config{
		ListenAddr:      envOr("LISTEN_ADDR", "0.0.0.0:5099"),
		TemplatesDir:    envOr("TEMPLATES_DIR", ""),
		DescriptorsDir:  envOr("DESCRIPTORS_DIR", ""),
		Persistence:     envOr("PERSISTENCE", "memory"),
		RedisAddr:       envOr("REDIS_ADDR", "localhost:6379"),
		MongoURI:        envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   envOr("MONGO_DATABASE", "workflowcore"),
		S3Bucket:        envOr("S3_BUCKET", "workflowcore-executions"),
		MaxConcurrent:   envIntOr("MAX_CONCURRENT_EXECUTIONS", 64),
		AdmissionCap:    envIntOr("ADMISSION_CAP", 1024),
		RetentionWindow: envDurationOr("RETENTION_WINDOW", 1*time.Hour),
		LRUCap:          envIntOr("EXECUTION_LRU_CAP", 10000),
		ToolTimeout:     envDurationOr("TOOL_TIMEOUT", 10*time.Second),
		WatchReload:     envBoolOr("WATCH_RELOAD", false),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
