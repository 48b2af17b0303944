package worker

import (
	"os"
	"strconv"
	"time"

	"github.com/domino14/gambit/config"
)

// WorkerConfig holds configuration for the evaluation worker
type WorkerConfig struct {
	// NATS server to serve on
	NatsURL string

	// Subject that carries evaluation requests
	Subject string

	// Queue group shared by all workers on the subject
	QueueGroup string

	// Upper bound on one batch evaluation
	EvalTimeout time.Duration

	// How often to log throughput while serving
	HeartbeatInterval time.Duration

	// Largest batch a request may carry
	MaxBatchSize int

	// Search configuration; selects the local evaluator
	GambitConfig *config.Config
}

// DefaultWorkerConfig creates a WorkerConfig from GAMBIT_WORKER_* variables,
// falling back to the shared configuration.
func DefaultWorkerConfig(cfg *config.Config) *WorkerConfig {
	return &WorkerConfig{
		NatsURL:           getEnv("GAMBIT_WORKER_NATS_URL", cfg.GetString(config.ConfigNatsURL)),
		Subject:           getEnv("GAMBIT_WORKER_SUBJECT", cfg.GetString(config.ConfigNatsSubject)),
		QueueGroup:        getEnv("GAMBIT_WORKER_QUEUE_GROUP", "gambit-evaluators"),
		EvalTimeout:       getEnvDuration("GAMBIT_WORKER_EVAL_TIMEOUT", 10*time.Second),
		HeartbeatInterval: getEnvDuration("GAMBIT_WORKER_HEARTBEAT_INTERVAL", 30*time.Second),
		MaxBatchSize:      getEnvInt("GAMBIT_WORKER_MAX_BATCH_SIZE", 1024),
		GambitConfig:      cfg,
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration gets a duration from an environment variable or returns a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
