package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Event broker (Kafka)
	KafkaBrokers []string
	KafkaTopic   string
	KafkaClient  string

	// Reactive ingress shared secret
	OrchestratorSecret string

	// External generator (AI completion endpoint)
	GeneratorBaseURL string
	GeneratorTimeout time.Duration
	GeneratorRate    int // generator calls per second, per stage

	// Pipeline execution pool
	PipelineWorkers int
	QueueCapacity   int
	StageTimeout    time.Duration

	// Change-feed bridge
	FeedPartitions   int
	FeedPollInterval time.Duration
	FeedBatchSize    int
	FeedLeaseTTL     time.Duration

	// Fan-out broadcaster
	BroadcastBuffer  int
	BroadcastIdleTTL time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 0), // 0: stream responses stay open
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		KafkaBrokers: getList("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "wishlist-events"),
		KafkaClient:  getEnv("KAFKA_CLIENT_ID", "wishlist-pipeline"),

		OrchestratorSecret: getEnv("ORCHESTRATOR_SECRET", "dev-secret"),

		GeneratorBaseURL: getEnv("GENERATOR_BASE_URL", "http://localhost:9090/generate"),
		GeneratorTimeout: getDuration("GENERATOR_TIMEOUT", 8*time.Second),
		GeneratorRate:    getInt("GENERATOR_RATE_PER_SEC", 10),

		PipelineWorkers: getInt("PIPELINE_WORKERS", 8),
		QueueCapacity:   getInt("QUEUE_CAPACITY", 1000),
		StageTimeout:    getDuration("STAGE_TIMEOUT", 5*time.Second),

		FeedPartitions:   getInt("FEED_PARTITIONS", 4),
		FeedPollInterval: getDuration("FEED_POLL_INTERVAL", 2*time.Second),
		FeedBatchSize:    getInt("FEED_BATCH_SIZE", 100),
		FeedLeaseTTL:     getDuration("FEED_LEASE_TTL", 30*time.Second),

		BroadcastBuffer:  getInt("BROADCAST_BUFFER", 64),
		BroadcastIdleTTL: getDuration("BROADCAST_IDLE_TTL", 10*time.Minute),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getList(key, defaultVal string) []string {
	raw := getEnv(key, defaultVal)
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
