package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cri-9/oficina-600/internal/relay"
)

type Config struct {
	Port               string
	RelayPort          string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RelayChannel       string
	SendTimeout        time.Duration
	PublishTimeout     time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	// A missing .env is fine; deployments set real environment variables.
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	relayPort := os.Getenv("RELAY_PORT")
	if relayPort == "" {
		relayPort = "8081"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	channel := os.Getenv("RELAY_CHANNEL")
	if channel == "" {
		channel = relay.DefaultChannel
	}

	return Config{
		Port:               port,
		RelayPort:          relayPort,
		DatabaseURL:        os.Getenv("DB_DSN"),
		RedisAddr:          redisAddr,
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            readInt("REDIS_DB", 0),
		RelayChannel:       channel,
		SendTimeout:        readDurationSeconds("DISPLAY_SEND_TIMEOUT_SECONDS", 1),
		PublishTimeout:     readDurationSeconds("RELAY_PUBLISH_TIMEOUT_SECONDS", 2),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
	}
}

// NewRedisClient connects and pings. Returns nil when Redis is unreachable
// so callers can decide whether to degrade or fail hard.
func NewRedisClient(cfg Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
