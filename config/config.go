package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	HostPort string
	DevMode  bool

	DynamoDBEndpoint string
	DynamoDBTable    string

	RedisEndpoint string

	SQSEndpoint       string
	ThumbnailQueue    string

	// Optional: when set, the ws channel requires signed identity tokens
	JWTSecret []byte

	AllowedOrigin string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		HostPort: getEnv("HOST_PORT", "8080"),
		DevMode:  getEnvBool("DEV_MODE", false),

		DynamoDBEndpoint: getEnv("DYNAMODB_ENDPOINT", "http://localhost:8000"),
		DynamoDBTable:    getEnv("DYNAMODB_TABLE", "Inkdeck"),

		RedisEndpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),

		SQSEndpoint:    getEnv("SQS_ENDPOINT", "http://localhost:9324"),
		ThumbnailQueue: getEnv("SQS_THUMBNAIL_QUEUE", "ThumbnailQueue"),

		AllowedOrigin: getEnv("ALLOWED_ORIGIN", ""),
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		decoded, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 JWT_SECRET: %w", err)
		}
		cfg.JWTSecret = decoded
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
