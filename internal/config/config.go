package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	StoreAddr string
	ChatAddr  string
	HTTPPort  string

	LogLevel string
	Env      string

	DataDir string

	JWTSecret     string
	AdminUser     string
	AdminPassword string

	// Loyalty policy knobs. Only the VIP rate is fixed by observed
	// behavior; the rest default to the documented policy choice.
	VIPDiscountPct       int64
	ReturningDiscountPct int64
	ReturningThreshold   int
	VIPThreshold         int

	ShutdownTimeout time.Duration
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		StoreAddr: GetEnv("STORE_ADDR", ":5050"),
		ChatAddr:  GetEnv("CHAT_ADDR", ":6060"),
		HTTPPort:  GetEnv("HTTP_PORT", "8081"),

		Env:      GetEnv("ENV", "development"),
		LogLevel: GetEnv("LOG_LEVEL", "info"),

		DataDir: GetEnv("DATA_DIR", "data"),

		JWTSecret:     GetEnv("JWT_SECRET", "dev-secret-change-me"),
		AdminUser:     GetEnv("ADMIN_USER", "admin"),
		AdminPassword: GetEnv("ADMIN_PASSWORD", "admin"),

		VIPDiscountPct:       getInt64("VIP_DISCOUNT_PCT", 12),
		ReturningDiscountPct: getInt64("RETURNING_DISCOUNT_PCT", 5),
		ReturningThreshold:   getInt("RETURNING_THRESHOLD", 3),
		VIPThreshold:         getInt("VIP_THRESHOLD", 10),

		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}, nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
