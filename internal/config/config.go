package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
// It follows the 12-factor app methodology by prioritizing environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Fleet    FleetConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Port        string
	Environment string
	AdminToken  string
	// PublicBaseURL is where conferencing servers reach this service for
	// end-of-meeting callbacks.
	PublicBaseURL string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ProviderConfig bounds every call against a conferencing server.
// Callers must assume a call can take up to ConnectTimeout+RequestTimeout.
type ProviderConfig struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// FleetConfig carries the operator tunables for health tracking and the
// usage sweep.
type FleetConfig struct {
	// OfflineThreshold is the number of consecutive failed API calls after
	// which a server is considered offline.
	OfflineThreshold int
	// OnlineThreshold is the number of consecutive successful API calls a
	// non-online server needs before it counts as fully recovered.
	OnlineThreshold int
	// SweepInterval is how often every server is reconciled against the
	// provider's list of running meetings.
	SweepInterval time.Duration
	// StatsEnabled toggles append-only meeting/server usage archival.
	StatsEnabled bool
}

type StorageConfig struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PresignTTL time.Duration
}

// LoadConfig loads configuration from environment variables.
// Defaults can be set here if needed.
func LoadConfig() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "8080"),
			Environment:   getEnv("APP_ENV", "development"),
			AdminToken:    getEnv("ADMIN_API_TOKEN", ""),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "roombroker"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Provider: ProviderConfig{
			ConnectTimeout: getEnvAsDuration("BBB_CONNECT_TIMEOUT", 20*time.Second),
			RequestTimeout: getEnvAsDuration("BBB_REQUEST_TIMEOUT", 10*time.Second),
		},
		Fleet: FleetConfig{
			OfflineThreshold: getEnvAsInt("SERVER_OFFLINE_THRESHOLD", 3),
			OnlineThreshold:  getEnvAsInt("SERVER_ONLINE_THRESHOLD", 3),
			SweepInterval:    getEnvAsDuration("USAGE_SWEEP_INTERVAL", time.Minute),
			StatsEnabled:     getEnvAsBool("STATS_ENABLED", false),
		},
		Storage: StorageConfig{
			Region:     getEnv("S3_REGION", ""),
			Bucket:     getEnv("S3_BUCKET", ""),
			AccessKey:  getEnv("S3_ACCESS_KEY", ""),
			SecretKey:  getEnv("S3_SECRET_KEY", ""),
			Endpoint:   getEnv("S3_ENDPOINT", ""),
			PresignTTL: getEnvAsDuration("S3_PRESIGN_TTL", 6*time.Hour),
		},
	}, nil
}

// LockWait is the bound a second start attempt waits on the room lock
// before failing fast. It equals the worst-case provider call duration.
func (p ProviderConfig) LockWait() time.Duration {
	return p.ConnectTimeout + p.RequestTimeout
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
