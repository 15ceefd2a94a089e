package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	BackendMemory    = "memory"
	BackendBolt      = "bolt"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

type Config struct {
	Port                    string
	AppEnv                  string
	StoreBackend            string
	DBUrl                   string
	DBMaxConns              int32
	DBMinConns              int32
	RedisURL                string
	BoltPath                string
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	AuthProvider            string
	JWTSecret               string
	LogRequests             bool
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		AppEnv:                  normalizeEnv(getEnv("APP_ENV", "production")),
		StoreBackend:            strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", BackendMemory))),
		DBUrl:                   getEnv("DB_URL", ""),
		DBMaxConns:              getEnvInt32("DB_MAX_CONNS", 20),
		DBMinConns:              getEnvInt32("DB_MIN_CONNS", 4),
		RedisURL:                getEnv("REDIS_URL", ""),
		BoltPath:                getEnv("BOLT_PATH", "inbox.db"),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		AuthProvider:            strings.ToLower(strings.TrimSpace(getEnv("AUTH_PROVIDER", "jwt"))),
		JWTSecret:               getEnv("JWT_SECRET", ""),
		LogRequests:             getEnvBool("LOG_REQUESTS", true),
	}

	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendMemory
	}
	if cfg.AuthProvider == "" {
		cfg.AuthProvider = "jwt"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required for the bolt store")
		}
	case BackendPostgres:
		if c.DBUrl == "" {
			return fmt.Errorf("DB_URL is required for the postgres store")
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case BackendFirestore:
		if c.FirebaseProjectID == "" && c.FirebaseCredentialsFile == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID or FIREBASE_CREDENTIALS_FILE is required for the firestore store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.AuthProvider {
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required")
		}
	case "firebase":
	default:
		return fmt.Errorf("unknown AUTH_PROVIDER %q", c.AuthProvider)
	}
	return nil
}

// NeedsFirebase reports whether a firebase app has to be initialised.
func (c *Config) NeedsFirebase() bool {
	return c.StoreBackend == BackendFirestore || c.AuthProvider == "firebase"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	if err != nil || parsed <= 0 {
		log.Printf("Ignoring invalid %s=%q", key, value)
		return fallback
	}
	return int32(parsed)
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}
