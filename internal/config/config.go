package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/vitae/vitae/backend/go-services/internal/publish"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// DefaultUser is the acting user when a request carries no identity.
const DefaultUser = "00000000-0000-0000-0000-000000000000"

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Editing   EditingConfig
	Storage   StorageConfig
	MongoDB   MongoDBConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Keycloak  KeycloakConfig
	JWT       JWTConfig
	MinIO     publish.MinIOConfig
	LogLevel  string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

type EditingConfig struct {
	Enabled     bool
	DefaultUser string
	// AuthRequired rejects mutations without a verified identity.
	AuthRequired bool
}

type StorageConfig struct {
	Driver string
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type PostgresConfig struct {
	DSN     string
	Timeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a redis host is configured.
func (r RedisConfig) Enabled() bool { return r.Host != "" }

type CacheConfig struct {
	Enabled bool
	Prefix  string
	TTL     time.Duration
}

type RateLimitConfig struct {
	Enabled  bool
	RPS      float64
	Burst    int
	UseRedis bool
	Window   time.Duration
}

type KeycloakConfig struct {
	URL      string
	Realm    string
	ClientID string
}

// Enabled reports whether an OIDC issuer is configured.
func (k KeycloakConfig) Enabled() bool { return k.URL != "" && k.Realm != "" }

// Issuer is the realm issuer URL.
func (k KeycloakConfig) Issuer() string {
	return strings.TrimRight(k.URL, "/") + "/realms/" + k.Realm
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5001")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("EDITING_ENABLED", true)
	viper.SetDefault("EDITING_DEFAULT_USER", DefaultUser)
	viper.SetDefault("AUTH_REQUIRED", false)
	viper.SetDefault("STORAGE_DRIVER", DriverMemory)
	viper.SetDefault("MONGODB_DATABASE", "vitae")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("POSTGRES_TIMEOUT", 10)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_PREFIX", "records")
	viper.SetDefault("CACHE_TTL_SECONDS", 0)
	viper.SetDefault("RATE_LIMIT_ENABLED", false)
	viper.SetDefault("RATE_LIMIT_RPS", 10)
	viper.SetDefault("RATE_LIMIT_BURST", 20)
	viper.SetDefault("RATE_LIMIT_USE_REDIS", false)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	viper.SetDefault("JWT_TTL_MINUTES", 60)
	viper.SetDefault("MINIO_BUCKET", publish.DefaultBucket)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			CORSOrigins:  splitList(viper.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Editing: EditingConfig{
			Enabled:      viper.GetBool("EDITING_ENABLED"),
			DefaultUser:  viper.GetString("EDITING_DEFAULT_USER"),
			AuthRequired: viper.GetBool("AUTH_REQUIRED"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(viper.GetString("STORAGE_DRIVER")),
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Postgres: PostgresConfig{
			DSN:     viper.GetString("POSTGRES_DSN"),
			Timeout: time.Duration(viper.GetInt("POSTGRES_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Cache: CacheConfig{
			Enabled: viper.GetBool("CACHE_ENABLED"),
			Prefix:  viper.GetString("CACHE_PREFIX"),
			TTL:     time.Duration(viper.GetInt("CACHE_TTL_SECONDS")) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:  viper.GetBool("RATE_LIMIT_ENABLED"),
			RPS:      viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:    viper.GetInt("RATE_LIMIT_BURST"),
			UseRedis: viper.GetBool("RATE_LIMIT_USE_REDIS"),
			Window:   time.Duration(viper.GetInt("RATE_LIMIT_WINDOW_SECONDS")) * time.Second,
		},
		Keycloak: KeycloakConfig{
			URL:      viper.GetString("KEYCLOAK_URL"),
			Realm:    viper.GetString("KEYCLOAK_REALM"),
			ClientID: viper.GetString("KEYCLOAK_CLIENT_ID"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("JWT_SECRET"),
			TTL:    time.Duration(viper.GetInt("JWT_TTL_MINUTES")) * time.Minute,
		},
		MinIO: publish.MinIOConfig{
			Endpoint:  viper.GetString("MINIO_ENDPOINT"),
			AccessKey: viper.GetString("MINIO_ACCESS_KEY"),
			SecretKey: viper.GetString("MINIO_SECRET_KEY"),
			UseSSL:    viper.GetBool("MINIO_USE_SSL"),
			Bucket:    viper.GetString("MINIO_BUCKET"),
		},
		LogLevel: viper.GetString("LOG_LEVEL"),
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverMongo:
		if cfg.MongoDB.URI == "" {
			return nil, fmt.Errorf("MONGODB_URI is required for the %s driver", DriverMongo)
		}
	case DriverPostgres:
		if cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required for the %s driver", DriverPostgres)
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Storage.Driver)
	}
	if cfg.Editing.DefaultUser == "" {
		cfg.Editing.DefaultUser = DefaultUser
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
