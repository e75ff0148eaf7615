package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Engine    EngineConfig
	Inference InferenceConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the archived-report bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ReportsBucket        string
	PresignExpireMinutes int
}

// EngineConfig holds tuning for the live engagement engine.
type EngineConfig struct {
	OnlineWindow      time.Duration // a student counts as online if seen within this window
	BucketWidth       time.Duration // trend bucket width
	BroadcastDebounce time.Duration // minimum gap between snapshot broadcasts per session
	SweepInterval     time.Duration // cadence of the overdue-session sweep
	AlertInterval     time.Duration // cadence of alert evaluation
	EndedRetention    time.Duration // how long ended sessions stay resident in memory
	AppendRetries     int           // durable append attempts before dropping
	AppendBackoff     time.Duration
	ConfusedShare     float64 // alert when confused/online exceeds this
	BoredShare        float64 // alert when bored/online exceeds this
	MinAvgEngagement  float64 // alert when average engagement (0-100) drops below this
}

// InferenceConfig holds the external emotion ML service settings.
type InferenceConfig struct {
	URL     string
	Timeout time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/classpulse?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classpulse"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ReportsBucket:        getEnv("AWS_S3_REPORTS_BUCKET", "classpulse-reports"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Engine: EngineConfig{
			OnlineWindow:      getEnvDuration("ENGINE_ONLINE_WINDOW_SEC", 300),
			BucketWidth:       getEnvDuration("ENGINE_BUCKET_WIDTH_SEC", 60),
			BroadcastDebounce: getEnvDuration("ENGINE_BROADCAST_DEBOUNCE_SEC", 2),
			SweepInterval:     getEnvDuration("ENGINE_SWEEP_INTERVAL_SEC", 30),
			AlertInterval:     getEnvDuration("ENGINE_ALERT_INTERVAL_SEC", 15),
			EndedRetention:    getEnvDuration("ENGINE_ENDED_RETENTION_SEC", 3600),
			AppendRetries:     getEnvInt("ENGINE_APPEND_RETRIES", 3),
			AppendBackoff:     getEnvDuration("ENGINE_APPEND_BACKOFF_SEC", 2),
			ConfusedShare:     getEnvFloat("ENGINE_ALERT_CONFUSED_SHARE", 0.20),
			BoredShare:        getEnvFloat("ENGINE_ALERT_BORED_SHARE", 0.30),
			MinAvgEngagement:  getEnvFloat("ENGINE_ALERT_MIN_AVG_ENGAGEMENT", 60),
		},
		Inference: InferenceConfig{
			URL:     getEnv("INFERENCE_URL", "http://localhost:5001"),
			Timeout: getEnvDuration("INFERENCE_TIMEOUT_SEC", 5),
		},
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, fmt.Errorf("JWT_SECRET must not be empty")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallbackSec int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSec)) * time.Second
}
