package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultJWTSecret 仅用于本地开发，非 dev 环境下 Validate 会拒绝它。
const DefaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	StoreDriver           string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	CallTokenSecret     string
	CallTokenTTLMinutes int

	KafkaBrokers string
	KafkaTopic   string
	KafkaGroupID string

	RedisAddr          string
	FCMCredentialsFile string
	OTLPEndpoint       string
	MetricsPort        string

	// CORSOrigins 是非 dev 环境下额外允许的跨域来源，同源请求总是允许。
	CORSOrigins []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法或非正数时回退到默认值。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// getenvList 读取逗号分隔的列表，忽略空项。
func getenvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Load 先尝试加载 .env，再读取环境变量。
func Load() Config {
	_ = godotenv.Load()

	secret := getenv("JWT_SECRET", DefaultJWTSecret)
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		Env:                   getenv("APP_ENV", "dev"),
		LogLevel:              getenv("LOG_LEVEL", "info"),
		StoreDriver:           getenv("STORE_DRIVER", "postgres"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=groupchat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             secret,
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		CallTokenSecret:       getenv("CALL_TOKEN_SECRET", secret),
		CallTokenTTLMinutes:   getenvInt("CALL_TOKEN_TTL_MINUTES", 60),
		KafkaBrokers:          getenv("KAFKA_BROKERS", ""),
		KafkaTopic:            getenv("KAFKA_TOPIC", "messages.new"),
		KafkaGroupID:          getenv("KAFKA_GROUP_ID", "pushworker"),
		RedisAddr:             getenv("REDIS_ADDR", ""),
		FCMCredentialsFile:    getenv("FCM_CREDENTIALS_FILE", ""),
		OTLPEndpoint:          getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricsPort:           getenv("METRICS_PORT", "9091"),
		CORSOrigins:           getenvList("CORS_ORIGINS"),
	}
}

// Validate 在启动时检查关键配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT must not be empty")
	}
	if cfg.StoreDriver != "memory" && cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN must not be empty")
	}
	if cfg.StoreDriver != "" && cfg.StoreDriver != "memory" && cfg.StoreDriver != "postgres" {
		return errors.New("STORE_DRIVER must be postgres or memory")
	}
	if cfg.KafkaBrokers != "" && cfg.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	if cfg.Env != "dev" && (cfg.JWTSecret == DefaultJWTSecret || cfg.CallTokenSecret == DefaultJWTSecret) {
		return errors.New("default JWT secret is not allowed outside dev")
	}
	return nil
}
