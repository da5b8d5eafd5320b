package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// グローバル参照はせず、各クライアント・サービスのコンストラクタへ明示的に注入する。
type Config struct {
	// Database
	DatabaseURL string

	// Thryve API
	ThryveAPIBase      string
	ThryveAuthUser     string
	ThryveAuthPassword string
	ThryveAppID        string
	ThryveTimeout      time.Duration

	// Pryv API
	PryvTimeout     time.Duration
	PryvMaxBodySize int64

	// Sync
	SyncInterval      time.Duration
	SyncMaxConcurrent int
	// SyncBacklogAge は定期同期の対象とみなすlast_syncの経過時間。
	SyncBacklogAge time.Duration

	// Rate Limit（req/min単位）
	RateLimitGeneral      int
	RateLimitRegistration int

	// Server
	ServerPort  string
	MetricsPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.ThryveAuthUser = os.Getenv("THRYVE_AUTH_USER")
	if cfg.ThryveAuthUser == "" {
		missing = append(missing, "THRYVE_AUTH_USER")
	}

	cfg.ThryveAuthPassword = os.Getenv("THRYVE_AUTH_PASSWORD")
	if cfg.ThryveAuthPassword == "" {
		missing = append(missing, "THRYVE_AUTH_PASSWORD")
	}

	cfg.ThryveAppID = os.Getenv("THRYVE_APP_ID")
	if cfg.ThryveAppID == "" {
		missing = append(missing, "THRYVE_APP_ID")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ThryveAPIBase = getEnvString("THRYVE_API_BASE", "https://api.und-gesund.de/v5")
	cfg.ThryveTimeout = getEnvDuration("THRYVE_TIMEOUT", 30*time.Second)
	cfg.PryvTimeout = getEnvDuration("PRYV_TIMEOUT", 30*time.Second)
	cfg.PryvMaxBodySize = getEnvInt64("PRYV_MAX_BODY_SIZE", 5242880)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 15*time.Minute)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 10)
	cfg.SyncBacklogAge = getEnvDuration("SYNC_BACKLOG_AGE", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRegistration = getEnvInt("RATE_LIMIT_REGISTRATION", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
