// Package config 以 Viper 讀取環境變數（以及可選的 .env 檔）作為服務設定。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 支援的快照後端。
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all the configuration variables for the ledger service.
type Config struct {
	ServerPort         string        `mapstructure:"SERVER_PORT"`
	StorageBackend     string        `mapstructure:"STORAGE_BACKEND"`
	DataFile           string        `mapstructure:"DATA_FILE"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	RedisSnapshotKey   string        `mapstructure:"REDIS_SNAPSHOT_KEY"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	SnapshotName       string        `mapstructure:"SNAPSHOT_NAME"`
	RabbitMQURL        string        `mapstructure:"RABBITMQ_URL"`
	EventsExchange     string        `mapstructure:"EVENTS_EXCHANGE"`
	LockTimeout        time.Duration `mapstructure:"LOCK_TIMEOUT"`
	PersistOnWrite     bool          `mapstructure:"PERSIST_ON_WRITE"`
	CheckpointSchedule string        `mapstructure:"CHECKPOINT_SCHEDULE"`
	ShutdownTimeout    time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	LogDevelopment     bool          `mapstructure:"LOG_DEVELOPMENT"`
}

var keys = []string{
	"SERVER_PORT", "STORAGE_BACKEND", "DATA_FILE", "REDIS_URL", "REDIS_SNAPSHOT_KEY",
	"DATABASE_URL", "SNAPSHOT_NAME", "RABBITMQ_URL", "EVENTS_EXCHANGE", "LOCK_TIMEOUT",
	"PERSIST_ON_WRITE", "CHECKPOINT_SCHEDULE", "SHUTDOWN_TIMEOUT", "LOG_LEVEL", "LOG_DEVELOPMENT",
}

// LoadConfig 從環境變數與 path 目錄下可選的 .env 檔讀取設定。
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	// CHECKPOINT_SCHEDULE="" 代表關閉排程，空字串必須保留。
	v.AllowEmptyEnv(true)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("STORAGE_BACKEND", BackendFile)
	v.SetDefault("DATA_FILE", "./data/db.json")
	v.SetDefault("REDIS_SNAPSHOT_KEY", "ledger:snapshot")
	v.SetDefault("SNAPSHOT_NAME", "default")
	v.SetDefault("EVENTS_EXCHANGE", "ledger.events")
	v.SetDefault("LOCK_TIMEOUT", "2s")
	v.SetDefault("PERSIST_ON_WRITE", true)
	v.SetDefault("CHECKPOINT_SCHEDULE", "@every 30s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	_ = v.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")

	// .env 檔不存在沒關係，其他讀取錯誤才回傳。
	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}

	config.StorageBackend = strings.ToLower(strings.TrimSpace(config.StorageBackend))
	config.CheckpointSchedule = strings.TrimSpace(config.CheckpointSchedule)
	return config, config.Validate()
}

// Validate 檢查設定的一致性。
func (c Config) Validate() error {
	switch c.StorageBackend {
	case BackendFile:
		if strings.TrimSpace(c.DataFile) == "" {
			return errors.New("DATA_FILE must be set for the file backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("REDIS_URL must be set for the redis backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.LockTimeout <= 0 {
		return errors.New("LOCK_TIMEOUT must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}
