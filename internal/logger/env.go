package logger

import (
	"io"
	"os"
	"strconv"
)

// EnvConfig extends Config with file output and rotation settings.
type EnvConfig struct {
	Level       string
	Format      string
	Output      io.Writer
	ServiceName string

	// Environment is local, dev or prod. File output is only enabled outside local.
	Environment string

	LogFile     string
	LogFileOnly bool

	// Rotation (lumberjack).
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// LoadFromEnv reads logger settings from LOG_* and APP_ENV variables.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Level:       envString("LOG_LEVEL", "info"),
		Format:      envString("LOG_FORMAT", "json"),
		ServiceName: envString("SERVICE_NAME", "tendersync"),
		Environment: envString("APP_ENV", "local"),

		LogFile:     envString("LOG_FILE", "/var/log/tendersync/sync.log"),
		LogFileOnly: envBool("LOG_FILE_ONLY", false),

		MaxSize:    envInt("LOG_MAX_SIZE", 50),
		MaxBackups: envInt("LOG_MAX_BACKUPS", 7),
		MaxAge:     envInt("LOG_MAX_AGE", 30),
		Compress:   envBool("LOG_COMPRESS", true),
	}
}

func envString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return i
}
