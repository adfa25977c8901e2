// Package config provides environment-driven application configuration.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config carries the runtime settings for the service.
type Config struct {
	Port         string
	DatabaseURL  string
	DataDir      string
	BaseURL      string
	CronSecret   string
	DeploySecret string
	LogLevel     string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present; real environment
// variables win over .env entries.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		CronSecret:   os.Getenv("CRON_SECRET"),
		DeploySecret: os.Getenv("DEPLOY_SECRET"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
