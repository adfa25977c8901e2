package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, "INFO", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://localhost/todoapp")
	t.Setenv("CRON_SECRET", "s3cret")

	cfg := Load()
	require.Equal(t, "9999", cfg.Port)
	require.Equal(t, "postgres://localhost/todoapp", cfg.DatabaseURL)
	require.Equal(t, "s3cret", cfg.CronSecret)
}
