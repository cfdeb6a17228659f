package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, StorageMemory, cfg.Storage.Driver)
	require.Equal(t, 100, cfg.RateLimit.Requests)
	require.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	require.Equal(t, 10*time.Minute, cfg.Auth.OTPTTL)
	require.Equal(t, 7*24*time.Hour, cfg.Auth.JWTTTL)
	require.False(t, cfg.SMTP.Configured())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("BLOCKTIX_ADMIN_API_KEY", "s3cret")
	t.Setenv("BLOCKTIX_STORAGE_DRIVER", "postgres")
	t.Setenv("BLOCKTIX_SMTP_HOST", "smtp.example.com")
	t.Setenv("BLOCKTIX_SMTP_PORT", "587")
	t.Setenv("BLOCKTIX_SMTP_USERNAME", "mailer")
	t.Setenv("BLOCKTIX_SMTP_PASSWORD", "pw")
	t.Setenv("BLOCKTIX_SMTP_FROM", "tickets@example.com")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "s3cret", cfg.Admin.APIKey)
	require.Equal(t, StoragePostgres, cfg.Storage.Driver)
	require.Equal(t, 587, cfg.SMTP.Port)
	require.True(t, cfg.SMTP.Configured())
}

func TestFormatIndex(t *testing.T) {
	require.Equal(t, "blocktix-transactions", FormatIndex(ElasticConfig{Prefix: "blocktix"}, "transactions"))
	require.Equal(t, "transactions", FormatIndex(ElasticConfig{}, "transactions"))
}
