package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("OMISE_PUBLIC_KEY", "pkey_test")
	t.Setenv("OMISE_SECRET_KEY", "skey_test")
	t.Setenv("OMISE_WEBHOOK_SECRET", "whsec")
	t.Setenv("VIDEO_APP_ID", "app")
	t.Setenv("VIDEO_APP_CERTIFICATE", "cert")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":50051", cfg.App.GRPCAddr)
	assert.Equal(t, "Asia/Kolkata", cfg.App.Timezone)
	assert.Equal(t, 10*time.Second, cfg.App.ExternalTimeout)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, 24*time.Hour, cfg.Video.TokenTTL)
	assert.Equal(t, time.Hour, cfg.Workers.ReminderLead)
	assert.Equal(t, "none", cfg.Events.Driver)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Chat.Enabled())
	assert.Equal(t, "Asia/Kolkata", cfg.Location().String())
	assert.Contains(t, cfg.DB.DSN(), "port=5432")
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	require.NoError(t, os.Unsetenv("VIDEO_APP_CERTIFICATE"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SCHEDULE_TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("SCHEDULE_TIMEZONE", "UTC")
	t.Setenv("EVENTS_DRIVER", "kafka")
	_, err = Load()
	assert.Error(t, err)
}
