package runner

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/integrations"
)

func parse(t *testing.T, args ...string) *Config {
	t.Helper()

	return parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), args)
}

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("DISABLE_TELEMETRY", "")
	t.Setenv("YOUTUBE_CALLBACK_REDIRECT", "")

	cfg := parse(t)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "webdata", cfg.DataFolder)
	assert.Equal(t, "X-User-ID", cfg.UserHeader)
	assert.Equal(t, integrations.DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, RunModeWeb, cfg.RunMode)
	assert.False(t, cfg.DisableTelemetry)
	assert.Nil(t, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestParseConfigFlags(t *testing.T) {
	t.Setenv("DISABLE_TELEMETRY", "1")
	t.Setenv("YOUTUBE_CALLBACK_REDIRECT", "https://app.example.com/settings")

	cfg := parse(t,
		"-worker",
		"-dsn", "postgres://u:p@localhost/db",
		"-sweep-interval", "30m",
		"-allowed-origins", "https://a.example.com, https://b.example.com,",
		"-redis-state",
	)

	assert.Equal(t, RunModeWorker, cfg.RunMode)
	assert.Equal(t, 30*time.Minute, cfg.SweepInterval)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "https://app.example.com/settings", cfg.CallbackRedirect)
	assert.True(t, cfg.DisableTelemetry)
	assert.True(t, cfg.UseRedisState)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "sweep interval too short", cfg: Config{DataFolder: "d", SweepInterval: time.Millisecond}, want: "sweep interval"},
		{name: "worker without dsn", cfg: Config{DataFolder: "d", SweepInterval: time.Hour, Worker: true}, want: "-dsn"},
		{name: "no store", cfg: Config{SweepInterval: time.Hour}, want: "-data-folder"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(true)
	require.NoError(t, err)
	assert.NotNil(t, logger.Check(zap.DebugLevel, "debug"))

	logger, err = NewLogger(false)
	require.NoError(t, err)
	assert.Nil(t, logger.Check(zap.DebugLevel, "debug"))
}
