package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")

	req.NoError(err)
	req.Equal(Default(), cfg)
	req.Equal(":3001", cfg.Addr())
	req.Equal([]string{"http://localhost:3000"}, cfg.AllowedOrigins())
	req.Equal(5*time.Second, cfg.Presence.HeartbeatInterval)
	req.Equal(10*time.Second, cfg.Presence.SweepInterval)
	req.Equal(30*time.Second, cfg.Presence.ParticipantTimeout)
	req.Equal(time.Hour, cfg.Presence.RoomInactivityTimeout)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	req := require.New(t)
	path := writeFile(t, `
port: 4000
frontend_url: "https://poker.example.com, https://staging.poker.example.com"
presence:
  heartbeat_interval: 2s
  participant_timeout: 12s
log:
  level: debug
  format: json
nats:
  url: nats://nats:4222
`)

	// Given the environment overrides part of the file
	t.Setenv("PORT", "5000")
	t.Setenv("SWEEP_INTERVAL", "4s")

	cfg, err := Load(path)

	req.NoError(err)
	req.Equal(5000, cfg.Port)
	req.Equal([]string{"https://poker.example.com", "https://staging.poker.example.com"}, cfg.AllowedOrigins())
	req.Equal(2*time.Second, cfg.Presence.HeartbeatInterval)
	req.Equal(4*time.Second, cfg.Presence.SweepInterval)
	req.Equal(12*time.Second, cfg.Presence.ParticipantTimeout)
	req.Equal(time.Minute, cfg.Presence.RoomSweepInterval)
	req.Equal("debug", cfg.Log.Level)
	req.Equal("json", cfg.Log.Format)
	req.Equal("nats://nats:4222", cfg.NATS.URL)
	req.Equal("poker.events", cfg.NATS.SubjectPrefix)
}

func TestLoad_ConfigPathFromEnvironment(t *testing.T) {
	req := require.New(t)
	path := writeFile(t, "port: 4100\n")
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("")

	req.NoError(err)
	req.Equal(4100, cfg.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeFile(t, "port: [not a number\n"))
	require.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "port out of range", key: "PORT", val: "70000"},
		{name: "timeout not above heartbeat", key: "PARTICIPANT_TIMEOUT", val: "5s"},
		{name: "zero sweep interval", key: "SWEEP_INTERVAL", val: "0s"},
		{name: "unknown log level", key: "LOG_LEVEL", val: "loud"},
		{name: "unknown log format", key: "LOG_FORMAT", val: "xml"},
		{name: "empty origin list", key: "FRONTEND_URL", val: " , "},
		{name: "unparseable duration", key: "HEARTBEAT_INTERVAL", val: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", "")
			t.Setenv(tt.key, tt.val)

			_, err := Load("")

			require.Error(t, err)
		})
	}
}

func TestAllowedOrigins_Wildcard(t *testing.T) {
	cfg := Default()
	cfg.FrontendURL = "*"
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}
