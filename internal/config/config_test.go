package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "kiosk_id: gate-a\n"))
	require.NoError(t, err)

	assert.Equal(t, "gate-a", cfg.KioskID)
	assert.InDelta(t, 0.45, cfg.Recognition.Tolerance, 1e-9)
	assert.InDelta(t, 85.0, cfg.Attendance.MinConfidence, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Attendance.Cooldown)
	assert.Equal(t, "09:00", cfg.Attendance.LateCutoff)
	assert.Equal(t, 5, cfg.Attendance.LatePenalty)
	assert.Equal(t, 30*time.Second, cfg.RFID.Timeout)
	assert.Equal(t, 10, cfg.AntiSpoofing.MaxFrameBuffer)
	assert.True(t, cfg.AntiSpoofing.Enabled)
	assert.False(t, cfg.AntiSpoofing.FailClosed)
}

func TestLoadYAMLOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
recognition:
  tolerance: 0.5
attendance:
  late_cutoff: "08:30"
  cooldown: 2m
anti_spoofing:
  enabled: false
  fail_closed: true
rfid:
  timeout: 45s
`))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, cfg.Recognition.Tolerance, 1e-9)
	assert.Equal(t, 2*time.Minute, cfg.Attendance.Cooldown)
	assert.False(t, cfg.AntiSpoofing.Enabled)
	assert.True(t, cfg.AntiSpoofing.FailClosed)
	assert.Equal(t, 45*time.Second, cfg.RFID.Timeout)

	cutoff, err := cfg.Attendance.Cutoff()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour+30*time.Minute, cutoff)
}

func TestLoadKeepsExplicitZero(t *testing.T) {
	cfg, err := Load(writeConfig(t, "recognition:\n  tolerance: 0\nattendance:\n  late_penalty: 0\n"))
	require.NoError(t, err)

	assert.Zero(t, cfg.Recognition.Tolerance)
	assert.Zero(t, cfg.Attendance.LatePenalty)
	assert.InDelta(t, 85.0, cfg.Attendance.MinConfidence, 1e-9)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KIOSK_TOLERANCE", "0.3")
	t.Setenv("KIOSK_RFID_TIMEOUT", "10s")
	t.Setenv("KIOSK_DB_HOST", "db.internal")

	cfg, err := Load(writeConfig(t, "recognition:\n  tolerance: 0.6\n"))
	require.NoError(t, err)

	assert.InDelta(t, 0.3, cfg.Recognition.Tolerance, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.RFID.Timeout)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"tolerance above one", "recognition:\n  tolerance: 1.5\n"},
		{"negative tolerance", "recognition:\n  tolerance: -0.1\n"},
		{"bad cutoff", "attendance:\n  late_cutoff: \"25:99\"\n"},
		{"min confidence above 100", "attendance:\n  min_confidence: 120\n"},
		{"buffer smaller than motion window", "anti_spoofing:\n  max_frame_buffer: 2\n  motion_frames: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseTimeOfDay(t *testing.T) {
	d, err := ParseTimeOfDay(" 09:00 ")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour, d)

	_, err = ParseTimeOfDay("9am")
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, Name: "kiosk", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@h:5433/kiosk?sslmode=disable", d.DSN())
}
