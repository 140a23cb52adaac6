package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/pgs/render"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":6000", cfg.SRTAddr)
	assert.Equal(t, 40*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, render.Contain, cfg.Fit())
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"SRT_ADDR":       ":7000",
		"DEBUG":          "1",
		"PGS_DECODE":     "true",
		"PGS_STRICT":     "1",
		"PGS_TIMESHIFT":  "-1.5s",
		"PGS_OBJECT_FIT": "cover",
		"PGS_WIDTH":      "1280",
		"PGS_HEIGHT":     "720",
		"PGS_TICK":       "20ms",
		"PGS_OUTPUT_DIR": "/tmp/frames",
		"PGS_PID":        "4608",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.SRTAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Decode)
	assert.True(t, cfg.Strict)
	assert.Equal(t, -1500*time.Millisecond, cfg.Timeshift)
	assert.Equal(t, "cover", cfg.ObjectFit)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 720, cfg.Height)
	assert.Equal(t, 20*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, "/tmp/frames", cfg.OutputDir)
	assert.Equal(t, uint16(0x1200), cfg.PID)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestApplyEnv_Errors(t *testing.T) {
	t.Parallel()
	for _, kv := range [][2]string{
		{"PGS_DECODE", "maybe"},
		{"PGS_TIMESHIFT", "2 seconds"},
		{"PGS_TICK", "fast"},
		{"PGS_WIDTH", "wide"},
		{"PGS_PID", "70000"},
	} {
		cfg := Default()
		err := cfg.applyEnv(env(map[string]string{kv[0]: kv[1]}))
		assert.Error(t, err, kv[0])
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pgs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
srt_addr: ":6100"
object_fit: scale-down
tick_interval: 100ms
timeshift: 2s
decode: true
width: 640
height: 360
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6100", cfg.SRTAddr)
	assert.Equal(t, render.ScaleDown, cfg.Fit())
	assert.Equal(t, 100*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 2*time.Second, cfg.Timeshift)
	assert.True(t, cfg.Decode)
	assert.Equal(t, 640, cfg.Width)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("object_fit: stretch\n"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "object_fit")

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("width: [1, 2\n"), 0o644))
	_, err = Load(garbage)
	assert.ErrorContains(t, err, "parse")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.TickInterval = 0 }},
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad fit", func(c *Config) { c.ObjectFit = "tile" }},
		{"bad pid", func(c *Config) { c.PID = 0x2000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
