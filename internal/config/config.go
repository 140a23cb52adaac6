// Package config loads pgsdump settings: defaults, then environment
// variables, then an optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/pgs/render"
)

// Config holds every runtime setting of the CLI.
type Config struct {
	SRTAddr      string        `yaml:"srt_addr"`
	LogLevel     string        `yaml:"log_level"`
	Decode       bool          `yaml:"decode"`
	Strict       bool          `yaml:"strict"`
	Timeshift    time.Duration `yaml:"timeshift"`
	ObjectFit    string        `yaml:"object_fit"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	TickInterval time.Duration `yaml:"tick_interval"`
	OutputDir    string        `yaml:"output_dir"`
	PID          uint16        `yaml:"pid"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		SRTAddr:      ":6000",
		LogLevel:     "info",
		ObjectFit:    "contain",
		Width:        1920,
		Height:       1080,
		TickInterval: 40 * time.Millisecond,
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) applyEnv(getenv func(string) string) error {
	c.SRTAddr = envOr(getenv, "SRT_ADDR", c.SRTAddr)
	c.LogLevel = envOr(getenv, "LOG_LEVEL", c.LogLevel)
	if getenv("DEBUG") != "" {
		c.LogLevel = "debug"
	}
	c.ObjectFit = envOr(getenv, "PGS_OBJECT_FIT", c.ObjectFit)
	c.OutputDir = envOr(getenv, "PGS_OUTPUT_DIR", c.OutputDir)

	var err error
	if c.Decode, err = envBool(getenv, "PGS_DECODE", c.Decode); err != nil {
		return err
	}
	if c.Strict, err = envBool(getenv, "PGS_STRICT", c.Strict); err != nil {
		return err
	}
	if c.Timeshift, err = envDuration(getenv, "PGS_TIMESHIFT", c.Timeshift); err != nil {
		return err
	}
	if c.TickInterval, err = envDuration(getenv, "PGS_TICK", c.TickInterval); err != nil {
		return err
	}
	if c.Width, err = envInt(getenv, "PGS_WIDTH", c.Width); err != nil {
		return err
	}
	if c.Height, err = envInt(getenv, "PGS_HEIGHT", c.Height); err != nil {
		return err
	}
	pid, err := envInt(getenv, "PGS_PID", int(c.PID))
	if err != nil {
		return err
	}
	if pid < 0 || pid > 0x1FFF {
		return fmt.Errorf("config: PGS_PID %d out of range", pid)
	}
	c.PID = uint16(pid)
	return nil
}

func envBool(getenv func(string) string, key string, fallback bool) (bool, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func envDuration(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func envInt(getenv func(string) string, key string, fallback int) (int, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if _, err := render.ParseFit(c.ObjectFit); err != nil {
		return fmt.Errorf("config: object_fit: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("config: surface size %dx%d must be positive", c.Width, c.Height)
	}
	if c.PID > 0x1FFF {
		return fmt.Errorf("config: pid 0x%X out of range", c.PID)
	}
	return nil
}

// Level maps LogLevel onto a slog level.
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", c.LogLevel)
}

// Fit returns the parsed object fit. It is only valid after Validate.
func (c Config) Fit() render.Fit {
	f, _ := render.ParseFit(c.ObjectFit)
	return f
}
