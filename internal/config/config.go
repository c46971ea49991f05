package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk workerctl configuration.
type File struct {
	Name            string            `toml:"name"`
	Source          string            `toml:"source"`
	Mode            string            `toml:"mode"`
	WorkerdPath     string            `toml:"workerd_path"`
	WorkerdArgs     []string          `toml:"workerd_args"`
	AutoStart       bool              `toml:"auto_start"`
	StartArgs       []any             `toml:"start_args"`
	ExitOnTerminate bool              `toml:"exit_on_terminate"`
	LegacyActions   bool              `toml:"legacy_actions"`
	FetchTimeout    string            `toml:"fetch_timeout"`
	BaseDir         string            `toml:"base_dir"`
	ScriptDir       string            `toml:"script_dir"`
	AdminAddr       string            `toml:"admin_addr"`
	AdminToken      string            `toml:"admin_token"`
	CorsOrigins     []string          `toml:"cors_origins"`
	JournalDSN      string            `toml:"journal_dsn"`
	Heartbeat       string            `toml:"heartbeat"`
	ShutdownTimeout string            `toml:"shutdown_timeout"`
	Scripts         map[string]string `toml:"scripts"`
}

// LoadFile parses path strictly: unknown keys are an error.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var cfg File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return File{}, fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return File{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields a run cannot start without. Empty fields fall
// back to defaults and are accepted.
func Validate(cfg File) error {
	switch strings.TrimSpace(cfg.Mode) {
	case "", "inprocess", "process":
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	durations := map[string]string{
		"fetch_timeout":    cfg.FetchTimeout,
		"heartbeat":        cfg.Heartbeat,
		"shutdown_timeout": cfg.ShutdownTimeout,
	}
	for key, raw := range durations {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	for selector, body := range cfg.Scripts {
		if strings.TrimSpace(selector) == "" {
			return fmt.Errorf("script with empty selector")
		}
		if strings.TrimSpace(body) == "" {
			return fmt.Errorf("script %q is empty", selector)
		}
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg File) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
