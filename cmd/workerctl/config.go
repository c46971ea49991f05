package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/webworker/internal/config"
	"github.com/danmuck/webworker/internal/service"
)

func loadServiceConfig(path string) (service.ServiceConfig, error) {
	cfg := service.DefaultServiceConfig()

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return service.ServiceConfig{}, fmt.Errorf("load workerctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return service.ServiceConfig{}, fmt.Errorf("load workerctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("source") {
		cfg.Source = strings.TrimSpace(raw.Source)
	}
	if meta.IsDefined("mode") {
		cfg.Mode = service.Mode(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("workerd_path") {
		cfg.WorkerdPath = strings.TrimSpace(raw.WorkerdPath)
	}
	if meta.IsDefined("workerd_args") {
		cfg.WorkerdArgs = raw.WorkerdArgs
	}
	if meta.IsDefined("auto_start") {
		cfg.AutoStart = raw.AutoStart
	}
	if meta.IsDefined("start_args") {
		cfg.StartArgs = raw.StartArgs
	}
	if meta.IsDefined("exit_on_terminate") {
		cfg.ExitOnTerminate = raw.ExitOnTerminate
	}
	if meta.IsDefined("legacy_actions") {
		cfg.LegacyActions = raw.LegacyActions
	}
	if meta.IsDefined("fetch_timeout") {
		d, err := parseDuration("fetch_timeout", raw.FetchTimeout)
		if err != nil {
			return service.ServiceConfig{}, err
		}
		cfg.FetchTimeout = d
	}
	if meta.IsDefined("base_dir") {
		cfg.BaseDir = strings.TrimSpace(raw.BaseDir)
	}
	if meta.IsDefined("script_dir") {
		cfg.ScriptDir = strings.TrimSpace(raw.ScriptDir)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("journal_dsn") {
		cfg.JournalDSN = strings.TrimSpace(raw.JournalDSN)
	}
	if meta.IsDefined("heartbeat") {
		d, err := parseDuration("heartbeat", raw.Heartbeat)
		if err != nil {
			return service.ServiceConfig{}, err
		}
		cfg.HeartbeatInterval = d
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := parseDuration("shutdown_timeout", raw.ShutdownTimeout)
		if err != nil {
			return service.ServiceConfig{}, err
		}
		cfg.ShutdownTimeout = d
	}
	if meta.IsDefined("scripts") {
		for selector, body := range raw.Scripts {
			cfg.Scripts[strings.TrimSpace(selector)] = body
		}
	}

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
