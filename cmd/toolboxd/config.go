package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/toolbox/internal/config"
)

func loadDaemonConfig(path string) (config.Daemon, error) {
	cfg := config.DefaultDaemon()

	var raw config.DaemonFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return config.Daemon{}, fmt.Errorf("load toolboxd config: %w", err)
	}

	if meta.IsDefined("data_dir") {
		if dir := strings.TrimSpace(raw.DataDir); dir != "" {
			cfg.DataDir = dir
		}
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("autostart") {
		cfg.AutoStart = raw.AutoStart
	}
	if meta.IsDefined("watch_config") {
		cfg.WatchConfig = raw.WatchConfig
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("admin_tls") {
		cfg.AdminTLS = raw.AdminTLS
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"cleanup_grace", raw.CleanupGrace, &cfg.CleanupGrace},
		{"plaintext_ttl", raw.PlaintextTTL, &cfg.PlaintextTTL},
		{"restart_delay", raw.RestartDelay, &cfg.RestartDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return config.Daemon{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		logUnknownKeys(path, keys)
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
