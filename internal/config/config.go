package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalid = errors.New("config: invalid")

// DaemonFile is the on-disk shape of the toolboxd bootstrap config. Durations
// are Go duration strings.
type DaemonFile struct {
	DataDir      string   `toml:"data_dir"`
	LogLevel     string   `toml:"log_level"`
	AutoStart    bool     `toml:"autostart"`
	WatchConfig  bool     `toml:"watch_config"`
	AdminAddr    string   `toml:"admin_addr"`
	AdminToken   string   `toml:"admin_token"`
	AdminTLS     bool     `toml:"admin_tls"`
	CorsOrigins  []string `toml:"cors_origins"`
	CleanupGrace string   `toml:"cleanup_grace"`
	PlaintextTTL string   `toml:"plaintext_ttl"`
	RestartDelay string   `toml:"restart_delay"`
}

// Daemon is the resolved bootstrap configuration.
type Daemon struct {
	DataDir      string
	LogLevel     string
	AutoStart    bool
	WatchConfig  bool
	AdminAddr    string
	AdminToken   string
	AdminTLS     bool
	CorsOrigins  []string
	CleanupGrace time.Duration
	PlaintextTTL time.Duration
	RestartDelay time.Duration
}

func DefaultDaemon() Daemon {
	return Daemon{
		DataDir:      "data",
		LogLevel:     "info",
		AutoStart:    true,
		WatchConfig:  true,
		AdminAddr:    "127.0.0.1:7080",
		CorsOrigins:  []string{},
		CleanupGrace: time.Second,
		PlaintextTTL: 2 * time.Second,
		RestartDelay: 500 * time.Millisecond,
	}
}

// ValidateFile strictly decodes path: unknown keys and malformed values are
// errors, unlike the lenient loader used at boot.
func ValidateFile(path string) (DaemonFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DaemonFile{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var raw DaemonFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return DaemonFile{}, fmt.Errorf("%w (%s): %s", ErrInvalid, path, strict.String())
		}
		return DaemonFile{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := ValidateDaemonFile(raw); err != nil {
		return DaemonFile{}, fmt.Errorf("%w (%s): %v", ErrInvalid, path, err)
	}
	return raw, nil
}

// ValidateDaemonFile checks field values that decode cleanly but make no sense.
func ValidateDaemonFile(raw DaemonFile) error {
	for key, value := range map[string]string{
		"cleanup_grace": raw.CleanupGrace,
		"plaintext_ttl": raw.PlaintextTTL,
		"restart_delay": raw.RestartDelay,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: %v", key, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	if addr := strings.TrimSpace(raw.AdminAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("admin_addr: %v", err)
		}
	}
	if raw.LogLevel != "" {
		switch strings.ToLower(strings.TrimSpace(raw.LogLevel)) {
		case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled", "off":
		default:
			return fmt.Errorf("log_level: unknown level %q", raw.LogLevel)
		}
	}
	return nil
}
