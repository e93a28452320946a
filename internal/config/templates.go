package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Template returns the annotated default daemon config.
func Template() string {
	return daemonTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(daemonTemplate), 0o600)
}

const daemonTemplate = `# toolboxd bootstrap configuration.
# Tool settings live in the encrypted <data_dir>/config.json, not here.

data_dir = "data"
log_level = "info"

# Start tools flagged enabled + autoStart at boot.
autostart = true
# Reload tool settings when an external editor rewrites config.json.
watch_config = true

# Empty admin_addr disables the admin API. Actions need admin_token.
admin_addr = "127.0.0.1:7080"
admin_token = ""
admin_tls = false
cors_origins = ["http://localhost:3000"]

cleanup_grace = "1s"
plaintext_ttl = "2s"
restart_delay = "500ms"
`
