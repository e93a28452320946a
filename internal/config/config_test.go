package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/toolbox/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplateValidates(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "cmd", "toolboxd", "config.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	raw, err := ValidateFile(path)
	if err != nil {
		t.Fatalf("template must validate: %v", err)
	}
	if raw.AdminAddr != "127.0.0.1:7080" || raw.PlaintextTTL != "2s" || !raw.AutoStart {
		t.Fatalf("unexpected template values %+v", raw)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
}

func TestValidateFileRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "data_dir = \"d\"\nadmin_port = 7080\n")
	_, err := ValidateFile(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected unknown key to be reported, got %v", err)
	}
}

func TestValidateFileRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"duration":  "cleanup_grace = \"soon\"\n",
		"negative":  "restart_delay = \"-1s\"\n",
		"addr":      "admin_addr = \"7080\"\n",
		"log level": "log_level = \"loud\"\n",
	}
	for name, body := range cases {
		if _, err := ValidateFile(writeConfig(t, body)); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
	if _, err := ValidateFile(writeConfig(t, "autostart = \"yes\"\n")); err == nil {
		t.Fatalf("type mismatch should fail")
	}
	if _, err := ValidateFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("missing file should fail validation")
	}
}

func TestValidateFileAcceptsEmptyAdmin(t *testing.T) {
	testlog.Start(t)
	if _, err := ValidateFile(writeConfig(t, "admin_addr = \"\"\n")); err != nil {
		t.Fatalf("empty admin addr disables the api and is valid: %v", err)
	}
}
