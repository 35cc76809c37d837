package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RECOVERY_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CommandFile != "CACHE:recovery/command" {
		t.Fatalf("command file default %q", cfg.CommandFile)
	}
	if cfg.MaxArgs != 100 || cfg.MaxArgLen != 4096 {
		t.Fatalf("arg limits %d/%d", cfg.MaxArgs, cfg.MaxArgLen)
	}
	if cfg.Level() != zerolog.InfoLevel {
		t.Fatalf("default level %v", cfg.Level())
	}
	if _, ok := cfg.Roots["CACHE"]; !ok {
		t.Fatalf("missing CACHE root")
	}
	if cfg.FirmwareDevices["radio"] == "" {
		t.Fatalf("missing radio device")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recovery.yaml")
	content := `
misc_device: /dev/mmcblk0p17
misc_offset: 2048
log_level: debug
roots:
  CACHE:
    device: /dev/mmcblk0p27
    fstype: ext3
    mountpoint: /cache
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RECOVERY_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MiscDevice != "/dev/mmcblk0p17" || cfg.MiscOffset != 2048 {
		t.Fatalf("misc override %q@%d", cfg.MiscDevice, cfg.MiscOffset)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Fatalf("level %v", cfg.Level())
	}
	if cfg.Roots["CACHE"].FSType != "ext3" {
		t.Fatalf("cache fstype %q", cfg.Roots["CACHE"].FSType)
	}
	// Untouched keys keep their defaults.
	if cfg.KeyFile != "/res/keys" {
		t.Fatalf("key file %q", cfg.KeyFile)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recovery.yaml")
	if err := os.WriteFile(path, []byte(":\t not yaml ["), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RECOVERY_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed config")
	}
}
