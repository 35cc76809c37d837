// Package config loads the device-specific layout of the recovery
// environment: where the control block lives, which volumes exist, and
// where the session's input and output files go.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"emberos/recovery/internal/roots"
)

const (
	defaultPath = "/etc/recovery.yaml"
	envConfig   = "RECOVERY_CONFIG"
)

type Config struct {
	// Misc is the raw device holding the bootloader control block.
	MiscDevice string `mapstructure:"misc_device"`
	MiscOffset int64  `mapstructure:"misc_offset"`

	// Roots maps volume names to devices.
	Roots map[string]roots.Volume `mapstructure:"roots"`

	// Session files, in ROOT:path form except the temp log.
	CommandFile string `mapstructure:"command_file"`
	IntentFile  string `mapstructure:"intent_file"`
	LogFile     string `mapstructure:"log_file"`
	SummaryFile string `mapstructure:"summary_file"`
	TempLog     string `mapstructure:"temp_log"`

	// Install collaborators.
	KeyFile     string   `mapstructure:"key_file"`
	BinaryPath  string   `mapstructure:"binary_path"`
	Interpreter []string `mapstructure:"interpreter"`

	// Firmware staging: partition tag -> raw device.
	FirmwareDevices map[string]string `mapstructure:"firmware_devices"`

	// SDPackage is the menu's "apply update from sdcard" target.
	SDPackage string `mapstructure:"sd_package"`

	MaxArgs   int `mapstructure:"max_args"`
	MaxArgLen int `mapstructure:"max_arg_len"`

	LogLevel string `mapstructure:"log_level"`
}

func (c Config) Level() zerolog.Level {
	if l, err := zerolog.ParseLevel(c.LogLevel); err == nil {
		return l
	}
	return zerolog.InfoLevel
}

// Load reads the config file (RECOVERY_CONFIG or /etc/recovery.yaml) with
// RECOVERY_* environment overrides. A missing file yields the defaults;
// a malformed file is an error.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("misc_device", "/dev/block/misc")
	v.SetDefault("misc_offset", 0)
	v.SetDefault("roots", map[string]map[string]string{
		"CACHE":  {"device": "/dev/block/cache", "fstype": "ext4", "mountpoint": "/cache"},
		"DATA":   {"device": "/dev/block/userdata", "fstype": "ext4", "mountpoint": "/data"},
		"SDCARD": {"device": "/dev/block/mmcblk1p1", "fstype": "vfat", "mountpoint": "/sdcard"},
	})
	v.SetDefault("command_file", "CACHE:recovery/command")
	v.SetDefault("intent_file", "CACHE:recovery/intent")
	v.SetDefault("log_file", "CACHE:recovery/log")
	v.SetDefault("summary_file", "CACHE:recovery/last_session.yaml")
	v.SetDefault("temp_log", "/tmp/recovery.log")
	v.SetDefault("key_file", "/res/keys")
	v.SetDefault("binary_path", "/tmp/update-binary")
	v.SetDefault("interpreter", []string{"amend", "--stdin"})
	v.SetDefault("firmware_devices", map[string]string{
		"hboot": "/dev/block/hboot",
		"radio": "/dev/block/radio",
	})
	v.SetDefault("sd_package", "SDCARD:update.zip")
	v.SetDefault("max_args", 100)
	v.SetDefault("max_arg_len", 4096)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("RECOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv(envConfig)
	if path == "" {
		path = defaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// viper lowercases map keys; root names are upper-case by
	// convention ("CACHE:...").
	vols := make(map[string]roots.Volume, len(cfg.Roots))
	for name, vol := range cfg.Roots {
		vols[strings.ToUpper(name)] = vol
	}
	cfg.Roots = vols
	return cfg, nil
}
