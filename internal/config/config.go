// Package config manages mptcpd daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete mptcpd configuration (spec.md §6 "Configuration
// surface"). Every section name is a single word so environment-variable
// overrides (which fold CONFIG_SECTION_KEY into "section.key" by replacing
// only the first underscore with a dot) resolve unambiguously, including
// multi-word leaves such as socket_path.
type Config struct {
	Admin   AdminConfig   `koanf:"admin"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Plugin  PluginConfig  `koanf:"plugin"`
	Addr    AddrConfig    `koanf:"addr"`
	Notify  NotifyConfig  `koanf:"notify"`
}

// AdminConfig holds the read-only introspection listener configuration.
type AdminConfig struct {
	// SocketPath is the Unix domain socket mptcpctl connects to.
	SocketPath string `koanf:"socket_path"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// PluginConfig holds the policy plugin framework's configuration
// (spec.md §4.F "Loading", "Default selection").
type PluginConfig struct {
	// Dir is the directory enumerated for plugin shared objects.
	Dir string `koanf:"dir"`
	// Default names the plugin bound when a new connection's requested
	// strategy does not match any loaded plugin.
	Default string `koanf:"default"`
	// Load restricts loading to these filenames under Dir. Empty means
	// "load everything found in Dir".
	Load []string `koanf:"load"`
}

// AddrConfig holds the address-announcement flags read from addr.flags
// (spec.md §6 "Address flags"). Validate checks each flag name; the flags
// are not passed on to the path manager or to any plugin.
type AddrConfig struct {
	Flags []string `koanf:"flags"`
}

// NotifyConfig holds the network monitor's behavior flags (spec.md §6
// "Notify flags").
type NotifyConfig struct {
	Flags []string `koanf:"flags"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			SocketPath: "/run/mptcpd/mptcpd.sock",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Plugin: PluginConfig{
			Dir: "/usr/lib/mptcpd/plugins",
		},
		Notify: NotifyConfig{
			Flags: []string{"existing"},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for mptcpd configuration.
// Variables are named MPTCPD_<section>_<key>, e.g., MPTCPD_METRICS_ADDR.
const envPrefix = "MPTCPD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (MPTCPD_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. Priority follows
// spec.md §6: "command line > config file > compile-time defaults" — CLI
// flags are applied by the caller after Load returns, overwriting whatever
// this function produces.
//
// Environment variable mapping:
//
//	MPTCPD_ADMIN_SOCKET_PATH -> admin.socket_path
//	MPTCPD_METRICS_ADDR      -> metrics.addr
//	MPTCPD_METRICS_PATH      -> metrics.path
//	MPTCPD_LOG_LEVEL         -> log.level
//	MPTCPD_LOG_FORMAT        -> log.format
//	MPTCPD_PLUGIN_DIR        -> plugin.dir
//	MPTCPD_PLUGIN_DEFAULT    -> plugin.default
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms MPTCPD_METRICS_ADDR -> metrics.addr.
// Strips the MPTCPD_ prefix, lowercases, and replaces the first _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.socket_path": defaults.Admin.SocketPath,
		"metrics.addr":      defaults.Metrics.Addr,
		"metrics.path":      defaults.Metrics.Path,
		"log.level":         defaults.Log.Level,
		"log.format":        defaults.Log.Format,
		"plugin.dir":        defaults.Plugin.Dir,
		"notify.flags":      defaults.Notify.Flags,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyPluginDir indicates the plugin directory is empty.
	ErrEmptyPluginDir = errors.New("plugin.dir must not be empty")

	// ErrUnknownAddrFlag indicates addr.flags names an unrecognized flag.
	ErrUnknownAddrFlag = errors.New("addr.flags: unknown flag")

	// ErrUnknownNotifyFlag indicates notify.flags names an unrecognized flag.
	ErrUnknownNotifyFlag = errors.New("notify.flags: unknown flag")
)

// ValidAddrFlags lists the recognized address-flag names (spec.md §6
// "Address flags").
var ValidAddrFlags = map[string]bool{
	"subflow":  true,
	"signal":   true,
	"backup":   true,
	"fullmesh": true,
}

// ValidNotifyFlags lists the recognized notify-flag names (spec.md §6
// "Notify flags").
var ValidNotifyFlags = map[string]bool{
	"existing":        true,
	"skip_link_local": true,
	"skip_loopback":   true,
	"check_route":     true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Plugin.Dir == "" {
		return ErrEmptyPluginDir
	}

	for _, f := range cfg.Addr.Flags {
		if !ValidAddrFlags[strings.ToLower(f)] {
			return fmt.Errorf("%w: %q", ErrUnknownAddrFlag, f)
		}
	}

	for _, f := range cfg.Notify.Flags {
		if !ValidNotifyFlags[strings.ToLower(f)] {
			return fmt.Errorf("%w: %q", ErrUnknownNotifyFlag, f)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
