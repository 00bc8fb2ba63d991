// Package config loads the meshgate boot configuration using koanf/v2.
//
// Boot configuration covers only what the service needs before the
// database is open: the device link, the virtual device listener, the
// database path and logging. Everything else is read from the settings
// table at runtime (see the automation package).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// TransportKind selects the physical device transport.
type TransportKind string

const (
	TransportTCP    TransportKind = "tcp"
	TransportSerial TransportKind = "serial"

	DefaultDevicePort = 4403
	DefaultSerialBaud = 115200
)

// DeviceConfig describes the physical gateway link.
type DeviceConfig struct {
	// Transport is "tcp" or "serial".
	Transport string `koanf:"transport"`
	// Host is the TCP dial target, host or host:port.
	Host string `koanf:"host"`
	// Port is the TCP port used when Host carries no port.
	Port int `koanf:"port"`
	// Serial is the serial device path, e.g. /dev/ttyUSB0.
	Serial string `koanf:"serial"`
	// Baud is the serial baud rate.
	Baud int `koanf:"baud"`
}

// VirtualConfig describes the virtual device listener.
type VirtualConfig struct {
	// Addr is the TCP listen address, e.g. ":4403".
	Addr string `koanf:"addr"`
	// Admin allows virtual clients to submit admin records.
	Admin bool `koanf:"admin"`
}

// DBConfig holds the persisted state location.
type DBConfig struct {
	Path string `koanf:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

// VersionCheckConfig controls the startup release check.
type VersionCheckConfig struct {
	Disabled bool `koanf:"disabled"`
}

// Config is the root boot configuration.
type Config struct {
	Device       DeviceConfig       `koanf:"device"`
	Virtual      VirtualConfig      `koanf:"virtual"`
	DB           DBConfig           `koanf:"db"`
	Log          LogConfig          `koanf:"log"`
	VersionCheck VersionCheckConfig `koanf:"versioncheck"`
}

func Default() Config {
	return Config{
		Device: DeviceConfig{
			Transport: string(TransportTCP),
			Port:      DefaultDevicePort,
			Baud:      DefaultSerialBaud,
		},
		Virtual: VirtualConfig{
			Addr: ":4403",
		},
		DB: DBConfig{
			Path: "meshgate.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// envPrefix maps MESHGATE_DEVICE_HOST -> device.host and so on.
const envPrefix = "MESHGATE_"

// Load reads configuration from an optional YAML file, overlays MESHGATE_*
// environment variables, and merges on top of Default(). path may be empty.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	cfg := Default()
	if err := k.Load(confmap.Provider(defaultMap(cfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("load config from %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return Config{}, fmt.Errorf("load env overrides: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	switch TransportKind(cfg.Device.Transport) {
	case TransportTCP:
		if strings.TrimSpace(cfg.Device.Host) == "" {
			return fmt.Errorf("device.host is required for tcp transport")
		}
	case TransportSerial:
		if strings.TrimSpace(cfg.Device.Serial) == "" {
			return fmt.Errorf("device.serial is required for serial transport")
		}
		if cfg.Device.Baud <= 0 {
			return fmt.Errorf("invalid device.baud: %d", cfg.Device.Baud)
		}
	default:
		return fmt.Errorf("unsupported device.transport: %q", cfg.Device.Transport)
	}
	if cfg.Device.Port <= 0 || cfg.Device.Port > 65535 {
		return fmt.Errorf("invalid device.port: %d", cfg.Device.Port)
	}
	if strings.TrimSpace(cfg.DB.Path) == "" {
		return fmt.Errorf("db.path is required")
	}

	return nil
}

// envKeyMapper transforms MESHGATE_DEVICE_HOST -> device.host.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)

	return strings.ReplaceAll(s, "_", ".")
}

func defaultMap(cfg Config) map[string]any {
	return map[string]any{
		"device.transport":      cfg.Device.Transport,
		"device.host":           cfg.Device.Host,
		"device.port":           cfg.Device.Port,
		"device.serial":         cfg.Device.Serial,
		"device.baud":           cfg.Device.Baud,
		"virtual.addr":          cfg.Virtual.Addr,
		"virtual.admin":         cfg.Virtual.Admin,
		"db.path":               cfg.DB.Path,
		"log.level":             cfg.Log.Level,
		"log.file":              cfg.Log.File,
		"versioncheck.disabled": cfg.VersionCheck.Disabled,
	}
}
