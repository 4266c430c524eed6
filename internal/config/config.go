// Package config loads volcrypt settings from defaults, a YAML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	fileName  = "volcrypt"
	envPrefix = "volcrypt"
)

// Config is the effective configuration.
type Config struct {
	Tool      ToolConfig      `mapstructure:"tool" yaml:"tool"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Mount     MountConfig     `mapstructure:"mount" yaml:"mount"`
	Create    CreateConfig    `mapstructure:"create" yaml:"create"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	TempDir   string          `mapstructure:"temp_dir" yaml:"temp_dir"`
}

type ToolConfig struct {
	// Path is tried before the conventional install locations
	Path           string        `mapstructure:"path" yaml:"path"`
	VersionTimeout time.Duration `mapstructure:"version_timeout" yaml:"version_timeout"`
}

type DiscoveryConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type MountConfig struct {
	ScratchRoot string `mapstructure:"scratch_root" yaml:"scratch_root"`
}

type CreateConfig struct {
	Algorithm  string `mapstructure:"algorithm" yaml:"algorithm"`
	Hash       string `mapstructure:"hash" yaml:"hash"`
	Filesystem string `mapstructure:"filesystem" yaml:"filesystem"`
}

type MetricsConfig struct {
	// Addr enables the metrics endpoint when non-empty, e.g. "127.0.0.1:9464"
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Defaults returns the built-in values for every key.
func Defaults() map[string]any {
	return map[string]any{
		"tool.path":            "",
		"tool.version_timeout": 5 * time.Second,
		"discovery.timeout":    10 * time.Second,
		"discovery.cache_ttl":  30 * time.Second,
		"mount.scratch_root":   filepath.Join(os.TempDir(), "volcrypt-mounts"),
		"create.algorithm":     "AES",
		"create.hash":          "SHA-512",
		"create.filesystem":    "FAT",
		"metrics.addr":         "",
		"temp_dir":             os.TempDir(),
	}
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"tool-path":    "tool.path",
	"metrics-addr": "metrics.addr",
	"scratch-root": "mount.scratch_root",
	"temp-dir":     "temp_dir",
}

// Path returns where the configuration file lives for the current user, or
// system-wide when system is set.
func Path(system bool) (string, error) {
	var dir string
	if system {
		switch runtime.GOOS {
		case "windows":
			dir = filepath.Join(os.Getenv("ProgramData"), "volcrypt")
		default:
			dir = "/etc/volcrypt"
		}
	} else {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		dir = filepath.Join(base, "volcrypt")
	}
	return filepath.Join(dir, fileName+".yaml"), nil
}

// Load builds the configuration. An explicit path must exist; otherwise the
// user directory, the system directory and the working directory are
// searched and a missing file is not an error. flags may be nil.
func Load(flags *pflag.FlagSet, path string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		if p, err := Path(false); err == nil {
			v.AddConfigPath(filepath.Dir(p))
		}
		if p, err := Path(true); err == nil {
			v.AddConfigPath(filepath.Dir(p))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return c, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, err
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to parse config: %w", err)
	}
	return c, nil
}

// Write saves c as YAML at path, creating parent directories.
func Write(c Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	return os.WriteFile(path, data, 0600)
}
