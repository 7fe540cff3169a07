// Package config loads the optional .lodestar/config.yml overlay and binds
// LODESTAR_* environment variables on top of it via viper.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk + environment-overlaid runtime configuration.
type Config struct {
	LeaseTTL time.Duration `yaml:"-"`
	LeaseTTLRaw string `yaml:"lease_ttl"`
	NoColor  bool   `yaml:"no_color"`
	Root     string `yaml:"root"`
}

// Default returns the configuration used when no config.yml is present.
func Default() Config {
	return Config{LeaseTTL: 30 * time.Minute, LeaseTTLRaw: "30m"}
}

// Load reads path (if present) and overlays LODESTAR_* / NO_COLOR
// environment variables via viper.
func Load(path string) (Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("LODESTAR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("lease_ttl")
	_ = v.BindEnv("no_color")
	_ = v.BindEnv("root")

	if raw := v.GetString("lease_ttl"); raw != "" {
		cfg.LeaseTTLRaw = raw
	}
	if cfg.LeaseTTLRaw != "" {
		ttl, err := time.ParseDuration(cfg.LeaseTTLRaw)
		if err != nil {
			return Config{}, err
		}
		cfg.LeaseTTL = ttl
	}
	if v.IsSet("no_color") {
		cfg.NoColor = v.GetBool("no_color")
	}
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		cfg.NoColor = true
	}
	if root := v.GetString("root"); root != "" {
		cfg.Root = root
	}

	return cfg, nil
}

// GenerateDefault renders a starter .lodestar/config.yml.
func GenerateDefault() string {
	return `# lodestar configuration
lease_ttl: 30m
no_color: false
`
}
