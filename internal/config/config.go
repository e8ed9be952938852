// Package config loads daemon configuration in three layers: struct
// defaults, an optional YAML file, then environment variables. Later
// layers win. Environment keys use the CAMPUSGRID_ prefix with "__" as
// the nesting delimiter, e.g. CAMPUSGRID_AUTH__SECRET -> auth.secret.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CAMPUSGRID_CONFIG"

const envPrefix = "CAMPUSGRID_"

// defaultConfigPaths are searched in order; the first file found wins.
var defaultConfigPaths = []string{
	"campusgrid.yaml",
	"campusgrid.yml",
	"/etc/campusgrid/config.yaml",
}

// Config is the root of both daemons' configuration.
type Config struct {
	Auth    AuthConfig    `koanf:"auth"`
	Gateway GatewayConfig `koanf:"gateway"`
}

// AuthConfig configures the auth service daemon. Secret is shared with the
// gateway so both can verify the same tokens; it is deployment
// configuration, never checked in.
type AuthConfig struct {
	Listen      string `koanf:"listen"`
	Secret      string `koanf:"secret"`
	PostgresDSN string `koanf:"postgres_dsn"`
}

// GatewayConfig configures the gateway daemon.
type GatewayConfig struct {
	Listen        string          `koanf:"listen"`
	ProbeTimeout  time.Duration   `koanf:"probe_timeout"`
	RateBurst     int             `koanf:"rate_burst"`
	RatePerSecond int             `koanf:"rate_per_second"`
	Services      []ServiceConfig `koanf:"services"`
}

// ServiceConfig is one routing-table entry.
type ServiceConfig struct {
	Name       string `koanf:"name"`
	BaseURL    string `koanf:"base_url"`
	HealthPath string `koanf:"health_path"`
	Permission string `koanf:"permission"`
}

func defaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			Listen: ":8001",
		},
		Gateway: GatewayConfig{
			Listen:        ":8000",
			ProbeTimeout:  5 * time.Second,
			RateBurst:     20,
			RatePerSecond: 10,
			Services: []ServiceConfig{
				{Name: "auth", BaseURL: "http://localhost:8001/api/auth"},
				{Name: "curriculum", BaseURL: "http://localhost:8002", Permission: "read:curriculum"},
				{Name: "notifications", BaseURL: "http://localhost:8003"},
				{Name: "finance", BaseURL: "http://localhost:8004", Permission: "read:finances"},
				{Name: "students", BaseURL: "http://localhost:8005", Permission: "read:students"},
				{Name: "staff", BaseURL: "http://localhost:8006", Permission: "write:staff"},
			},
		},
	}
}

// Load builds the configuration from defaults, file and environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if path := strings.TrimSpace(os.Getenv(ConfigPathEnvVar)); path != "" {
		return path
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// CAMPUSGRID_GATEWAY__PROBE_TIMEOUT -> gateway.probe_timeout
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
