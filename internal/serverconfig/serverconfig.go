// Package serverconfig loads the wassel server process configuration.
package serverconfig

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds the settings of the running wassel process, as opposed to
// the stack/plugin manifests which describe what is being served.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds the main listener's host/port, mirroring the
// original Rust `server::Config{host, port}`.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AdminConfig holds the admin listener's host/port.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// LoggingConfig mirrors internal/logging.Config so it can be loaded from file/env.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	LocalTime  bool   `mapstructure:"local_time"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	ServiceName string            `mapstructure:"service_name"`
	Endpoint    string            `mapstructure:"endpoint"`
	Insecure    bool              `mapstructure:"insecure"`
	SampleRate  float64           `mapstructure:"sample_rate"`
	Headers     map[string]string `mapstructure:"headers"`
}

// Load reads `wassel.toml` from the current working directory, if present,
// layered with environment variables prefixed WASSEL_, and returns the
// resulting Config. A missing file is not an error: the process falls back
// to its defaults, matching the original `config` crate's file+env-default
// behavior (see original_source/crates/server/src/config.rs).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WASSEL")
	v.AutomaticEnv()
	bindEnvVars(v)

	v.SetConfigName("wassel")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("serverconfig: reading wassel.toml: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("serverconfig: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9000)

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 9001)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "wassel")
	v.SetDefault("tracing.sample_rate", 1.0)
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("server.host", "WASSEL_SERVER_HOST")
	_ = v.BindEnv("server.port", "WASSEL_SERVER_PORT")
	_ = v.BindEnv("admin.enabled", "WASSEL_ADMIN_ENABLED")
	_ = v.BindEnv("admin.host", "WASSEL_ADMIN_HOST")
	_ = v.BindEnv("admin.port", "WASSEL_ADMIN_PORT")
	_ = v.BindEnv("logging.level", "WASSEL_LOG_LEVEL")
	_ = v.BindEnv("logging.output", "WASSEL_LOG_OUTPUT")
	_ = v.BindEnv("tracing.enabled", "WASSEL_TRACING_ENABLED")
	_ = v.BindEnv("tracing.endpoint", "WASSEL_TRACING_ENDPOINT")
}

// Addr returns "host:port" for the main listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AdminAddr returns "host:port" for the admin listener.
func (c *Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}
