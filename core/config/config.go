// Package config loads simrestart defaults from a YAML file and environment
// overrides. Command-line flags take precedence over both and are applied by
// the CLI.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"
)

const DefaultPath = ".simrestart/config.yaml"

type Config struct {
	Restart    RestartDefaults    `yaml:"restart"`
	Collective CollectiveDefaults `yaml:"collective"`
	Telemetry  TelemetryDefaults  `yaml:"telemetry"`
	Logging    LoggingDefaults    `yaml:"logging"`
}

type RestartDefaults struct {
	// Appending is one of auto, append or noappend.
	Appending       string `yaml:"appending" env:"SIMRESTART_APPENDING"`
	DoublePrecision bool   `yaml:"double_precision" env:"SIMRESTART_DOUBLE_PRECISION"`
	JournalPath     string `yaml:"journal_path" env:"SIMRESTART_JOURNAL"`
	// SkipFileChecks continues output files without validating or truncating them.
	SkipFileChecks bool `yaml:"skip_file_checks" env:"SIMRESTART_SKIP_FILE_CHECKS"`
	SkipTruncation bool `yaml:"skip_truncation" env:"SIMRESTART_SKIP_TRUNCATION"`
}

type CollectiveDefaults struct {
	HubAddress string `yaml:"hub_address" env:"SIMRESTART_HUB"`
	// Timeout bounds the whole protocol; empty means wait forever.
	Timeout string `yaml:"timeout" env:"SIMRESTART_COLLECTIVE_TIMEOUT"`
}

type TelemetryDefaults struct {
	Enabled  *bool  `yaml:"enabled" env:"SIMRESTART_OTEL_ENABLED"`
	Endpoint string `yaml:"endpoint" env:"SIMRESTART_OTEL_ENDPOINT"`
}

type LoggingDefaults struct {
	Format string `yaml:"format" env:"SIMRESTART_LOG_FORMAT"`
	Level  string `yaml:"level" env:"SIMRESTART_LOG_LEVEL"`
}

// Load reads the YAML file at path and then applies environment overrides.
func Load(path string, allowMissing bool) (Config, error) {
	configuration, err := loadFile(path, allowMissing)
	if err != nil {
		return Config{}, err
	}
	if err := env.Parse(&configuration); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	configuration.normalize()
	if err := configuration.Validate(); err != nil {
		return Config{}, err
	}
	return configuration, nil
}

func loadFile(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("config path is required")
	}

	// #nosec G304 -- config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return configuration, nil
}

func (configuration *Config) normalize() {
	configuration.Restart.Appending = strings.ToLower(strings.TrimSpace(configuration.Restart.Appending))
	configuration.Restart.JournalPath = strings.TrimSpace(configuration.Restart.JournalPath)
	configuration.Collective.HubAddress = strings.TrimSpace(configuration.Collective.HubAddress)
	configuration.Collective.Timeout = strings.TrimSpace(configuration.Collective.Timeout)
	configuration.Telemetry.Endpoint = strings.TrimSpace(configuration.Telemetry.Endpoint)
	configuration.Logging.Format = strings.ToLower(strings.TrimSpace(configuration.Logging.Format))
	configuration.Logging.Level = strings.ToLower(strings.TrimSpace(configuration.Logging.Level))
}

func (configuration Config) Validate() error {
	switch configuration.Restart.Appending {
	case "", "auto", "append", "noappend":
	default:
		return fmt.Errorf("restart.appending must be auto, append or noappend, got %q", configuration.Restart.Appending)
	}
	switch configuration.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", configuration.Logging.Format)
	}
	switch configuration.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", configuration.Logging.Level)
	}
	if _, err := configuration.CollectiveTimeout(); err != nil {
		return err
	}
	return nil
}

// CollectiveTimeout returns zero when no timeout is configured.
func (configuration Config) CollectiveTimeout() (time.Duration, error) {
	if configuration.Collective.Timeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(configuration.Collective.Timeout)
	if err != nil || timeout < 0 {
		return 0, fmt.Errorf("collective.timeout must be a non-negative duration, got %q", configuration.Collective.Timeout)
	}
	return timeout, nil
}

// TracingEnabled is true unless tracing was explicitly switched off.
func (configuration Config) TracingEnabled() bool {
	return configuration.Telemetry.Enabled == nil || *configuration.Telemetry.Enabled
}
