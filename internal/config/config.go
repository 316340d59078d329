// Package config loads the router's settings from layered YAML files and
// AUTHENTIK_-prefixed environment variables.
//
// Later layers win: embedded defaults, /etc/authentik/config.yml, the
// AUTHENTIK_ENV-specific files, /etc/authentik/config.d/*.yml, then the
// environment. String values pass through URI indirection (env://, file://)
// after merging. The resulting Settings value is constructed once in main and
// passed by reference into each task.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yml
var defaultConfig []byte

const (
	envPrefix    = "AUTHENTIK_"
	envSeparator = "__"
)

// Settings is the fully resolved configuration.
type Settings struct {
	Listen         ListenSettings
	LogLevel       slog.Level
	Debug          bool
	ErrorReporting ErrorReportingSettings
	Storage        StorageSettings
}

type ListenSettings struct {
	HTTP              string
	HTTPS             string
	Metrics           string
	TrustedProxyCIDRs []string
}

type ErrorReportingSettings struct {
	Enabled     bool
	SentryDSN   string
	Environment string
	SendPII     bool
	SampleRate  float64
}

type StorageSettings struct {
	Media StorageMediaSettings
}

type StorageMediaSettings struct {
	// Backend selects the media storage backend; only "file" registers the
	// /media/ route.
	Backend string
	File    StorageMediaFileSettings
}

type StorageMediaFileSettings struct {
	Path string
}

// The raw counterparts keep every leaf as a string so URI indirection can be
// applied uniformly before typed parsing.
type settingsRaw struct {
	Listen         listenRaw         `yaml:"listen"`
	LogLevel       string            `yaml:"log_level" validate:"required"`
	Debug          string            `yaml:"debug" validate:"required"`
	ErrorReporting errorReportingRaw `yaml:"error_reporting"`
	Storage        storageRaw        `yaml:"storage"`
}

type listenRaw struct {
	HTTP              string   `yaml:"http" validate:"required,hostname_port"`
	HTTPS             string   `yaml:"https" validate:"required,hostname_port"`
	Metrics           string   `yaml:"metrics" validate:"required,hostname_port"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs" validate:"dive,cidr"`
}

type errorReportingRaw struct {
	Enabled     string `yaml:"enabled"`
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`
	SendPII     string `yaml:"send_pii"`
	SampleRate  string `yaml:"sample_rate"`
}

type storageRaw struct {
	Media storageMediaRaw `yaml:"media"`
}

type storageMediaRaw struct {
	Backend string              `yaml:"backend" validate:"required"`
	File    storageMediaFileRaw `yaml:"file"`
}

type storageMediaFileRaw struct {
	Path string `yaml:"path"`
}

// Load builds Settings from all configuration layers.
func Load() (*Settings, error) {
	env := os.Getenv("AUTHENTIK_ENV")
	if env == "" {
		env = "local"
	}

	paths := []string{
		"/etc/authentik/config.yml",
		env + ".yml",
		env + ".env.yml",
		env + ".yaml",
		env + ".env.yaml",
	}
	if globbed, err := filepath.Glob("/etc/authentik/config.d/*.yml"); err == nil {
		paths = append(paths, globbed...)
	}

	return load(paths, os.Environ())
}

func load(paths []string, environ []string) (*Settings, error) {
	merged := map[string]any{}

	layer := map[string]any{}
	if err := yaml.Unmarshal(defaultConfig, &layer); err != nil {
		return nil, fmt.Errorf("config: parse defaults: %w", err)
	}
	merge(merged, layer)

	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			// Every file layer is optional.
			continue
		}
		layer = map[string]any{}
		if err := yaml.Unmarshal(b, &layer); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		merge(merged, layer)
	}

	merge(merged, environLayer(environ))

	b, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("config: remarshal: %w", err)
	}
	var raw settingsRaw
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	return raw.resolve()
}

// merge deep-merges src into dst, with src winning on conflicts.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				merge(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

// environLayer converts AUTHENTIK_-prefixed variables into a nested map;
// "__" separates nesting levels, e.g. AUTHENTIK_LISTEN__HTTP.
func environLayer(environ []string) map[string]any {
	out := map[string]any{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		key = strings.TrimPrefix(key, envPrefix)
		if key == "ENV" {
			continue
		}
		parts := strings.Split(strings.ToLower(key), envSeparator)

		node := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	return out
}

func (raw settingsRaw) resolve() (*Settings, error) {
	var err error
	for _, field := range []*string{
		&raw.Listen.HTTP, &raw.Listen.HTTPS, &raw.Listen.Metrics,
		&raw.LogLevel, &raw.Debug,
		&raw.ErrorReporting.Enabled, &raw.ErrorReporting.SentryDSN,
		&raw.ErrorReporting.Environment, &raw.ErrorReporting.SendPII,
		&raw.ErrorReporting.SampleRate,
		&raw.Storage.Media.Backend, &raw.Storage.Media.File.Path,
	} {
		if *field, err = ParseURI(*field); err != nil {
			return nil, err
		}
	}
	for i, cidr := range raw.Listen.TrustedProxyCIDRs {
		if raw.Listen.TrustedProxyCIDRs[i], err = ParseURI(cidr); err != nil {
			return nil, err
		}
	}

	if err := validator.New().Struct(raw); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	var s Settings
	s.Listen = ListenSettings{
		HTTP:              raw.Listen.HTTP,
		HTTPS:             raw.Listen.HTTPS,
		Metrics:           raw.Listen.Metrics,
		TrustedProxyCIDRs: raw.Listen.TrustedProxyCIDRs,
	}
	if err := s.LogLevel.UnmarshalText([]byte(raw.LogLevel)); err != nil {
		return nil, fmt.Errorf("config: parse log level: %w", err)
	}
	if s.Debug, err = strconv.ParseBool(raw.Debug); err != nil {
		return nil, fmt.Errorf("config: parse debug: %w", err)
	}

	er := &s.ErrorReporting
	if er.Enabled, err = strconv.ParseBool(raw.ErrorReporting.Enabled); err != nil {
		return nil, fmt.Errorf("config: parse error_reporting.enabled: %w", err)
	}
	er.SentryDSN = raw.ErrorReporting.SentryDSN
	er.Environment = raw.ErrorReporting.Environment
	if er.SendPII, err = strconv.ParseBool(raw.ErrorReporting.SendPII); err != nil {
		return nil, fmt.Errorf("config: parse error_reporting.send_pii: %w", err)
	}
	if er.SampleRate, err = strconv.ParseFloat(raw.ErrorReporting.SampleRate, 64); err != nil {
		return nil, fmt.Errorf("config: parse error_reporting.sample_rate: %w", err)
	}

	s.Storage.Media.Backend = raw.Storage.Media.Backend
	s.Storage.Media.File.Path = raw.Storage.Media.File.Path

	return &s, nil
}
