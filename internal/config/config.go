// Package config loads service settings from NLDB_* environment variables and
// an optional YAML data-source file.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	PrimarySourceName   = "primary"
	AnalyticsSourceName = "analytics"
	LakeSourceName      = "lake"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Query         QueryConfig
	AI            AIConfig
	Database      DatabaseConfig
	Lake          LakeConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type QueryConfig struct {
	Timeout time.Duration
	MaxRows int
}

type AIConfig struct {
	Provider      string
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float64
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// DatabaseConfig describes the env-declared data sources plus any loaded from
// SourcesFile.
type DatabaseConfig struct {
	PrimaryURL      string
	AnalyticsURL    string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	SourcesFile     string
	Sources         []DataSource
}

type LakeConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key"`
	SecretAccessKey string `yaml:"secret_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Prefix          string `yaml:"prefix"`
	// MaxObjectSize caps a single parquet object, e.g. "512MiB". Empty keeps
	// the store default; "0" disables the cap.
	MaxObjectSize string `yaml:"max_object_size"`
}

func (l LakeConfig) Enabled() bool {
	return strings.TrimSpace(l.Bucket) != ""
}

// MaxObjectBytes parses MaxObjectSize: 0 for the store default, -1 for no cap.
func (l LakeConfig) MaxObjectBytes() (int64, error) {
	raw := strings.TrimSpace(l.MaxObjectSize)
	if raw == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid lake max object size %q: %w", l.MaxObjectSize, err)
	}
	if size == 0 {
		return -1, nil
	}
	if size > math.MaxInt64 {
		return 0, fmt.Errorf("lake max object size %q is too large", l.MaxObjectSize)
	}
	return int64(size), nil
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("NLDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid NLDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "NLDB_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "NLDB_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "NLDB_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "NLDB_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "NLDB_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyDuration(lookup, "NLDB_QUERY_TIMEOUT", &cfg.Query.Timeout) },
		func() error { return applyInt(lookup, "NLDB_QUERY_MAX_ROWS", &cfg.Query.MaxRows) },
		func() error { return applyString(lookup, "NLDB_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "NLDB_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "NLDB_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "NLDB_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "NLDB_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "NLDB_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyFloat(lookup, "NLDB_AI_RATE_PER_SECOND", &cfg.AI.RatePerSecond) },
		func() error { return applyInt(lookup, "NLDB_AI_BURST", &cfg.AI.Burst) },
		func() error { return applyString(lookup, "NLDB_PRIMARY_DB_URL", &cfg.Database.PrimaryURL) },
		func() error { return applyString(lookup, "NLDB_ANALYTICS_DB_URL", &cfg.Database.AnalyticsURL) },
		func() error { return applyInt(lookup, "NLDB_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyDuration(lookup, "NLDB_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime) },
		func() error { return applyString(lookup, "NLDB_DATASOURCES_FILE", &cfg.Database.SourcesFile) },
		func() error { return applyString(lookup, "NLDB_LAKE_ENDPOINT", &cfg.Lake.Endpoint) },
		func() error { return applyString(lookup, "NLDB_LAKE_REGION", &cfg.Lake.Region) },
		func() error { return applyString(lookup, "NLDB_LAKE_BUCKET", &cfg.Lake.Bucket) },
		func() error { return applyString(lookup, "NLDB_LAKE_ACCESS_KEY", &cfg.Lake.AccessKeyID) },
		func() error { return applyString(lookup, "NLDB_LAKE_SECRET_KEY", &cfg.Lake.SecretAccessKey) },
		func() error { return applyBool(lookup, "NLDB_LAKE_USE_SSL", &cfg.Lake.UseSSL) },
		func() error { return applyString(lookup, "NLDB_LAKE_PREFIX", &cfg.Lake.Prefix) },
		func() error { return applyString(lookup, "NLDB_LAKE_MAX_OBJECT_SIZE", &cfg.Lake.MaxObjectSize) },
		func() error { return applyBool(lookup, "NLDB_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "NLDB_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "NLDB_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "NLDB_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Database.SourcesFile != "" {
		sources, err := LoadDataSourcesFile(cfg.Database.SourcesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Database.Sources = sources
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}
	if c.Query.MaxRows <= 0 {
		return fmt.Errorf("query max rows must be positive")
	}
	switch strings.ToLower(c.AI.Provider) {
	case "", "openai", "anthropic", "none":
	default:
		return fmt.Errorf("invalid NLDB_AI_PROVIDER: %q", c.AI.Provider)
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai timeout must be positive")
	}
	_, err := c.DataSources()
	return err
}

// DataSources merges the env-declared sources with the file entries. Names must
// be unique across both.
func (c Config) DataSources() ([]DataSource, error) {
	out := make([]DataSource, 0, len(c.Database.Sources)+3)
	if c.Database.PrimaryURL != "" {
		out = append(out, c.envSource(PrimarySourceName, c.Database.PrimaryURL))
	}
	if c.Database.AnalyticsURL != "" {
		out = append(out, c.envSource(AnalyticsSourceName, c.Database.AnalyticsURL))
	}
	if c.Lake.Enabled() {
		lake := c.Lake
		out = append(out, DataSource{Name: LakeSourceName, Lake: &lake})
	}
	out = append(out, c.Database.Sources...)

	seen := make(map[string]struct{}, len(out))
	for _, source := range out {
		if _, dup := seen[source.Name]; dup {
			return nil, fmt.Errorf("duplicate data source name %q", source.Name)
		}
		seen[source.Name] = struct{}{}
		if source.Lake != nil {
			if _, err := source.Lake.MaxObjectBytes(); err != nil {
				return nil, fmt.Errorf("data source %q: %w", source.Name, err)
			}
		}
	}
	return out, nil
}

func (c Config) envSource(name, url string) DataSource {
	return DataSource{
		Name:            name,
		URL:             url,
		MaxOpenConns:    c.Database.MaxOpenConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "nldb-api"},
		HTTP: HTTPConfig{
			Address:      ":8000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Query: QueryConfig{
			Timeout: 30 * time.Second,
			MaxRows: 1000,
		},
		AI: AIConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4",
			Temperature: 0.1,
			Timeout:     30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Lake: LakeConfig{
			Endpoint: "localhost:9000",
			Region:   "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.AI.Provider = "none"
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Lake.UseSSL = true
	}
	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
