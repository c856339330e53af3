package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml"
)

// EnvPrefix is the prefix of environment variables overriding the config
// file, e.g. PULL_REPLICATION_STORAGE_PATH.
const EnvPrefix = "pull_replication"

const (
	defaultMaxConnections      = 4
	defaultTimeout             = time.Minute
	defaultRescheduleDelay     = 3 * time.Second
	defaultHealthCheckInterval = 10 * time.Second
	defaultRepositoryCacheSize = 1000
)

// Duration is a trick to let our TOML library parse durations from strings.
type Duration time.Duration

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalText parses a duration like "1m30s".
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration the way time.Duration does.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Logging configures the loggers.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// Dir, when set, redirects logs into a file in that directory.
	Dir string `toml:"dir"`
}

// Sentry configures error reporting.
type Sentry struct {
	DSN         string `toml:"dsn"`
	Environment string `toml:"environment"`
}

// HealthCheck configures the outstanding tasks health check.
type HealthCheck struct {
	// Enabled registers the health check at startup.
	Enabled bool `toml:"enabled"`
	// Projects restricts the check to tasks of these projects. Empty means
	// all projects.
	Projects []string `toml:"projects"`
	// TolerancePeriod is how long no task may have been outstanding before
	// the check passes.
	TolerancePeriod Duration `toml:"tolerance_period" split_words:"true"`
	// Interval between two checks.
	Interval Duration `toml:"interval"`
}

// Prometheus contains additional configuration data for prometheus.
type Prometheus struct {
	// LatencyBuckets configures the histogram buckets used for fetch and
	// apply latency measurements.
	LatencyBuckets []float64 `toml:"latency_buckets" split_words:"true"`
}

// DefaultPrometheus returns the default prometheus configuration.
func DefaultPrometheus() Prometheus {
	return Prometheus{
		LatencyBuckets: []float64{0.005, 0.025, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
	}
}

// Source is a remote instance refs and objects are pulled from.
type Source struct {
	Name string `toml:"name"`
	// URL of the remote repositories. "${name}" is replaced with the
	// project name.
	URL              string   `toml:"url"`
	MaxConnections   int      `toml:"max_connections"`
	Timeout          Duration `toml:"timeout"`
	ReplicationDelay Duration `toml:"replication_delay"`
	RescheduleDelay  Duration `toml:"reschedule_delay"`
	MaxRetries       int      `toml:"max_retries"`
	// Projects restricts which projects are replicated from this source.
	// Entries are exact names, "prefix*" wildcards or "^regex" patterns.
	Projects []string `toml:"projects"`
}

// Config is a container for everything found in the TOML config file.
type Config struct {
	StoragePath          string      `toml:"storage_path" split_words:"true"`
	GitBinary            string      `toml:"git_binary" split_words:"true"`
	RepositoryCacheSize  int         `toml:"repository_cache_size" split_words:"true"`
	ListenAddr           string      `toml:"listen_addr" split_words:"true"`
	PrometheusListenAddr string      `toml:"prometheus_listen_addr" split_words:"true"`
	Logging              Logging     `toml:"logging" envconfig:"logging"`
	Sentry               Sentry      `toml:"sentry" envconfig:"sentry"`
	HealthCheck          HealthCheck `toml:"health_check" envconfig:"health_check"`
	Prometheus           Prometheus  `toml:"prometheus" envconfig:"prometheus"`
	Sources              []Source    `toml:"source" ignored:"true"`
}

// Load initializes the Config from file and the environment.
// Environment variables take precedence over the file.
func Load(file io.Reader) (Config, error) {
	cfg := Config{
		Prometheus: DefaultPrometheus(),
	}

	if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("load toml: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("envconfig: %w", err)
	}

	cfg.setDefaults()

	return cfg, nil
}

// FromFile loads the config for the passed file path.
func FromFile(filePath string) (Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	return Load(file)
}

func (cfg *Config) setDefaults() {
	if cfg.GitBinary == "" {
		cfg.GitBinary = "git"
	}

	if cfg.RepositoryCacheSize == 0 {
		cfg.RepositoryCacheSize = defaultRepositoryCacheSize
	}

	if cfg.StoragePath != "" {
		cfg.StoragePath = filepath.Clean(cfg.StoragePath)
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = Duration(defaultHealthCheckInterval)
	}

	for i := range cfg.Sources {
		source := &cfg.Sources[i]

		if source.MaxConnections == 0 {
			source.MaxConnections = defaultMaxConnections
		}
		if source.Timeout == 0 {
			source.Timeout = Duration(defaultTimeout)
		}
		if source.RescheduleDelay == 0 {
			source.RescheduleDelay = Duration(defaultRescheduleDelay)
		}
	}
}

var (
	errNoStoragePath        = errors.New("no storage path configured")
	errNoSources            = errors.New("no sources configured")
	errSourceUnnamed        = errors.New("sources must have a name")
	errSourcesNotUnique     = errors.New("sources must have unique names")
	errSourceWithoutURL     = errors.New("sources must have a url")
	errInvalidConnections   = errors.New("max connections must be positive")
	errNegativeDuration     = errors.New("durations must not be negative")
	errNegativeRetries      = errors.New("max retries must not be negative")
	errInvalidHealthProject = errors.New("health check projects must not be empty")
)

// Validate establishes if the config is valid.
func (cfg *Config) Validate() error {
	for _, run := range []func() error{
		cfg.validateStorage,
		cfg.validateSources,
		cfg.validateHealthCheck,
	} {
		if err := run(); err != nil {
			return err
		}
	}

	return nil
}

func (cfg *Config) validateStorage() error {
	if cfg.StoragePath == "" {
		return errNoStoragePath
	}

	info, err := os.Stat(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("storage path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %q is not a directory", cfg.StoragePath)
	}

	return nil
}

func (cfg *Config) validateSources() error {
	if len(cfg.Sources) == 0 {
		return errNoSources
	}

	names := make(map[string]struct{}, len(cfg.Sources))
	for _, source := range cfg.Sources {
		if source.Name == "" {
			return errSourceUnnamed
		}

		if _, ok := names[source.Name]; ok {
			return fmt.Errorf("source %q: %w", source.Name, errSourcesNotUnique)
		}
		names[source.Name] = struct{}{}

		if source.URL == "" {
			return fmt.Errorf("source %q: %w", source.Name, errSourceWithoutURL)
		}
		if strings.Contains(source.URL, "://") {
			if _, err := url.Parse(strings.ReplaceAll(source.URL, "${name}", "project")); err != nil {
				return fmt.Errorf("source %q: invalid url: %w", source.Name, err)
			}
		}

		if source.MaxConnections < 1 {
			return fmt.Errorf("source %q: %w", source.Name, errInvalidConnections)
		}

		for _, duration := range []Duration{source.Timeout, source.ReplicationDelay, source.RescheduleDelay} {
			if duration < 0 {
				return fmt.Errorf("source %q: %w", source.Name, errNegativeDuration)
			}
		}

		if source.MaxRetries < 0 {
			return fmt.Errorf("source %q: %w", source.Name, errNegativeRetries)
		}
	}

	return nil
}

func (cfg *Config) validateHealthCheck() error {
	if cfg.HealthCheck.TolerancePeriod < 0 || cfg.HealthCheck.Interval < 0 {
		return fmt.Errorf("health check: %w", errNegativeDuration)
	}

	for _, project := range cfg.HealthCheck.Projects {
		if project == "" {
			return errInvalidHealthProject
		}
	}

	return nil
}

// SourceNames returns the names of all configured sources.
func (cfg *Config) SourceNames() []string {
	names := make([]string, len(cfg.Sources))
	for i, source := range cfg.Sources {
		names[i] = source.Name
	}
	return names
}
