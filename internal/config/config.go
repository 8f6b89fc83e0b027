package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// ErrConfigNotFound is returned when an explicitly requested config file does not exist.
// Callers can check for this with errors.Is(err, config.ErrConfigNotFound).
var ErrConfigNotFound = errors.New("config file not found")

// ConfigFileName is read from the working directory when no --config is given.
const ConfigFileName = "detloader.yaml"

// WarehouseConfig locates the target table and how to authenticate to it.
type WarehouseConfig struct {
	Connection     string `yaml:"connection,omitempty"`
	Host           string `yaml:"host,omitempty"`
	Port           int    `yaml:"port,omitempty"`
	Username       string `yaml:"username,omitempty"`
	Database       string `yaml:"database,omitempty"`
	SSLMode        string `yaml:"sslmode,omitempty"`
	Schema         string `yaml:"schema"`
	Table          string `yaml:"table"`
	RejectsTable   string `yaml:"rejects_table,omitempty"`
	AuthMethod     string `yaml:"auth_method,omitempty"`
	AzureTenantID  string `yaml:"azure_tenant_id,omitempty"`
	AzureClientID  string `yaml:"azure_client_id,omitempty"`
	AWSRegion      string `yaml:"aws_region,omitempty"`
	GoogleInstance string `yaml:"google_instance,omitempty"`

	// Retention is how long cleanup keeps stored detections.
	Retention time.Duration `yaml:"retention"`
}

// TrackConfig holds one source type's flush triggers. Zero disables a trigger.
type TrackConfig struct {
	CountThreshold int           `yaml:"count_threshold"`
	Interval       time.Duration `yaml:"interval"`
}

type TracksConfig struct {
	Image TrackConfig `yaml:"image"`
	Video TrackConfig `yaml:"video"`
}

// RetryConfig bounds sink retries. MaxAttempts counts every call, the first included.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

type LedgerConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	Retention  time.Duration `yaml:"retention"`
}

type QuarantineConfig struct {
	MaxRows int `yaml:"max_rows"`
}

type TransformConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	ClampEpsilon  float64 `yaml:"clamp_epsilon"`
}

type DaemonConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
	MetricsAddr   string        `yaml:"metrics_addr,omitempty"`
}

// Config is the complete detloader configuration.
type Config struct {
	StagingDir string           `yaml:"staging_dir"`
	StateFile  string           `yaml:"state_file"`
	Warehouse  WarehouseConfig  `yaml:"warehouse"`
	Tracks     TracksConfig     `yaml:"tracks"`
	Retry      RetryConfig      `yaml:"retry"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Quarantine QuarantineConfig `yaml:"quarantine"`
	Transform  TransformConfig  `yaml:"transform"`
	Daemon     DaemonConfig     `yaml:"daemon"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StagingDir: detloader.DefaultStagingDir,
		StateFile:  detloader.DefaultStateFile,
		Warehouse: WarehouseConfig{
			Schema:    detloader.DefaultWarehouseSchema,
			Table:     detloader.DefaultWarehouseTable,
			Retention: detloader.DefaultWarehouseRetention,
		},
		Tracks: TracksConfig{
			Image: TrackConfig{CountThreshold: detloader.DefaultImageBatchSize},
			Video: TrackConfig{Interval: detloader.DefaultVideoWindow},
		},
		Retry: RetryConfig{
			MaxAttempts:  detloader.DefaultRetryMaxAttempts,
			InitialDelay: detloader.DefaultRetryInitialDelay,
			MaxDelay:     detloader.DefaultRetryMaxDelay,
			Multiplier:   2.0,
		},
		Ledger: LedgerConfig{
			MaxEntries: detloader.DefaultLedgerMaxEntries,
			Retention:  detloader.DefaultLedgerRetention,
		},
		Quarantine: QuarantineConfig{MaxRows: detloader.DefaultQuarantineMaxRows},
		Transform:  TransformConfig{ClampEpsilon: detloader.DefaultConfidenceClampEpsilon},
		Daemon: DaemonConfig{
			CheckInterval: detloader.DefaultCheckInterval,
			DrainTimeout:  detloader.DefaultDrainTimeout,
		},
	}
}

// Load reads the YAML config at path over the defaults. An empty path reads
// ConfigFileName from the working directory and tolerates its absence; an
// explicit path that does not exist returns ErrConfigNotFound.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = ConfigFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if !explicit {
				return Default(), nil
			}
			return nil, fmt.Errorf("%s: %w", path, ErrConfigNotFound)
		}
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", detloader.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Environment overrides recognised by ApplyEnv.
const (
	EnvStagingDir  = "DETLOADER_STAGING_DIR"
	EnvStateFile   = "DETLOADER_STATE_FILE"
	EnvConnection  = "DETLOADER_CONNECTION"
	EnvMetricsAddr = "DETLOADER_METRICS_ADDR"
)

// ApplyEnv overlays DETLOADER_* environment variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvStagingDir); ok && v != "" {
		c.StagingDir = v
	}
	if v, ok := lookup(EnvStateFile); ok && v != "" {
		c.StateFile = v
	}
	if v, ok := lookup(EnvConnection); ok && v != "" {
		c.Warehouse.Connection = v
	}
	if v, ok := lookup(EnvMetricsAddr); ok && v != "" {
		c.Daemon.MetricsAddr = v
	}
}
