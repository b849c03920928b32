package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/seclens/seclens-engine/pkg/models"
)

// Config holds all configuration for seclens-engine. Values load from
// config.yaml first; any field that also names an env tag can be overridden
// from the environment. Secrets (passwords) come only from the environment.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// PatternsPath points at the YAML pattern library loaded by the regex
	// strategy. Relative paths resolve against the working directory.
	PatternsPath string `yaml:"patterns_path" env:"PATTERNS_PATH" env-default:"patterns.yaml"`

	// Database configuration for the engine's own PostgreSQL store
	Database DatabaseConfig `yaml:"database"`

	// Scanner job execution settings
	Scanner ScannerConfig `yaml:"scanner"`

	// Default scan tuning, applied to jobs whose requests omit overrides
	Detection       DetectionConfig       `yaml:"detection"`
	QuasiIdentifier QuasiIdentifierConfig `yaml:"quasi_identifier"`
	Sampling        SamplingConfig        `yaml:"sampling"`
	NER             NERConfig             `yaml:"ner"`

	// Connections lists the target databases scan requests may reference
	// by ID. Targets are declared here rather than created over the wire so
	// credentials never transit the API.
	Connections []ConnectionConfig `yaml:"connections"`
}

// DatabaseConfig holds PostgreSQL configuration for the engine's own store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"seclens"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // never read from YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"seclens_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MinIdleConns   int32  `yaml:"min_idle_conns" env:"PGMIN_IDLE_CONNS" env-default:"2"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ScannerConfig holds scan job execution settings.
type ScannerConfig struct {
	// Workers is the number of scan jobs that may run concurrently. Each
	// job is single-threaded across its phases; parallelism inside a job
	// comes from the sampler and detection fan-out.
	Workers int `yaml:"workers" env:"SCANNER_WORKERS" env-default:"2"`
	// QueueSize bounds accepted jobs waiting for a worker.
	QueueSize int `yaml:"queue_size" env:"SCANNER_QUEUE_SIZE" env-default:"32"`
	// ShutdownGraceSeconds is how long shutdown waits for running scans
	// before abandoning them.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds" env:"SCANNER_SHUTDOWN_GRACE_SECONDS" env-default:"30"`
	// ProgressBufferSize is the per-subscriber progress channel depth.
	// Subscribers that fall behind lose events rather than block the scan.
	ProgressBufferSize int `yaml:"progress_buffer_size" env:"SCANNER_PROGRESS_BUFFER_SIZE" env-default:"64"`
}

// DetectionConfig holds default thresholds for the detection pipeline.
type DetectionConfig struct {
	HeuristicThreshold     float64 `yaml:"heuristic_threshold" env:"DETECTION_HEURISTIC_THRESHOLD" env-default:"0.7"`
	RegexThreshold         float64 `yaml:"regex_threshold" env:"DETECTION_REGEX_THRESHOLD" env-default:"0.8"`
	NerThreshold           float64 `yaml:"ner_threshold" env:"DETECTION_NER_THRESHOLD" env-default:"0.75"`
	ReportingThreshold     float64 `yaml:"reporting_threshold" env:"DETECTION_REPORTING_THRESHOLD" env-default:"0.5"`
	StopPipelineOnHighConf bool    `yaml:"stop_pipeline_on_high_confidence" env:"DETECTION_STOP_PIPELINE_ON_HIGH_CONFIDENCE" env-default:"true"`
	NerEnabled             bool    `yaml:"ner_enabled" env:"DETECTION_NER_ENABLED" env-default:"true"`
}

// QuasiIdentifierConfig holds defaults for quasi-identifier analysis.
type QuasiIdentifierConfig struct {
	Enabled                     bool    `yaml:"enabled" env:"QI_ENABLED" env-default:"true"`
	CorrelationAnalysisEnabled  bool    `yaml:"correlation_analysis_enabled" env:"QI_CORRELATION_ANALYSIS_ENABLED" env-default:"true"`
	UseMachineLearning          bool    `yaml:"use_machine_learning" env:"QI_USE_MACHINE_LEARNING" env-default:"false"`
	MinGroupSize                int     `yaml:"min_group_size" env:"QI_MIN_GROUP_SIZE" env-default:"2"`
	MaxGroupSize                int     `yaml:"max_group_size" env:"QI_MAX_GROUP_SIZE" env-default:"5"`
	CorrelationThreshold        float64 `yaml:"correlation_threshold" env:"QI_CORRELATION_THRESHOLD" env-default:"0.7"`
	ClusteringDistanceThreshold float64 `yaml:"clustering_distance_threshold" env:"QI_CLUSTERING_DISTANCE_THRESHOLD" env-default:"0.3"`
	MinDistinctValueCount       int     `yaml:"min_distinct_value_count" env:"QI_MIN_DISTINCT_VALUE_COUNT" env-default:"5"`
	MaxDistinctValueRatio       float64 `yaml:"max_distinct_value_ratio" env:"QI_MAX_DISTINCT_VALUE_RATIO" env-default:"0.95"`
	EntropyThreshold            float64 `yaml:"entropy_threshold" env:"QI_ENTROPY_THRESHOLD" env-default:"1.0"`
	KAnonymityThreshold         int     `yaml:"k_anonymity_threshold" env:"QI_K_ANONYMITY_THRESHOLD" env-default:"5"`
}

// SamplingConfig holds defaults for drawing column samples from targets.
type SamplingConfig struct {
	SampleSize                int    `yaml:"sample_size" env:"SAMPLING_SAMPLE_SIZE" env-default:"100"`
	Method                    string `yaml:"method" env:"SAMPLING_METHOD" env-default:"RANDOM"`
	MaxConcurrentQueries      int    `yaml:"max_concurrent_queries" env:"SAMPLING_MAX_CONCURRENT_QUERIES" env-default:"5"`
	EntropyCalculationEnabled bool   `yaml:"entropy_calculation_enabled" env:"SAMPLING_ENTROPY_CALCULATION_ENABLED" env-default:"true"`
}

// NERConfig holds the NER sidecar client settings.
type NERConfig struct {
	URL              string `yaml:"url" env:"NER_URL" env-default:"http://localhost:5001/ner"`
	TimeoutSeconds   int    `yaml:"timeout_seconds" env:"NER_TIMEOUT_SECONDS" env-default:"10"`
	MaxSamples       int    `yaml:"max_samples" env:"NER_MAX_SAMPLES" env-default:"50"`
	RetryAttempts    int    `yaml:"retry_attempts" env:"NER_RETRY_ATTEMPTS" env-default:"2"`
	RetryDelayMillis int    `yaml:"retry_delay_millis" env:"NER_RETRY_DELAY_MILLIS" env-default:"500"`
	CircuitBreaker   bool   `yaml:"circuit_breaker" env:"NER_CIRCUIT_BREAKER" env-default:"true"`
}

// ConnectionConfig declares one scannable target database.
type ConnectionConfig struct {
	// ID is the identifier scan requests use to select this target.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// Type selects the datasource driver ("postgres", "mssql").
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	// PasswordEnv names the environment variable holding the password.
	// The inline password field exists for local development only.
	PasswordEnv string `yaml:"password_env"`
	Password    string `yaml:"password"`
	MaxConns    int32  `yaml:"max_conns"`
}

// ResolvePassword returns the target's password, preferring the environment
// variable named by PasswordEnv over the inline value.
func (c *ConnectionConfig) ResolvePassword() string {
	if c.PasswordEnv != "" {
		if v := os.Getenv(c.PasswordEnv); v != "" {
			return v
		}
	}
	return c.Password
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Secrets (PGPASSWORD, per-connection password_env) must
// come from environment variables.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from the given YAML file with environment
// variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate rejects configurations a scan could not run under.
func (c *Config) validate() error {
	thresholds := []struct {
		name  string
		value float64
	}{
		{"detection.heuristic_threshold", c.Detection.HeuristicThreshold},
		{"detection.regex_threshold", c.Detection.RegexThreshold},
		{"detection.ner_threshold", c.Detection.NerThreshold},
		{"detection.reporting_threshold", c.Detection.ReportingThreshold},
		{"quasi_identifier.correlation_threshold", c.QuasiIdentifier.CorrelationThreshold},
		{"quasi_identifier.clustering_distance_threshold", c.QuasiIdentifier.ClusteringDistanceThreshold},
		{"quasi_identifier.max_distinct_value_ratio", c.QuasiIdentifier.MaxDistinctValueRatio},
	}
	for _, t := range thresholds {
		if t.value < 0 || t.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", t.name, t.value)
		}
	}

	if c.Sampling.SampleSize < 1 {
		return fmt.Errorf("sampling.sample_size must be positive, got %d", c.Sampling.SampleSize)
	}
	switch models.SamplingMethod(c.Sampling.Method) {
	case models.SamplingRandom, models.SamplingTop:
	default:
		return fmt.Errorf("sampling.method must be RANDOM or TOP, got %q", c.Sampling.Method)
	}
	if c.Sampling.MaxConcurrentQueries < 1 {
		return fmt.Errorf("sampling.max_concurrent_queries must be positive, got %d", c.Sampling.MaxConcurrentQueries)
	}

	if c.QuasiIdentifier.MinGroupSize < 2 {
		return fmt.Errorf("quasi_identifier.min_group_size must be at least 2, got %d", c.QuasiIdentifier.MinGroupSize)
	}
	if c.QuasiIdentifier.MaxGroupSize < c.QuasiIdentifier.MinGroupSize {
		return fmt.Errorf("quasi_identifier.max_group_size %d is below min_group_size %d",
			c.QuasiIdentifier.MaxGroupSize, c.QuasiIdentifier.MinGroupSize)
	}

	if c.Detection.NerEnabled && c.NER.URL == "" {
		return fmt.Errorf("ner.url is required while detection.ner_enabled is true")
	}

	if c.Scanner.Workers < 1 {
		return fmt.Errorf("scanner.workers must be positive, got %d", c.Scanner.Workers)
	}

	seen := make(map[string]bool, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.ID == "" {
			return fmt.Errorf("connections[%d]: id is required", i)
		}
		if seen[conn.ID] {
			return fmt.Errorf("connections[%d]: duplicate id %q", i, conn.ID)
		}
		seen[conn.ID] = true
		if conn.Type == "" {
			return fmt.Errorf("connection %q: type is required", conn.ID)
		}
		if conn.Host == "" {
			return fmt.Errorf("connection %q: host is required", conn.ID)
		}
	}

	return nil
}

// Connection returns the target declared under the given ID.
func (c *Config) Connection(id string) (*ConnectionConfig, bool) {
	for i := range c.Connections {
		if c.Connections[i].ID == id {
			return &c.Connections[i], true
		}
	}
	return nil, false
}

// ScanDefaults assembles the scan configuration snapshot applied to jobs
// whose requests omit their own.
func (c *Config) ScanDefaults() models.ScanConfig {
	return models.ScanConfig{
		Detection: models.DetectionConfig{
			HeuristicThreshold:     c.Detection.HeuristicThreshold,
			RegexThreshold:         c.Detection.RegexThreshold,
			NerThreshold:           c.Detection.NerThreshold,
			ReportingThreshold:     c.Detection.ReportingThreshold,
			StopPipelineOnHighConf: c.Detection.StopPipelineOnHighConf,
			NerEnabled:             c.Detection.NerEnabled,
		},
		QuasiIdentifier: models.QuasiIdentifierConfig{
			Enabled:                     c.QuasiIdentifier.Enabled,
			CorrelationAnalysisEnabled:  c.QuasiIdentifier.CorrelationAnalysisEnabled,
			UseMachineLearning:          c.QuasiIdentifier.UseMachineLearning,
			MinGroupSize:                c.QuasiIdentifier.MinGroupSize,
			MaxGroupSize:                c.QuasiIdentifier.MaxGroupSize,
			CorrelationThreshold:        c.QuasiIdentifier.CorrelationThreshold,
			ClusteringDistanceThreshold: c.QuasiIdentifier.ClusteringDistanceThreshold,
			MinDistinctValueCount:       c.QuasiIdentifier.MinDistinctValueCount,
			MaxDistinctValueRatio:       c.QuasiIdentifier.MaxDistinctValueRatio,
			EntropyThreshold:            c.QuasiIdentifier.EntropyThreshold,
			KAnonymityThreshold:         c.QuasiIdentifier.KAnonymityThreshold,
		},
		Sampling: models.SamplingConfig{
			SampleSize:                c.Sampling.SampleSize,
			Method:                    models.SamplingMethod(c.Sampling.Method),
			MaxConcurrentQueries:      c.Sampling.MaxConcurrentQueries,
			EntropyCalculationEnabled: c.Sampling.EntropyCalculationEnabled,
		},
		Ner: models.NerConfig{
			URL:            c.NER.URL,
			Timeout:        time.Duration(c.NER.TimeoutSeconds) * time.Second,
			MaxSamples:     c.NER.MaxSamples,
			RetryAttempts:  c.NER.RetryAttempts,
			RetryDelay:     time.Duration(c.NER.RetryDelayMillis) * time.Millisecond,
			CircuitBreaker: c.NER.CircuitBreaker,
		},
	}
}

// ShutdownGrace returns the shutdown grace period as a duration.
func (c *ScannerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// ConnectionString returns a PostgreSQL connection string for the engine store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
