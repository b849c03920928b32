package postgres

import "github.com/seclens/seclens-engine/pkg/adapters/datasource"

// Config carries the PostgreSQL connection settings resolved from a
// connection spec.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // one of "disable", "require", "verify-ca", "verify-full"
	MaxConns int32
}

// DefaultPort is the standard PostgreSQL listener port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode applies when the spec leaves ssl_mode unset. Scan traffic
// carries sampled PII, so transport stays encrypted unless a target opts out.
func DefaultSSLMode() string {
	return "require"
}

// DefaultMaxConns returns the default pool size. Sized to leave headroom
// above the sampler's default concurrent query cap.
func DefaultMaxConns() int32 {
	return 10
}

// FromSpec creates a Config from a connection spec, applying defaults for
// omitted fields.
func FromSpec(spec datasource.ConnectionSpec) *Config {
	cfg := &Config{
		Host:     spec.Host,
		Port:     spec.Port,
		User:     spec.User,
		Password: spec.Password,
		Database: spec.Database,
		SSLMode:  spec.SSLMode,
		MaxConns: spec.MaxConns,
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort()
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = DefaultSSLMode()
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns()
	}
	return cfg
}
