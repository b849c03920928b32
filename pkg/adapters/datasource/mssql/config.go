package mssql

import (
	"fmt"

	"github.com/seclens/seclens-engine/pkg/adapters/datasource"
)

// Config contains SQL Server-specific connection options. Only SQL
// authentication (username/password) is supported; the scanner connects
// with a dedicated read-only login.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	// Transport settings
	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
	MaxConns               int32
}

// DefaultPort is the standard SQL Server listener port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout is the dial timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// DefaultMaxConns is the pool ceiling when the spec leaves it unset.
func DefaultMaxConns() int32 {
	return 10
}

// FromSpec creates a Config from a connection spec. The spec's SSL mode maps
// onto the driver's encrypt options: "disable" turns encryption off, the
// verify modes enforce certificate validation, anything else encrypts but
// trusts the server certificate.
func FromSpec(spec datasource.ConnectionSpec) *Config {
	cfg := &Config{
		Host:              spec.Host,
		Port:              spec.Port,
		Database:          spec.Database,
		Username:          spec.User,
		Password:          spec.Password,
		ConnectionTimeout: DefaultConnectionTimeout(),
		MaxConns:          spec.MaxConns,
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort()
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns()
	}

	switch spec.SSLMode {
	case "disable":
		cfg.Encrypt = false
	case "verify-ca", "verify-full":
		cfg.Encrypt = true
		cfg.TrustServerCertificate = false
	default:
		cfg.Encrypt = true
		cfg.TrustServerCertificate = true
	}
	return cfg
}

// Validate reports the first missing or out-of-range field.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("missing host")
	}
	if c.Database == "" {
		return fmt.Errorf("missing database")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("missing username, SQL authentication needs a login")
	}
	return nil
}
