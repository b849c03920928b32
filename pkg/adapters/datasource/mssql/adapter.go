package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/seclens/seclens-engine/pkg/adapters/datasource"
	"github.com/seclens/seclens-engine/pkg/config"
)

const adapterType = "mssql"

// buildConnectionString builds a sqlserver:// URL. User-provided fields are
// URL-escaped so special characters in passwords survive parsing. When
// running in Docker, localhost resolves to host.docker.internal.
func buildConnectionString(cfg *Config) string {
	params := url.Values{}
	params.Set("database", cfg.Database)
	params.Set("encrypt", strconv.FormatBool(cfg.Encrypt))
	if cfg.TrustServerCertificate {
		params.Set("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		params.Set("connection timeout", strconv.Itoa(cfg.ConnectionTimeout))
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		config.ResolveHostForDocker(cfg.Host),
		cfg.Port,
		params.Encode(),
	)
}

// Connector opens SQL Server connections for the scan executor.
type Connector struct {
	logger *zap.Logger
}

// NewConnector creates a SQL Server connector.
func NewConnector(logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{logger: logger.Named("mssql")}
}

// Type returns the adapter type key.
func (c *Connector) Type() string {
	return adapterType
}

// Open establishes a pooled connection, verifies it with a ping and a
// DB_NAME() check, and captures the server version.
func (c *Connector) Open(ctx context.Context, spec datasource.ConnectionSpec) (datasource.Connection, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cfg := FromSpec(spec)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sql server connection: %w", err)
	}
	db.SetMaxOpenConns(int(cfg.MaxConns))

	conn := &Connection{db: db, config: cfg, logger: c.logger}
	if err := conn.verify(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return conn, nil
}

// Connection is an open SQL Server session scoped to one database.
type Connection struct {
	db        *sql.DB
	config    *Config
	version   string
	logger    *zap.Logger
	closeOnce sync.Once
}

// verify checks connectivity, confirms the expected database and reads the
// server version.
func (c *Connection) verify(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	var currentDB string
	if err := c.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return fmt.Errorf("read current database: %w", err)
	}
	if !strings.EqualFold(currentDB, c.config.Database) {
		return fmt.Errorf("connected to %q instead of %q", currentDB, c.config.Database)
	}

	if err := c.db.QueryRowContext(ctx,
		"SELECT CAST(SERVERPROPERTY('productversion') AS NVARCHAR(128))").Scan(&c.version); err != nil {
		return fmt.Errorf("read server version: %w", err)
	}
	return nil
}

// Catalog returns the connected database name.
func (c *Connection) Catalog() string {
	return c.config.Database
}

// ProductName returns "Microsoft SQL Server".
func (c *Connection) ProductName() string {
	return "Microsoft SQL Server"
}

// ProductVersion returns the server version string.
func (c *Connection) ProductVersion() string {
	return c.version
}

// Close releases the underlying pool. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.db != nil {
			err = c.db.Close()
		}
	})
	return err
}

// Ensure interfaces are implemented at compile time.
var (
	_ datasource.Connector  = (*Connector)(nil)
	_ datasource.Connection = (*Connection)(nil)
)
