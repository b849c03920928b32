package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/adapters/datasource"
	"github.com/seclens/seclens-engine/pkg/config"
)

const adapterType = "postgres"

// buildConnectionString renders the config as a PostgreSQL URL. User, password
// and database are URL-escaped; a password containing @, / or # would
// otherwise corrupt the URL. Inside Docker, localhost targets are rewritten
// to host.docker.internal so databases on the host stay reachable.
func buildConnectionString(cfg *Config) string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		config.ResolveHostForDocker(cfg.Host),
		cfg.Port,
		url.QueryEscape(cfg.Database),
		cfg.SSLMode,
	)
}

// Connector opens PostgreSQL connections for the scan executor.
type Connector struct {
	logger *zap.Logger
}

// NewConnector creates a PostgreSQL connector.
func NewConnector(logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{logger: logger.Named("postgres")}
}

// Type returns the adapter type key.
func (c *Connector) Type() string {
	return adapterType
}

// Open establishes a pooled connection, verifies it with a ping and a
// current_database() check, and captures the server version.
func (c *Connector) Open(ctx context.Context, spec datasource.ConnectionSpec) (datasource.Connection, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cfg := FromSpec(spec)

	poolConfig, err := pgxpool.ParseConfig(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	conn := &Connection{pool: pool, config: cfg, logger: c.logger}
	if err := conn.verify(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return conn, nil
}

// Connection is an open PostgreSQL session scoped to one database.
type Connection struct {
	pool      *pgxpool.Pool
	config    *Config
	version   string
	logger    *zap.Logger
	closeOnce sync.Once
}

// verify checks connectivity, confirms the expected database and reads the
// server version. A wrong database is treated as a connection error so a
// misconfigured spec never scans the server's default database silently.
func (c *Connection) verify(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	var currentDB string
	if err := c.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("read current database: %w", err)
	}
	if !strings.EqualFold(currentDB, c.config.Database) {
		return fmt.Errorf("connected to %q instead of %q", currentDB, c.config.Database)
	}

	if err := c.pool.QueryRow(ctx, "SELECT current_setting('server_version')").Scan(&c.version); err != nil {
		return fmt.Errorf("read server version: %w", err)
	}
	return nil
}

// Catalog returns the connected database name.
func (c *Connection) Catalog() string {
	return c.config.Database
}

// ProductName returns "PostgreSQL".
func (c *Connection) ProductName() string {
	return "PostgreSQL"
}

// ProductVersion returns the server version string.
func (c *Connection) ProductVersion() string {
	return c.version
}

// Close releases the underlying pool. Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		if c.pool != nil {
			c.pool.Close()
		}
	})
	return nil
}

// Ensure interfaces are implemented at compile time.
var (
	_ datasource.Connector  = (*Connector)(nil)
	_ datasource.Connection = (*Connection)(nil)
)
