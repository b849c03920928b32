package datasource

import (
	"context"
	"fmt"
	"strings"

	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/models"
)

// ConnectionSpec holds everything an adapter needs to reach one scan target.
// The password is carried in memory only; use DisplayHost for anything that
// ends up in logs, events or reports.
type ConnectionSpec struct {
	ID       string
	Name     string
	Type     string // adapter type: "postgres", "mssql"
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DisplayHost returns the loggable "host:port/database" form of the spec,
// with credentials omitted.
func (s ConnectionSpec) DisplayHost() string {
	host := s.Host
	if s.Port > 0 {
		host = fmt.Sprintf("%s:%d", s.Host, s.Port)
	}
	if s.Database == "" {
		return host
	}
	return host + "/" + s.Database
}

// Validate checks that the spec carries the fields every adapter requires.
func (s ConnectionSpec) Validate() error {
	var missing []string
	if s.ID == "" {
		missing = append(missing, "id")
	}
	if s.Type == "" {
		missing = append(missing, "type")
	}
	if s.Host == "" {
		missing = append(missing, "host")
	}
	if s.Database == "" {
		missing = append(missing, "database")
	}
	if s.User == "" {
		missing = append(missing, "user")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: connection spec missing %s", apperrors.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

// Connection is an open session against one scan target. Implementations own
// a connection pool sized from the spec and must be safe for the concurrent
// sampling queries the executor issues through SampleColumns.
type Connection interface {
	// Catalog returns the database (catalog) name the connection is scoped to.
	Catalog() string

	// ProductName returns the database product, e.g. "PostgreSQL".
	ProductName() string

	// ProductVersion returns the server version string.
	ProductVersion() string

	// ExtractSchema reads tables, columns, comments, primary keys and
	// foreign-key relationships for the connected catalog.
	ExtractSchema(ctx context.Context) (*models.SchemaInfo, error)

	// ExtractSchemaForTables behaves like ExtractSchema restricted to the
	// named tables (case-insensitive bare table names). Unknown names are
	// ignored; an empty list means all tables.
	ExtractSchemaForTables(ctx context.Context, tables []string) (*models.SchemaInfo, error)

	// SampleColumns draws up to cfg.SampleSize values per column, fanning
	// queries out with at most cfg.MaxConcurrentQueries in flight. A failed
	// column yields an empty sample and a warning; an error is returned only
	// when sampling fails systematically.
	SampleColumns(ctx context.Context, columns []*models.ColumnInfo, cfg models.SamplingConfig) (map[*models.ColumnInfo]*models.SampleData, error)

	// Close releases the underlying pool. Safe to call more than once.
	Close() error
}

// Connector opens connections for one adapter type. Implementations register
// themselves via Register from an init() in their driver package.
type Connector interface {
	// Type returns the adapter type key the connector is registered under.
	Type() string

	// Open validates the spec, establishes a pooled connection and verifies
	// it with a ping before returning.
	Open(ctx context.Context, spec ConnectionSpec) (Connection, error)
}
