// Package testhelpers provisions the shared PostgreSQL container that
// integration tests scan against, plus the engine store that records their
// results.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/database"
)

// TargetDBImage is the stock PostgreSQL image used for integration tests.
const TargetDBImage = "postgres:16-alpine"

const (
	testUser     = "seclens"
	testPassword = "test_password"
	targetDBName = "scan_target"
	engineDBName = "seclens_engine_test"
)

// lazy builds a test resource on first use and hands every later caller the
// same instance. A failed build fails every test that asks for the resource.
type lazy[T any] struct {
	once sync.Once
	val  *T
	err  error
}

func (l *lazy[T]) get(t *testing.T, what string, build func() (*T, error)) *T {
	t.Helper()

	if testing.Short() {
		t.Skip("integration test needs Docker, skipped in short mode")
	}

	l.once.Do(func() { l.val, l.err = build() })
	if l.err != nil {
		t.Fatalf("%s unavailable: %v", what, l.err)
	}
	return l.val
}

// TestDB is the shared scan-target container. Its database is seeded with
// PII-bearing tables (customers, orders) so adapter and pipeline tests scan
// realistic rows.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string

	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// EngineDB is the engine store with all migrations applied. Services and
// repositories test against it. It lives in the same container as the scan
// target but in its own database.
type EngineDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	targetDB    lazy[TestDB]
	engineStore lazy[EngineDB]
)

// GetTargetDB returns the seeded scan-target database, starting its container
// on the first call and reusing it for the rest of the run.
func GetTargetDB(t *testing.T) *TestDB {
	t.Helper()
	return targetDB.get(t, "scan target database", startTargetDB)
}

// GetEngineDB returns the shared engine store, provisioning it inside the
// scan-target container on the first call.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()
	target := GetTargetDB(t)
	return engineStore.get(t, "engine store", func() (*EngineDB, error) {
		return provisionEngineStore(target)
	})
}

func startTargetDB() (*TestDB, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        TargetDBImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       targetDBName,
				"POSTGRES_USER":     testUser,
				"POSTGRES_PASSWORD": testPassword,
			},
			// Init scripts restart the server once, so the ready line must
			// appear twice before remote connections are accepted.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	host, port, err := containerEndpoint(ctx, container)
	if err != nil {
		return nil, err
	}

	connStr := connString(host, port, targetDBName)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("open target pool: %w", err)
	}

	var pingErr error
	deadline := time.Now().Add(10 * time.Second)
	for {
		if pingErr = pool.Ping(ctx); pingErr == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("target database never became reachable: %w", pingErr)
		}
		time.Sleep(500 * time.Millisecond)
	}

	// One statement at a time: the extended query protocol rejects
	// multi-statement strings.
	for _, stmt := range targetSeedStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("seed scan target: %w", err)
		}
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      port,
		User:      testUser,
		Password:  testPassword,
		Database:  targetDBName,
	}, nil
}

func provisionEngineStore(target *TestDB) (*EngineDB, error) {
	ctx := context.Background()

	// A separate database keeps store tables out of scans of the target.
	if _, err := target.Pool.Exec(ctx, "CREATE DATABASE "+engineDBName); err != nil {
		return nil, fmt.Errorf("create engine store database: %w", err)
	}

	connStr := connString(target.Host, target.Port, engineDBName)

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to engine store: %w", err)
	}

	// golang-migrate wants a database/sql handle.
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("apply engine store migrations: %w", err)
	}

	return &EngineDB{DB: db, ConnStr: connStr}, nil
}

func containerEndpoint(ctx context.Context, c testcontainers.Container) (string, int, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("resolve container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		return "", 0, fmt.Errorf("resolve mapped port: %w", err)
	}
	return host, port.Int(), nil
}

func connString(host string, port int, dbname string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		testUser, testPassword, host, port, dbname)
}
