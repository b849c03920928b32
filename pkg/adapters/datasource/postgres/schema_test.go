//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/adapters/datasource"
	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/testhelpers"
)

// openTargetConnection connects the postgres adapter to the shared seeded
// container.
func openTargetConnection(t *testing.T) datasource.Connection {
	t.Helper()

	testDB := testhelpers.GetTargetDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	spec := datasource.ConnectionSpec{
		ID:       "target",
		Type:     "postgres",
		Host:     testDB.Host,
		Port:     testDB.Port,
		User:     testDB.User,
		Password: testDB.Password,
		Database: testDB.Database,
		SSLMode:  "disable",
	}

	conn, err := NewConnector(zap.NewNop()).Open(ctx, spec)
	if err != nil {
		t.Fatalf("failed to open connection: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestExtractSchema_SeededTarget(t *testing.T) {
	conn := openTargetConnection(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema, err := conn.ExtractSchema(ctx)
	if err != nil {
		t.Fatalf("extract schema: %v", err)
	}

	if schema.ProductName != "PostgreSQL" {
		t.Errorf("expected product PostgreSQL, got %q", schema.ProductName)
	}
	if schema.DatabaseName != "scan_target" {
		t.Errorf("expected database scan_target, got %q", schema.DatabaseName)
	}
	if len(schema.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(schema.Tables))
	}

	byName := map[string]*models.TableInfo{}
	for i := range schema.Tables {
		byName[schema.Tables[i].TableName] = &schema.Tables[i]
	}

	customers, ok := byName["customers"]
	if !ok {
		t.Fatal("customers table not extracted")
	}
	if len(customers.Columns) != 10 {
		t.Errorf("expected 10 customer columns, got %d", len(customers.Columns))
	}

	cols := map[string]*models.ColumnInfo{}
	for i := range customers.Columns {
		cols[customers.Columns[i].ColumnName] = &customers.Columns[i]
	}

	if !cols["id"].IsPrimaryKey {
		t.Error("customers.id should be a primary key")
	}
	if cols["email"].IsPrimaryKey {
		t.Error("customers.email should not be a primary key")
	}
	if !cols["id"].IsNumeric {
		t.Error("customers.id should be numeric")
	}
	if cols["email"].IsNumeric {
		t.Error("customers.email should not be numeric")
	}
	if cols["ssn"].Comment == "" {
		t.Error("customers.ssn should carry its column comment")
	}

	orders := byName["orders"]
	ordersCols := map[string]*models.ColumnInfo{}
	for i := range orders.Columns {
		ordersCols[orders.Columns[i].ColumnName] = &orders.Columns[i]
	}

	if !ordersCols["customer_id"].ParticipatesInForeignKey() {
		t.Error("orders.customer_id should participate in a foreign key")
	}
	if got := ordersCols["customer_id"].ImportedKeyRefs; len(got) != 1 || got[0] != "customers.id" {
		t.Errorf("orders.customer_id imported refs = %v, want [customers.id]", got)
	}
	if !cols["id"].ParticipatesInForeignKey() {
		t.Error("customers.id should be referenced by orders.customer_id")
	}
}

func TestExtractSchemaForTables_Filter(t *testing.T) {
	conn := openTargetConnection(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema, err := conn.ExtractSchemaForTables(ctx, []string{"CUSTOMERS"})
	if err != nil {
		t.Fatalf("extract schema: %v", err)
	}

	if len(schema.Tables) != 1 {
		t.Fatalf("expected 1 table after filter, got %d", len(schema.Tables))
	}
	if schema.Tables[0].TableName != "customers" {
		t.Errorf("expected customers, got %q", schema.Tables[0].TableName)
	}
}

func TestSampleColumns_SeededTarget(t *testing.T) {
	conn := openTargetConnection(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	schema, err := conn.ExtractSchemaForTables(ctx, []string{"customers"})
	if err != nil {
		t.Fatalf("extract schema: %v", err)
	}

	columns := schema.Columns()
	cfg := models.SamplingConfig{
		SampleSize:                50,
		Method:                    models.SamplingRandom,
		MaxConcurrentQueries:      3,
		EntropyCalculationEnabled: true,
	}

	samples, err := conn.SampleColumns(ctx, columns, cfg)
	if err != nil {
		t.Fatalf("sample columns: %v", err)
	}

	if len(samples) != len(columns) {
		t.Fatalf("expected %d samples, got %d", len(columns), len(samples))
	}

	for col, sample := range samples {
		if sample.TotalRowCount != 50 {
			t.Errorf("%s: expected 50 sampled rows, got %d", col.QualifiedName(), sample.TotalRowCount)
		}
		if sample.ColumnRef != col.QualifiedName() {
			t.Errorf("sample ref %q does not match column %q", sample.ColumnRef, col.QualifiedName())
		}
		if sample.Entropy == nil {
			t.Errorf("%s: expected entropy to be populated", col.QualifiedName())
		}
	}
}

func TestSampleColumns_TopMethod(t *testing.T) {
	conn := openTargetConnection(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema, err := conn.ExtractSchemaForTables(ctx, []string{"orders"})
	if err != nil {
		t.Fatalf("extract schema: %v", err)
	}

	cfg := models.SamplingConfig{
		SampleSize:           10,
		Method:               models.SamplingTop,
		MaxConcurrentQueries: 2,
	}

	samples, err := conn.SampleColumns(ctx, schema.Columns(), cfg)
	if err != nil {
		t.Fatalf("sample columns: %v", err)
	}

	for col, sample := range samples {
		if sample.TotalRowCount != 10 {
			t.Errorf("%s: expected 10 sampled rows, got %d", col.QualifiedName(), sample.TotalRowCount)
		}
		if sample.Entropy != nil {
			t.Errorf("%s: entropy should stay nil when disabled", col.QualifiedName())
		}
	}
}
