package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/seclens/seclens-engine/pkg/models"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

const minimalYAML = `
env: "test"
database:
  host: "localhost"
`

func TestLoadFile_EnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, `
env: "test"
log_level: "debug"
database:
  host: "store.internal"
  port: 5432
  user: "scanner"
  database: "scandb"
detection:
  reporting_threshold: 0.4
`)

	// Stray host environment must not leak into the assertions.
	os.Unsetenv("PGHOST")
	os.Unsetenv("LOG_LEVEL")

	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DETECTION_REPORTING_THRESHOLD", "0.6")

	cfg, err := LoadFile(path, "0.0.0-test")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("Env = %s, want production (env override)", cfg.Env)
	}
	if cfg.Detection.ReportingThreshold != 0.6 {
		t.Errorf("ReportingThreshold = %v, want 0.6 (env override)", cfg.Detection.ReportingThreshold)
	}
	if cfg.Version != "0.0.0-test" {
		t.Errorf("Version = %s, want 0.0.0-test", cfg.Version)
	}

	// Fields without an env override keep their YAML values.
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug from yaml", cfg.LogLevel)
	}
	if cfg.Database.Host != "store.internal" {
		t.Errorf("Database.Host = %s, want store.internal from yaml", cfg.Database.Host)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := Load("0.0.0-test"); err == nil {
		t.Error("Load in a directory without config.yaml should fail")
	}
}

func TestLoadFile_ScanDefaultsMatchModel(t *testing.T) {
	// The env-default tags must mirror models.DefaultScanConfig so a bare
	// config file and an empty scan request produce identical behavior.
	path := writeConfigFile(t, minimalYAML)

	for _, v := range []string{
		"DETECTION_REPORTING_THRESHOLD", "DETECTION_NER_ENABLED",
		"QI_CORRELATION_THRESHOLD", "QI_MIN_GROUP_SIZE",
		"SAMPLING_SAMPLE_SIZE", "SAMPLING_METHOD",
		"NER_URL", "NER_TIMEOUT_SECONDS",
	} {
		os.Unsetenv(v)
	}

	cfg, err := LoadFile(path, "0.0.0-test")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	got := cfg.ScanDefaults()
	want := models.DefaultScanConfig()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ScanDefaults() = %+v, want %+v", got, want)
	}
}

func TestLoadFile_Connections(t *testing.T) {
	path := writeConfigFile(t, `
env: "test"
database:
  host: "localhost"
connections:
  - id: "hr-prod"
    name: "HR production replica"
    type: "postgres"
    host: "hr.internal"
    port: 5432
    user: "readonly"
    database: "hr"
    password_env: "HR_PROD_PASSWORD"
  - id: "legacy-crm"
    name: "Legacy CRM"
    type: "mssql"
    host: "crm.internal"
    port: 1433
    user: "scanner"
    database: "crm"
    password: "dev-only"
`)

	t.Setenv("HR_PROD_PASSWORD", "s3cret")

	cfg, err := LoadFile(path, "0.0.0-test")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if len(cfg.Connections) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(cfg.Connections))
	}

	conn, ok := cfg.Connection("hr-prod")
	if !ok {
		t.Fatal("expected to find connection hr-prod")
	}
	if conn.Type != "postgres" {
		t.Errorf("expected type=postgres, got %s", conn.Type)
	}
	if got := conn.ResolvePassword(); got != "s3cret" {
		t.Errorf("expected password from HR_PROD_PASSWORD env, got %q", got)
	}

	conn, ok = cfg.Connection("legacy-crm")
	if !ok {
		t.Fatal("expected to find connection legacy-crm")
	}
	if got := conn.ResolvePassword(); got != "dev-only" {
		t.Errorf("expected inline dev password, got %q", got)
	}

	if _, ok := cfg.Connection("nope"); ok {
		t.Error("expected lookup of unknown connection to fail")
	}
}

func TestLoadFile_Validation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "threshold above one",
			yaml: minimalYAML + `
detection:
  regex_threshold: 1.5
`,
			wantErr: "regex_threshold",
		},
		{
			name: "negative threshold",
			yaml: minimalYAML + `
quasi_identifier:
  correlation_threshold: -0.2
`,
			wantErr: "correlation_threshold",
		},
		{
			name: "unknown sampling method",
			yaml: minimalYAML + `
sampling:
  method: "SYSTEMATIC"
`,
			wantErr: "sampling.method",
		},
		{
			name: "zero sample size",
			yaml: minimalYAML + `
sampling:
  sample_size: 0
`,
			wantErr: "sample_size",
		},
		{
			name: "min group size below two",
			yaml: minimalYAML + `
quasi_identifier:
  min_group_size: 1
`,
			wantErr: "min_group_size",
		},
		{
			name: "max group below min group",
			yaml: minimalYAML + `
quasi_identifier:
  min_group_size: 4
  max_group_size: 3
`,
			wantErr: "max_group_size",
		},
		{
			name: "duplicate connection ids",
			yaml: minimalYAML + `
connections:
  - id: "a"
    type: "postgres"
    host: "one"
  - id: "a"
    type: "postgres"
    host: "two"
`,
			wantErr: "duplicate id",
		},
		{
			name: "connection missing type",
			yaml: minimalYAML + `
connections:
  - id: "a"
    host: "one"
`,
			wantErr: "type is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.yaml)
			_, err := LoadFile(path, "0.0.0-test")
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "seclens",
		Password: "pw",
		Database: "seclens_engine",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=seclens password=pw dbname=seclens_engine sslmode=disable"
	if got := db.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
