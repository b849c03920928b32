package models

import (
	"time"

	"github.com/google/uuid"
)

// ColumnFinding is one row of the compliance report. Every scanned column
// appears, including columns with no findings, so the report is a full
// audit of the scan.
type ColumnFinding struct {
	ColumnRef                string           `json:"column_ref"`
	SchemaName               string           `json:"schema_name,omitempty"`
	TableName                string           `json:"table_name"`
	ColumnName               string           `json:"column_name"`
	DataType                 string           `json:"data_type,omitempty"`
	HasPii                   bool             `json:"has_pii"`
	PiiType                  PiiType          `json:"pii_type,omitempty"`
	ConfidenceScore          float64          `json:"confidence_score,omitempty"`
	Candidates               []PiiCandidate   `json:"candidates,omitempty"`
	IsQuasiIdentifier        bool             `json:"is_quasi_identifier"`
	QuasiIdentifierRiskScore float64          `json:"quasi_identifier_risk_score,omitempty"`
	ClusteringMethod         ClusteringMethod `json:"clustering_method,omitempty"`
	CorrelatedColumns        []string         `json:"correlated_columns,omitempty"`
}

// ReportSummary carries the scan-wide counters.
type ReportSummary struct {
	TablesScanned               int   `json:"tables_scanned"`
	ColumnsScanned              int   `json:"columns_scanned"`
	PiiColumnsFound             int   `json:"pii_columns_found"`
	TotalPiiCandidates          int   `json:"total_pii_candidates"`
	QuasiIdentifierColumnsFound int   `json:"quasi_identifier_columns_found"`
	QuasiIdentifierGroupsFound  int   `json:"quasi_identifier_groups_found"`
	ScanDurationMillis          int64 `json:"scan_duration_millis"`
}

// ComplianceReport is the final artifact of a completed scan. Immutable
// once persisted. Host identifiers are stored with credentials stripped.
type ComplianceReport struct {
	JobID                  uuid.UUID              `json:"job_id"`
	GeneratedAt            time.Time              `json:"generated_at"`
	Host                   string                 `json:"host"`
	DatabaseName           string                 `json:"database_name"`
	DatabaseProductName    string                 `json:"database_product_name"`
	DatabaseProductVersion string                 `json:"database_product_version"`
	Findings               []ColumnFinding        `json:"findings"`
	QuasiIdentifierGroups  []QuasiIdentifierGroup `json:"quasi_identifier_groups,omitempty"`
	Summary                ReportSummary          `json:"summary"`
	ComplianceScore        float64                `json:"compliance_score"`
}
