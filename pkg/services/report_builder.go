package services

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/logging"
	"github.com/seclens/seclens-engine/pkg/models"
)

// ReportBuilder assembles compliance reports from a scan's detection results
// and quasi-identifier groups.
type ReportBuilder struct {
	logger *zap.Logger
}

// NewReportBuilder creates a report builder.
func NewReportBuilder(logger *zap.Logger) *ReportBuilder {
	return &ReportBuilder{logger: logger.Named("report-builder")}
}

// Build produces the full audit report: every scanned column appears as a
// finding whether or not anything was detected. The host is stored with
// credentials stripped; dataTypes maps column refs to their database types.
func (b *ReportBuilder) Build(
	job *models.ScanJob,
	host string,
	dataTypes map[string]string,
	results []models.DetectionResult,
	groups []models.QuasiIdentifierGroup,
) *models.ComplianceReport {
	findings := make([]models.ColumnFinding, 0, len(results))
	piiColumns := 0
	qiColumns := 0
	totalCandidates := 0

	for _, r := range results {
		findings = append(findings, models.ColumnFinding{
			ColumnRef:                r.ColumnRef,
			SchemaName:               r.SchemaName,
			TableName:                r.TableName,
			ColumnName:               r.ColumnName,
			DataType:                 dataTypes[r.ColumnRef],
			HasPii:                   r.HasPii,
			PiiType:                  r.HighestConfidencePiiType,
			ConfidenceScore:          r.HighestConfidenceScore,
			Candidates:               r.Candidates,
			IsQuasiIdentifier:        r.IsQuasiIdentifier,
			QuasiIdentifierRiskScore: r.QuasiIdentifierRiskScore,
			ClusteringMethod:         r.ClusteringMethod,
			CorrelatedColumns:        r.CorrelatedColumns,
		})
		totalCandidates += len(r.Candidates)
		if r.HasPii {
			piiColumns++
		}
		if r.IsQuasiIdentifier {
			qiColumns++
		}
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].ColumnRef < findings[j].ColumnRef })

	totalColumns := job.TotalColumnsScanned
	if totalColumns == 0 {
		totalColumns = len(results)
	}

	report := &models.ComplianceReport{
		JobID:                  job.ID,
		GeneratedAt:            time.Now().UTC(),
		Host:                   logging.SanitizeConnectionString(host),
		DatabaseName:           job.DatabaseName,
		DatabaseProductName:    job.DatabaseProductName,
		DatabaseProductVersion: job.DatabaseProductVersion,
		Findings:               findings,
		QuasiIdentifierGroups:  groups,
		Summary: models.ReportSummary{
			TablesScanned:               job.TotalTablesScanned,
			ColumnsScanned:              totalColumns,
			PiiColumnsFound:             piiColumns,
			TotalPiiCandidates:          totalCandidates,
			QuasiIdentifierColumnsFound: qiColumns,
			QuasiIdentifierGroupsFound:  len(groups),
			ScanDurationMillis:          scanDuration(job).Milliseconds(),
		},
		ComplianceScore: complianceScore(piiColumns, totalColumns),
	}

	b.logger.Debug("report assembled",
		zap.String("job_id", job.ID.String()),
		zap.Int("findings", len(findings)),
		zap.Int("pii_columns", piiColumns),
		zap.Int("qi_groups", len(groups)),
		zap.Float64("compliance_score", report.ComplianceScore))
	return report
}

// scanDuration measures from start to end time. The report is generated just
// before the job turns COMPLETED, so when the end time is not stamped yet
// the current instant stands in for it.
func scanDuration(job *models.ScanJob) time.Duration {
	end := time.Now().UTC()
	if job.EndTime != nil {
		end = *job.EndTime
	}
	d := end.Sub(job.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// complianceScore is max(0, (1 - piiColumns/totalColumns) * 100). A scan
// with no columns scores 100.
func complianceScore(piiColumns, totalColumns int) float64 {
	if totalColumns == 0 {
		return 100
	}
	score := (1 - float64(piiColumns)/float64(totalColumns)) * 100
	if score < 0 {
		return 0
	}
	return score
}
