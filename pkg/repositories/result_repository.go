package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/seclens/seclens-engine/pkg/database"
	"github.com/seclens/seclens-engine/pkg/models"
)

// ResultRepository defines the interface for per-column detection results
// and quasi-identifier groups. Detection results are upserted because the
// QI analyzer annotates rows the detection phase already wrote.
type ResultRepository interface {
	// SaveDetectionResults upserts the results for a job in one transaction.
	SaveDetectionResults(ctx context.Context, jobID uuid.UUID, results []*models.DetectionResult) error

	// GetDetectionResults retrieves all results for a job, ordered by column reference.
	GetDetectionResults(ctx context.Context, jobID uuid.UUID) ([]*models.DetectionResult, error)

	// SaveQuasiIdentifierGroups replaces the stored groups for a job.
	SaveQuasiIdentifierGroups(ctx context.Context, jobID uuid.UUID, groups []*models.QuasiIdentifierGroup) error

	// GetQuasiIdentifierGroups retrieves all groups for a job.
	GetQuasiIdentifierGroups(ctx context.Context, jobID uuid.UUID) ([]*models.QuasiIdentifierGroup, error)
}

// resultRepository implements ResultRepository using PostgreSQL.
type resultRepository struct {
	db *database.DB
}

// NewResultRepository creates a new detection result repository.
func NewResultRepository(db *database.DB) ResultRepository {
	return &resultRepository{db: db}
}

// SaveDetectionResults upserts the results for a job in one transaction.
func (r *resultRepository) SaveDetectionResults(ctx context.Context, jobID uuid.UUID, results []*models.DetectionResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once the tx committed

	query := `
		INSERT INTO engine_detection_results (
			job_id, column_ref, schema_name, table_name, column_name,
			candidates, highest_confidence_pii_type, highest_confidence_score,
			has_pii, is_quasi_identifier, quasi_identifier_risk_score,
			clustering_method, correlated_columns
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (job_id, column_ref) DO UPDATE
		SET candidates = EXCLUDED.candidates,
		    highest_confidence_pii_type = EXCLUDED.highest_confidence_pii_type,
		    highest_confidence_score = EXCLUDED.highest_confidence_score,
		    has_pii = EXCLUDED.has_pii,
		    is_quasi_identifier = EXCLUDED.is_quasi_identifier,
		    quasi_identifier_risk_score = EXCLUDED.quasi_identifier_risk_score,
		    clustering_method = EXCLUDED.clustering_method,
		    correlated_columns = EXCLUDED.correlated_columns`

	for _, result := range results {
		candidatesJSON, err := marshalCandidates(result.Candidates)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, query,
			jobID,
			result.ColumnRef,
			result.SchemaName,
			result.TableName,
			result.ColumnName,
			candidatesJSON,
			result.HighestConfidencePiiType,
			result.HighestConfidenceScore,
			result.HasPii,
			result.IsQuasiIdentifier,
			result.QuasiIdentifierRiskScore,
			result.ClusteringMethod,
			result.CorrelatedColumns,
		)
		if err != nil {
			return fmt.Errorf("failed to save detection result for %s: %w", result.ColumnRef, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetDetectionResults retrieves all results for a job.
func (r *resultRepository) GetDetectionResults(ctx context.Context, jobID uuid.UUID) ([]*models.DetectionResult, error) {
	query := `
		SELECT column_ref, schema_name, table_name, column_name,
		       candidates, highest_confidence_pii_type, highest_confidence_score,
		       has_pii, is_quasi_identifier, quasi_identifier_risk_score,
		       clustering_method, correlated_columns
		FROM engine_detection_results
		WHERE job_id = $1
		ORDER BY column_ref`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get detection results: %w", err)
	}
	defer rows.Close()

	var results []*models.DetectionResult
	for rows.Next() {
		var result models.DetectionResult
		var candidatesJSON []byte

		err := rows.Scan(
			&result.ColumnRef, &result.SchemaName, &result.TableName, &result.ColumnName,
			&candidatesJSON, &result.HighestConfidencePiiType, &result.HighestConfidenceScore,
			&result.HasPii, &result.IsQuasiIdentifier, &result.QuasiIdentifierRiskScore,
			&result.ClusteringMethod, &result.CorrelatedColumns,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection result: %w", err)
		}

		if len(candidatesJSON) > 0 {
			if err := json.Unmarshal(candidatesJSON, &result.Candidates); err != nil {
				return nil, fmt.Errorf("failed to unmarshal candidates: %w", err)
			}
		}

		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating detection results: %w", err)
	}

	return results, nil
}

// SaveQuasiIdentifierGroups replaces the stored groups for a job.
// Delete-then-insert keeps a re-run of the analysis phase from stacking
// duplicate groups under fresh IDs.
func (r *resultRepository) SaveQuasiIdentifierGroups(ctx context.Context, jobID uuid.UUID, groups []*models.QuasiIdentifierGroup) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once the tx committed

	if _, err := tx.Exec(ctx, `DELETE FROM engine_qi_groups WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear quasi-identifier groups: %w", err)
	}

	query := `
		INSERT INTO engine_qi_groups (
			id, job_id, group_name, columns, clustering_method,
			re_identification_risk_score, distinct_combinations,
			singleton_combinations, k_anonymity,
			average_group_correlation, normalized_group_entropy,
			correlation_significances
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	for _, group := range groups {
		if group.ID == uuid.Nil {
			group.ID = uuid.New()
		}

		columnsJSON, err := json.Marshal(group.Columns)
		if err != nil {
			return fmt.Errorf("failed to marshal group columns: %w", err)
		}

		var significancesJSON []byte
		if len(group.CorrelationSignificances) > 0 {
			significancesJSON, err = json.Marshal(group.CorrelationSignificances)
			if err != nil {
				return fmt.Errorf("failed to marshal correlation significances: %w", err)
			}
		}

		_, err = tx.Exec(ctx, query,
			group.ID,
			jobID,
			group.GroupName,
			columnsJSON,
			group.ClusteringMethod,
			group.ReIdentificationRisk,
			group.DistinctCombinations,
			group.SingletonCombinations,
			group.KAnonymity,
			group.AverageGroupCorrelation,
			group.NormalizedGroupEntropy,
			significancesJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to save quasi-identifier group %s: %w", group.GroupName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetQuasiIdentifierGroups retrieves all groups for a job.
func (r *resultRepository) GetQuasiIdentifierGroups(ctx context.Context, jobID uuid.UUID) ([]*models.QuasiIdentifierGroup, error) {
	query := `
		SELECT id, job_id, group_name, columns, clustering_method,
		       re_identification_risk_score, distinct_combinations,
		       singleton_combinations, k_anonymity,
		       average_group_correlation, normalized_group_entropy,
		       correlation_significances
		FROM engine_qi_groups
		WHERE job_id = $1
		ORDER BY group_name`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quasi-identifier groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.QuasiIdentifierGroup
	for rows.Next() {
		var group models.QuasiIdentifierGroup
		var columnsJSON, significancesJSON []byte

		err := rows.Scan(
			&group.ID, &group.JobID, &group.GroupName, &columnsJSON, &group.ClusteringMethod,
			&group.ReIdentificationRisk, &group.DistinctCombinations,
			&group.SingletonCombinations, &group.KAnonymity,
			&group.AverageGroupCorrelation, &group.NormalizedGroupEntropy,
			&significancesJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quasi-identifier group: %w", err)
		}

		if len(columnsJSON) > 0 {
			if err := json.Unmarshal(columnsJSON, &group.Columns); err != nil {
				return nil, fmt.Errorf("failed to unmarshal group columns: %w", err)
			}
		}
		if len(significancesJSON) > 0 {
			if err := json.Unmarshal(significancesJSON, &group.CorrelationSignificances); err != nil {
				return nil, fmt.Errorf("failed to unmarshal correlation significances: %w", err)
			}
		}

		groups = append(groups, &group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quasi-identifier groups: %w", err)
	}

	return groups, nil
}

func marshalCandidates(candidates []models.PiiCandidate) ([]byte, error) {
	if candidates == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal candidates: %w", err)
	}
	return data, nil
}

// Ensure resultRepository implements ResultRepository at compile time.
var _ ResultRepository = (*resultRepository)(nil)
