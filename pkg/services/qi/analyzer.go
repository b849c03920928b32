package qi

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/profiling"
)

// combinationAdjustment discounts each column's cardinality when estimating
// how many value combinations a group produces, since real columns
// correlate and never multiply out fully.
const combinationAdjustment = 0.7

// singletonFraction estimates how many of those combinations map to a
// single individual.
const singletonFraction = 0.2

// GroupWriter persists quasi-identifier groups for a job.
// repositories.ResultRepository satisfies it.
type GroupWriter interface {
	SaveQuasiIdentifierGroups(ctx context.Context, jobID uuid.UUID, groups []*models.QuasiIdentifierGroup) error
}

// Analyzer finds groups of columns that jointly narrow down individuals
// and scores the re-identification risk of each group.
type Analyzer struct {
	correlation *profiling.CorrelationCalculator
	groups      GroupWriter
	logger      *zap.Logger
}

func NewAnalyzer(groups GroupWriter, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		correlation: profiling.NewCorrelationCalculator(logger),
		groups:      groups,
		logger:      logger.Named("qi-analyzer"),
	}
}

// Analyze filters the scanned columns to eligible quasi-identifier
// candidates, groups them by correlation, scores each group, annotates the
// matching detection results in place and persists the groups.
//
// Persistence failures are logged but never returned: the PII findings
// already computed must reach the report even when group storage is down.
func (a *Analyzer) Analyze(
	ctx context.Context,
	jobID uuid.UUID,
	cfg models.QuasiIdentifierConfig,
	columnData map[*models.ColumnInfo]*models.SampleData,
	results []models.DetectionResult,
) []models.QuasiIdentifierGroup {
	if !cfg.Enabled || !cfg.CorrelationAnalysisEnabled {
		return nil
	}

	eligible := filterEligible(cfg, columnData, results, a.logger)
	if len(eligible) < 2 {
		a.logger.Debug("not enough eligible columns for quasi-identifier analysis",
			zap.Int("eligible", len(eligible)))
		return nil
	}

	eligibleData := make(map[*models.ColumnInfo]*models.SampleData, len(eligible))
	refs := make([]string, len(eligible))
	byRef := make(map[string]candidateColumn, len(eligible))
	for i, c := range eligible {
		eligibleData[c.Column] = c.Samples
		refs[i] = c.Column.QualifiedName()
		byRef[refs[i]] = c
	}

	matrix := a.correlation.Compute(eligibleData)

	var memberSets [][]string
	method := models.ClusteringGraphCorrelation
	if cfg.UseMachineLearning {
		method = models.ClusteringMachineLearning
		memberSets = groupByClustering(refs, matrix, cfg, a.logger)
	} else {
		memberSets = groupByGraph(refs, matrix, cfg, a.logger)
	}
	if len(memberSets) == 0 {
		a.logger.Info("no quasi-identifier groups found",
			zap.String("job_id", jobID.String()),
			zap.Int("eligible_columns", len(eligible)))
		return nil
	}

	groups := make([]models.QuasiIdentifierGroup, 0, len(memberSets))
	for i, members := range memberSets {
		groups = append(groups, buildGroup(jobID, i+1, members, byRef, matrix, cfg, method))
	}

	annotateResults(results, groups)
	a.persist(ctx, jobID, groups)

	a.logger.Info("quasi-identifier analysis complete",
		zap.String("job_id", jobID.String()),
		zap.Int("eligible_columns", len(eligible)),
		zap.Int("groups", len(groups)),
		zap.String("method", string(method)))
	return groups
}

// buildGroup computes per-column contribution scores and the group-level
// risk metrics for one set of member refs.
func buildGroup(
	jobID uuid.UUID,
	ordinal int,
	members []string,
	byRef map[string]candidateColumn,
	matrix *profiling.CorrelationMatrix,
	cfg models.QuasiIdentifierConfig,
	method models.ClusteringMethod,
) models.QuasiIdentifierGroup {
	group := models.QuasiIdentifierGroup{
		ID:               uuid.New(),
		JobID:            jobID,
		GroupName:        fmt.Sprintf("qi_group_%d", ordinal),
		ClusteringMethod: method,
		Columns:          make([]models.QuasiIdentifierColumn, 0, len(members)),
	}

	var entropySum, cardinalitySum, pairCorrSum float64
	pairCount := 0
	combinations := 1.0
	totalRows := 0
	significances := make(map[string]float64)

	sorted := append([]string(nil), members...)
	sort.Strings(sorted)

	for i, ref := range sorted {
		metrics := byRef[ref].Metrics

		group.Columns = append(group.Columns, models.QuasiIdentifierColumn{
			ColumnRef:           ref,
			Cardinality:         int64(metrics.DistinctValueCount),
			DistributionEntropy: metrics.Entropy,
			ContributionScore:   contributionScore(ref, sorted, metrics, matrix),
		})

		entropySum += metrics.Entropy
		cardinalitySum += float64(metrics.DistinctValueCount)
		combinations *= float64(metrics.DistinctValueCount) * combinationAdjustment
		if metrics.TotalSampleCount > totalRows {
			totalRows = metrics.TotalSampleCount
		}

		for _, other := range sorted[i+1:] {
			pairCorrSum += matrix.Coefficient(ref, other)
			pairCount++
			key := profiling.NewPairKey(ref, other)
			if p, ok := matrix.PValues[key]; ok {
				significances[key.String()] = p
			}
		}
	}

	group.DistinctCombinations = clampCombinations(combinations)
	group.SingletonCombinations = int64(singletonFraction * float64(group.DistinctCombinations))

	// Exact k-anonymity needs the joint value distribution, which sampling
	// does not preserve, so k is approximated as rows per estimated
	// combination.
	k := int64(1)
	if group.DistinctCombinations > 0 && totalRows > 0 {
		k = int64(totalRows) / group.DistinctCombinations
		if k < 1 {
			k = 1
		}
	}
	group.KAnonymity = k

	if pairCount > 0 {
		group.AverageGroupCorrelation = pairCorrSum / float64(pairCount)
	}

	avgEntropy := entropySum / float64(len(sorted))
	avgCardinality := cardinalitySum / float64(len(sorted))
	if avgCardinality > 1 {
		if maxEntropy := math.Log2(avgCardinality); maxEntropy > 0 {
			group.NormalizedGroupEntropy = clamp01(avgEntropy / maxEntropy)
		}
	}

	kFactor := clamp01(float64(cfg.KAnonymityThreshold) / float64(k+1))
	group.ReIdentificationRisk = clamp01(0.6*kFactor + 0.4*group.NormalizedGroupEntropy)

	if len(significances) > 0 {
		group.CorrelationSignificances = significances
	}
	return group
}

// contributionScore weights a column's own distribution entropy against how
// strongly it correlates with the rest of its group.
func contributionScore(ref string, members []string, metrics profiling.DistributionMetrics, matrix *profiling.CorrelationMatrix) float64 {
	normEntropy := 0.0
	if metrics.TotalSampleCount > 1 {
		if maxEntropy := math.Log2(float64(metrics.TotalSampleCount)); maxEntropy > 0 {
			normEntropy = clamp01(metrics.Entropy / maxEntropy)
		}
	}

	corrSum := 0.0
	for _, other := range members {
		if other == ref {
			continue
		}
		corrSum += matrix.Coefficient(ref, other)
	}
	avgCorr := 0.0
	if len(members) > 1 {
		avgCorr = corrSum / float64(len(members)-1)
	}

	return 0.7*normEntropy + 0.3*avgCorr
}

// annotateResults marks every grouped column's detection result as a
// quasi-identifier and records the other group members alongside it.
func annotateResults(results []models.DetectionResult, groups []models.QuasiIdentifierGroup) {
	groupOf := make(map[string]*models.QuasiIdentifierGroup)
	for i := range groups {
		for _, col := range groups[i].Columns {
			groupOf[col.ColumnRef] = &groups[i]
		}
	}

	for i := range results {
		group, ok := groupOf[results[i].ColumnRef]
		if !ok {
			continue
		}
		results[i].IsQuasiIdentifier = true
		results[i].QuasiIdentifierRiskScore = group.ReIdentificationRisk
		results[i].ClusteringMethod = group.ClusteringMethod

		others := make([]string, 0, len(group.Columns)-1)
		for _, member := range group.Columns {
			if member.ColumnRef != results[i].ColumnRef {
				others = append(others, member.ColumnRef)
			}
		}
		results[i].CorrelatedColumns = others
	}
}

func (a *Analyzer) persist(ctx context.Context, jobID uuid.UUID, groups []models.QuasiIdentifierGroup) {
	if a.groups == nil {
		return
	}
	ptrs := make([]*models.QuasiIdentifierGroup, len(groups))
	for i := range groups {
		ptrs[i] = &groups[i]
	}
	if err := a.groups.SaveQuasiIdentifierGroups(ctx, jobID, ptrs); err != nil {
		a.logger.Error("failed to persist quasi-identifier groups",
			zap.String("job_id", jobID.String()),
			zap.Int("groups", len(groups)),
			zap.Error(fmt.Errorf("%w: %v", apperrors.ErrQiAnalysis, err)))
	}
}

// clampCombinations converts the combination estimate to a positive count
// bounded by int32 so downstream storage never overflows.
func clampCombinations(v float64) int64 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < 1 {
		return 1
	}
	return int64(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
