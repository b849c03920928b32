package models

import "github.com/google/uuid"

// ClusteringMethod identifies how a quasi-identifier group was formed.
type ClusteringMethod string

const (
	ClusteringGraphCorrelation ClusteringMethod = "GRAPH_CORRELATION"
	ClusteringMachineLearning  ClusteringMethod = "ML_CLUSTERING"
)

// QuasiIdentifierColumn holds the per-member metrics of a QI group.
type QuasiIdentifierColumn struct {
	ColumnRef           string  `json:"column_ref"`
	Cardinality         int64   `json:"cardinality"`
	DistributionEntropy float64 `json:"distribution_entropy"`
	ContributionScore   float64 `json:"contribution_score"`
}

// QuasiIdentifierGroup is a named set of correlated columns that together
// can re-identify individuals. Owned by one scan job.
type QuasiIdentifierGroup struct {
	ID                       uuid.UUID               `json:"id"`
	JobID                    uuid.UUID               `json:"job_id"`
	GroupName                string                  `json:"group_name"`
	Columns                  []QuasiIdentifierColumn `json:"columns"`
	ClusteringMethod         ClusteringMethod        `json:"clustering_method"`
	ReIdentificationRisk     float64                 `json:"re_identification_risk_score"`
	DistinctCombinations     int64                   `json:"distinct_combinations"`
	SingletonCombinations    int64                   `json:"singleton_combinations"`
	KAnonymity               int64                   `json:"k_anonymity"`
	AverageGroupCorrelation  float64                 `json:"average_group_correlation"`
	NormalizedGroupEntropy   float64                 `json:"normalized_group_entropy"`
	CorrelationSignificances map[string]float64      `json:"correlation_significances,omitempty"`
}

// Size returns the number of member columns.
func (g *QuasiIdentifierGroup) Size() int {
	return len(g.Columns)
}

// ColumnRefs returns the qualified references of all member columns.
func (g *QuasiIdentifierGroup) ColumnRefs() []string {
	refs := make([]string, len(g.Columns))
	for i, c := range g.Columns {
		refs[i] = c.ColumnRef
	}
	return refs
}

// Contains reports whether the group includes the given column reference.
func (g *QuasiIdentifierGroup) Contains(columnRef string) bool {
	for _, c := range g.Columns {
		if c.ColumnRef == columnRef {
			return true
		}
	}
	return false
}
