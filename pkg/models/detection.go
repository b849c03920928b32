package models

// PiiType is the canonical classification for a detected PII category.
type PiiType string

const (
	PiiTypeEmail          PiiType = "EMAIL"
	PiiTypeSSN            PiiType = "SSN"
	PiiTypePersonName     PiiType = "PERSON_NAME"
	PiiTypePhoneNumber    PiiType = "PHONE_NUMBER"
	PiiTypeCreditCard     PiiType = "CREDIT_CARD_NUMBER"
	PiiTypeIPAddress      PiiType = "IP_ADDRESS"
	PiiTypeDateOfBirth    PiiType = "DATE_OF_BIRTH"
	PiiTypeAddress        PiiType = "ADDRESS"
	PiiTypeLocation       PiiType = "LOCATION"
	PiiTypeOrganization   PiiType = "ORGANIZATION"
	PiiTypePassportNumber PiiType = "PASSPORT_NUMBER"
	PiiTypeDriverLicense  PiiType = "DRIVER_LICENSE"
	PiiTypeBankAccount    PiiType = "BANK_ACCOUNT"
	PiiTypeUsername       PiiType = "USERNAME"
	PiiTypeDateTime       PiiType = "DATE_TIME"
)

// PiiCandidate is one proposed finding for a column, emitted by a single
// detection strategy.
type PiiCandidate struct {
	ColumnRef       string  `json:"column_ref"`
	PiiType         PiiType `json:"pii_type"`
	ConfidenceScore float64 `json:"confidence_score"`
	StrategyName    string  `json:"strategy_name"`
	Evidence        string  `json:"evidence,omitempty"`
}

// DetectionResult aggregates the surviving candidates for one column.
// PII fields are written by the detection engine; quasi-identifier fields
// are written by the QI analyzer.
type DetectionResult struct {
	ColumnRef  string         `json:"column_ref"`
	SchemaName string         `json:"schema_name,omitempty"`
	TableName  string         `json:"table_name"`
	ColumnName string         `json:"column_name"`
	Candidates []PiiCandidate `json:"candidates,omitempty"`

	HighestConfidencePiiType PiiType `json:"highest_confidence_pii_type,omitempty"`
	HighestConfidenceScore   float64 `json:"highest_confidence_score"`
	HasPii                   bool    `json:"has_pii"`

	IsQuasiIdentifier        bool             `json:"is_quasi_identifier"`
	QuasiIdentifierRiskScore float64          `json:"quasi_identifier_risk_score,omitempty"`
	ClusteringMethod         ClusteringMethod `json:"clustering_method,omitempty"`
	CorrelatedColumns        []string         `json:"correlated_columns,omitempty"`
}

// Recalculate derives the highest-confidence fields and the HasPii flag from
// the current candidate set and the configured reporting threshold.
func (r *DetectionResult) Recalculate(reportingThreshold float64) {
	r.HighestConfidencePiiType = ""
	r.HighestConfidenceScore = 0
	r.HasPii = false
	for _, c := range r.Candidates {
		if c.ConfidenceScore > r.HighestConfidenceScore {
			r.HighestConfidenceScore = c.ConfidenceScore
			r.HighestConfidencePiiType = c.PiiType
		}
	}
	r.HasPii = len(r.Candidates) > 0 && r.HighestConfidenceScore >= reportingThreshold
}
