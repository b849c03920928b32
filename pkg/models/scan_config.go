package models

import "time"

// DetectionConfig controls the per-column detection pipeline.
type DetectionConfig struct {
	HeuristicThreshold     float64 `json:"heuristic_threshold"`
	RegexThreshold         float64 `json:"regex_threshold"`
	NerThreshold           float64 `json:"ner_threshold"`
	ReportingThreshold     float64 `json:"reporting_threshold"`
	StopPipelineOnHighConf bool    `json:"stop_pipeline_on_high_confidence"`
	NerEnabled             bool    `json:"ner_enabled"`
}

// QuasiIdentifierConfig controls cross-column quasi-identifier analysis.
type QuasiIdentifierConfig struct {
	Enabled                     bool    `json:"enabled"`
	CorrelationAnalysisEnabled  bool    `json:"correlation_analysis_enabled"`
	UseMachineLearning          bool    `json:"use_machine_learning"`
	MinGroupSize                int     `json:"min_group_size"`
	MaxGroupSize                int     `json:"max_group_size"`
	CorrelationThreshold        float64 `json:"correlation_threshold"`
	ClusteringDistanceThreshold float64 `json:"clustering_distance_threshold"`
	MinDistinctValueCount       int     `json:"min_distinct_value_count"`
	MaxDistinctValueRatio       float64 `json:"max_distinct_value_ratio"`
	EntropyThreshold            float64 `json:"entropy_threshold"`
	KAnonymityThreshold         int     `json:"k_anonymity_threshold"`
}

// SamplingConfig controls how column values are drawn from the target.
type SamplingConfig struct {
	SampleSize                int            `json:"sample_size"`
	Method                    SamplingMethod `json:"method"`
	MaxConcurrentQueries      int            `json:"max_concurrent_queries"`
	EntropyCalculationEnabled bool           `json:"entropy_calculation_enabled"`
}

// NerConfig controls the remote NER service client.
type NerConfig struct {
	URL            string        `json:"url"`
	Timeout        time.Duration `json:"timeout"`
	MaxSamples     int           `json:"max_samples"`
	RetryAttempts  int           `json:"retry_attempts"`
	RetryDelay     time.Duration `json:"retry_delay"`
	CircuitBreaker bool          `json:"circuit_breaker"`
}

// ScanConfig is the configuration snapshot a job carries for its lifetime.
type ScanConfig struct {
	Detection       DetectionConfig       `json:"detection"`
	QuasiIdentifier QuasiIdentifierConfig `json:"quasi_identifier"`
	Sampling        SamplingConfig        `json:"sampling"`
	Ner             NerConfig             `json:"ner"`
}

// DefaultScanConfig returns the canonical defaults applied when a scan
// request omits configuration.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Detection: DetectionConfig{
			HeuristicThreshold:     0.7,
			RegexThreshold:         0.8,
			NerThreshold:           0.75,
			ReportingThreshold:     0.5,
			StopPipelineOnHighConf: true,
			NerEnabled:             true,
		},
		QuasiIdentifier: QuasiIdentifierConfig{
			Enabled:                     true,
			CorrelationAnalysisEnabled:  true,
			UseMachineLearning:          false,
			MinGroupSize:                2,
			MaxGroupSize:                5,
			CorrelationThreshold:        0.7,
			ClusteringDistanceThreshold: 0.3,
			MinDistinctValueCount:       5,
			MaxDistinctValueRatio:       0.95,
			EntropyThreshold:            1.0,
			KAnonymityThreshold:         5,
		},
		Sampling: SamplingConfig{
			SampleSize:                100,
			Method:                    SamplingRandom,
			MaxConcurrentQueries:      5,
			EntropyCalculationEnabled: true,
		},
		Ner: NerConfig{
			URL:            "http://localhost:5001/ner",
			Timeout:        10 * time.Second,
			MaxSamples:     50,
			RetryAttempts:  2,
			RetryDelay:     500 * time.Millisecond,
			CircuitBreaker: true,
		},
	}
}

// ScanRequest is the inbound request that starts a scan.
type ScanRequest struct {
	ConnectionID string      `json:"connection_id"`
	TargetTables []string    `json:"target_tables,omitempty"`
	Config       *ScanConfig `json:"config,omitempty"`
}
