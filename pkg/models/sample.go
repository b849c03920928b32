package models

import "fmt"

// SamplingMethod selects how rows are drawn from a table.
type SamplingMethod string

const (
	// SamplingRandom draws rows in random order (ORDER BY random() / NEWID()).
	SamplingRandom SamplingMethod = "RANDOM"
	// SamplingTop draws the first rows the database returns.
	SamplingTop SamplingMethod = "TOP"
)

// SampleData holds the sampled values of one column. Values are opaque and
// positionally ordered; nil entries are NULLs. Entropy is populated by the
// sampler when entropy calculation is enabled.
type SampleData struct {
	ColumnRef      string   `json:"column_ref"`
	Values         []any    `json:"values"`
	TotalRowCount  int64    `json:"total_row_count"`
	TotalNullCount int64    `json:"total_null_count"`
	Entropy        *float64 `json:"entropy,omitempty"`
}

// NonNullValues returns the sampled values with NULLs removed.
func (s *SampleData) NonNullValues() []any {
	if s == nil {
		return nil
	}
	out := make([]any, 0, len(s.Values))
	for _, v := range s.Values {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// StringValues returns the non-null sampled values rendered as strings.
func (s *SampleData) StringValues() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Values))
	for _, v := range s.Values {
		if v == nil {
			continue
		}
		out = append(out, valueToString(v))
	}
	return out
}

// IsEmpty returns true when the sample contains no non-null values.
func (s *SampleData) IsEmpty() bool {
	if s == nil {
		return true
	}
	for _, v := range s.Values {
		if v != nil {
			return false
		}
	}
	return true
}

func valueToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
