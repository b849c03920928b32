package profiling

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/seclens/seclens-engine/pkg/models"
)

// minPearsonPairs is the minimum number of aligned numeric pairs required
// before a Pearson coefficient is considered meaningful.
const minPearsonPairs = 3

// PairKey identifies an unordered column pair. A and B are qualified column
// names stored in lexical order so the same pair always produces the same key.
type PairKey struct {
	A string
	B string
}

// NewPairKey builds the canonical key for two qualified column names.
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// Contains reports whether ref is one of the pair's columns.
func (k PairKey) Contains(ref string) bool {
	return k.A == ref || k.B == ref
}

// Other returns the column paired with ref, or "" when ref is not in the pair.
func (k PairKey) Other(ref string) string {
	switch ref {
	case k.A:
		return k.B
	case k.B:
		return k.A
	default:
		return ""
	}
}

// String renders the pair as "a|b".
func (k PairKey) String() string {
	return k.A + "|" + k.B
}

// CorrelationMatrix holds pairwise correlation coefficients over a column
// set. Coefficients land in [0,1]: absolute Pearson for numeric pairs,
// Cramér's V for pairs with a categorical side. PValues carries the
// chi-square significance of every Cramér's V pair.
type CorrelationMatrix struct {
	Coefficients map[PairKey]float64
	PValues      map[PairKey]float64
}

// Coefficient returns the correlation between two columns, 0 when the pair
// was never measured.
func (m *CorrelationMatrix) Coefficient(a, b string) float64 {
	return m.Coefficients[NewPairKey(a, b)]
}

// PValue returns the chi-square significance for a categorical pair. Pairs
// measured with Pearson have no p-value and report 1.
func (m *CorrelationMatrix) PValue(a, b string) float64 {
	p, ok := m.PValues[NewPairKey(a, b)]
	if !ok {
		return 1
	}
	return p
}

// Len returns the number of measured pairs.
func (m *CorrelationMatrix) Len() int {
	return len(m.Coefficients)
}

// CorrelationCalculator computes pairwise column correlations from sampled
// data. Pairs where both columns are numeric use Pearson; any pair with a
// non-numeric side uses Cramér's V over a contingency table.
type CorrelationCalculator struct {
	logger *zap.Logger
}

// NewCorrelationCalculator creates a new correlation calculator.
func NewCorrelationCalculator(logger *zap.Logger) *CorrelationCalculator {
	return &CorrelationCalculator{
		logger: logger.Named("correlation"),
	}
}

// Compute measures every unordered column pair in columnData. Degenerate
// pairs (too few aligned values, a single category, zero variance) record a
// coefficient of 0 so one bad column never aborts the matrix.
func (c *CorrelationCalculator) Compute(columnData map[*models.ColumnInfo]*models.SampleData) *CorrelationMatrix {
	matrix := &CorrelationMatrix{
		Coefficients: make(map[PairKey]float64),
		PValues:      make(map[PairKey]float64),
	}

	columns := make([]*models.ColumnInfo, 0, len(columnData))
	for col := range columnData {
		columns = append(columns, col)
	}
	sort.Slice(columns, func(i, j int) bool {
		return columns[i].QualifiedName() < columns[j].QualifiedName()
	})

	for i := 0; i < len(columns); i++ {
		for j := i + 1; j < len(columns); j++ {
			a, b := columns[i], columns[j]
			key := NewPairKey(a.QualifiedName(), b.QualifiedName())

			if a.IsNumeric && b.IsNumeric {
				matrix.Coefficients[key] = c.pearson(columnData[a], columnData[b])
				continue
			}
			coeff, pValue := c.cramersV(columnData[a], columnData[b])
			matrix.Coefficients[key] = coeff
			matrix.PValues[key] = pValue
		}
	}

	c.logger.Debug("Computed correlation matrix",
		zap.Int("columns", len(columns)),
		zap.Int("pairs", matrix.Len()))

	return matrix
}

// pearson returns the absolute Pearson coefficient over positionally aligned
// numeric pairs. Fewer than minPearsonPairs coercible pairs, a zero-variance
// side or a NaN result all yield 0.
func (c *CorrelationCalculator) pearson(a, b *models.SampleData) float64 {
	n := len(a.Values)
	if len(b.Values) < n {
		n = len(b.Values)
	}

	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		x, okX := toFloat(a.Values[i])
		y, okY := toFloat(b.Values[i])
		if !okX || !okY {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if len(xs) < minPearsonPairs {
		return 0
	}

	r, err := stats.Correlation(xs, ys)
	if err != nil || math.IsNaN(r) {
		return 0
	}
	return math.Abs(r)
}

// cramersV measures association between two columns over positionally
// aligned non-null value pairs. It requires at least two distinct values per
// side. The second return is the chi-square p-value for the contingency
// table; degenerate tables report (0, 1).
func (c *CorrelationCalculator) cramersV(a, b *models.SampleData) (float64, float64) {
	n := len(a.Values)
	if len(b.Values) < n {
		n = len(b.Values)
	}

	xIndex := make(map[string]int)
	yIndex := make(map[string]int)
	type alignedPair struct{ x, y int }
	pairs := make([]alignedPair, 0, n)

	for i := 0; i < n; i++ {
		xVal, okX := category(a.Values[i])
		yVal, okY := category(b.Values[i])
		if !okX || !okY {
			continue
		}
		xi, seen := xIndex[xVal]
		if !seen {
			xi = len(xIndex)
			xIndex[xVal] = xi
		}
		yi, seen := yIndex[yVal]
		if !seen {
			yi = len(yIndex)
			yIndex[yVal] = yi
		}
		pairs = append(pairs, alignedPair{x: xi, y: yi})
	}

	if len(xIndex) < 2 || len(yIndex) < 2 {
		return 0, 1
	}

	table := make([][]int, len(xIndex))
	for i := range table {
		table[i] = make([]int, len(yIndex))
	}
	for _, p := range pairs {
		table[p.x][p.y]++
	}

	chiSq, df, total := chiSquare(table)
	if total == 0 || df <= 0 {
		return 0, 1
	}

	minDim := math.Min(float64(len(table)-1), float64(len(table[0])-1))
	v := math.Sqrt(chiSq / (float64(total) * minDim))
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	pValue := 1 - distuv.ChiSquared{K: df}.CDF(chiSq)
	return v, pValue
}

// chiSquare computes the statistic, degrees of freedom and sample total for
// a contingency table.
func chiSquare(table [][]int) (chiSq, df float64, total int) {
	rows := len(table)
	cols := len(table[0])

	rowTotals := make([]int, rows)
	colTotals := make([]int, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			rowTotals[i] += table[i][j]
			colTotals[j] += table[i][j]
			total += table[i][j]
		}
	}
	if total == 0 {
		return 0, 0, 0
	}

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			expected := float64(rowTotals[i]*colTotals[j]) / float64(total)
			if expected > 0 {
				observed := float64(table[i][j])
				chiSq += math.Pow(observed-expected, 2) / expected
			}
		}
	}

	df = float64((rows - 1) * (cols - 1))
	return chiSq, df, total
}

// toFloat coerces a sampled value to float64. Strings are parsed so numeric
// data sampled as text still correlates.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int16:
		return float64(t), true
	case int8:
		return float64(t), true
	case uint64:
		return float64(t), true
	case uint32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		return f, err == nil
	case fmt.Stringer:
		f, err := strconv.ParseFloat(t.String(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// category renders a sampled value as a categorical label. Nil values are
// excluded from the contingency table.
func category(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}
