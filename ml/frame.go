package ml

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultFeatures is the feature schema every artifact is trained on.
func DefaultFeatures() []string {
	return []string{"Attendance", "CGPA", "Stress"}
}

// ToFloat coerces a decoded JSON value to a finite float. ok is false for
// nulls, non-numeric strings, NaN, infinities and composite values.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// presentColumns reports, per feature, whether any row carries the feature
// under any casing.
func presentColumns(rows []Row, features []string) []bool {
	present := make([]bool, len(features))
	for j, name := range features {
		for _, row := range rows {
			if _, ok := row.Lookup(name); ok {
				present[j] = true
				break
			}
		}
	}
	return present
}

// cells extracts the raw matrix and a mask of usable cells.
func cells(rows []Row, features []string) ([][]float64, [][]bool) {
	present := presentColumns(rows, features)
	matrix := make([][]float64, len(rows))
	valid := make([][]bool, len(rows))
	for i, row := range rows {
		matrix[i] = make([]float64, len(features))
		valid[i] = make([]bool, len(features))
		for j, name := range features {
			if !present[j] {
				// absent from the whole request: constant zero column
				valid[i][j] = true
				continue
			}
			v, ok := row.Lookup(name)
			if !ok {
				continue
			}
			matrix[i][j], valid[i][j] = ToFloat(v)
		}
	}
	return matrix, valid
}

// BuildFrame turns rows into a matrix with one column per feature, in
// feature order. Missing or malformed cells become zero.
func BuildFrame(rows []Row, features []string) [][]float64 {
	matrix, _ := cells(rows, features)
	return matrix
}

// BuildTrainingFrame is BuildFrame with median imputation: missing or
// malformed cells take the median of the usable values in their column
// (zero when the column has none).
func BuildTrainingFrame(rows []Row, features []string) [][]float64 {
	matrix, valid := cells(rows, features)
	for j := range features {
		values := make([]float64, 0, len(rows))
		for i := range rows {
			if valid[i][j] {
				values = append(values, matrix[i][j])
			}
		}
		fill := median(values)
		for i := range rows {
			if !valid[i][j] {
				matrix[i][j] = fill
			}
		}
	}
	return matrix
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
