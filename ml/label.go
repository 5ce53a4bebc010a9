package ml

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Risk categories, ordered by severity.
const (
	LabelLow    = "Low"
	LabelMedium = "Medium"
	LabelHigh   = "High"
)

// Labels lists the categories in encoding order.
func Labels() []string {
	return []string{LabelLow, LabelMedium, LabelHigh}
}

// LabelMap is the frozen encoding: Low=0, Medium=1, High=2.
func LabelMap() map[string]int {
	m := make(map[string]int, 3)
	for i, name := range Labels() {
		m[name] = i
	}
	return m
}

// InverseLabelMap keys the encoding by its decimal string, the form it
// takes in metadata JSON.
func InverseLabelMap() map[string]string {
	m := make(map[string]string, 3)
	for i, name := range Labels() {
		m[strconv.Itoa(i)] = name
	}
	return m
}

// NormalizeLabel maps a raw label onto a category. ok is false when the
// value carries no label at all.
//
// Numbers are binary: exactly 1 is High, anything else Low. Unrecognised
// strings, including the empty string, are Low.
func NormalizeLabel(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case bool:
		if x {
			return LabelHigh, true
		}
		return LabelLow, true
	case json.Number, float64, float32, int, int64:
		f, ok := ToFloat(x)
		if !ok {
			// NaN is how a missing value arrives from numeric columns
			return "", false
		}
		if f == 1 {
			return LabelHigh, true
		}
		return LabelLow, true
	case string:
		return normalizeLabelString(x), true
	default:
		return LabelLow, true
	}
}

func normalizeLabelString(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "h", "1", "true", "yes":
		return LabelHigh
	case "medium", "med", "m":
		return LabelMedium
	default:
		return LabelLow
	}
}

// DecodeLabel looks a predicted class up in inv, falling back to the
// class number itself.
func DecodeLabel(inv map[string]string, class int) string {
	key := strconv.Itoa(class)
	if name, ok := inv[key]; ok {
		return name
	}
	return key
}

// labelValue picks where a request keeps its labels: the exact "label"
// key when any row has a non-null value for it, otherwise the first key
// folding to "risk".
func labelValue(rows []Row) func(Row) any {
	for _, row := range rows {
		if v, ok := row.Get("label"); ok && v != nil {
			return func(r Row) any {
				v, _ := r.Get("label")
				return v
			}
		}
	}
	return func(r Row) any {
		v, _ := r.Lookup("risk")
		return v
	}
}
