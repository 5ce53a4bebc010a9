package ml

import (
	"fmt"
	"strconv"
)

// heuristicProbs stands in for probabilities when the classifier has none.
var heuristicProbs = map[string]float64{
	LabelHigh:   0.9,
	LabelMedium: 0.5,
	LabelLow:    0.1,
}

// Predict scores rows and returns copies augmented with risk, prob,
// probability and probHigh. The first row must share at least one key with
// the trained features.
func Predict(model Classifier, meta Meta, rows []Row) ([]Row, error) {
	features := meta.Features
	if err := checkSchema(rows, features); err != nil {
		return nil, err
	}

	matrix := BuildFrame(rows, features)
	inv := meta.Inverse()
	highClass, hasHigh := meta.LabelMap[LabelHigh]
	proba, _ := model.(ProbabilisticClassifier)

	out := make([]Row, len(rows))
	for i, x := range matrix {
		class, err := model.Predict(x)
		if err != nil {
			return nil, &PredictionError{Row: i, Err: err}
		}
		label := DecodeLabel(inv, class)

		var prob, probHigh float64
		probs := rowProbabilities(proba, x)
		if len(probs) > 0 {
			classes := proba.Classes()
			prob = probFromClassColumn(classes, probs, class)
			if hasHigh {
				probHigh = probFromClassColumn(classes, probs, highClass)
			} else {
				probHigh = maxProb(probs)
			}
		} else {
			prob, probHigh = heuristicProb(label)
		}

		record := rows[i].Clone()
		record.Set("risk", label)
		record.Set("prob", prob)
		record.Set("probability", prob)
		record.Set("probHigh", probHigh)
		out[i] = record
	}
	return out, nil
}

func checkSchema(rows []Row, features []string) error {
	if len(features) == 0 {
		return nil
	}
	var first Row
	if len(rows) > 0 {
		first = rows[0]
	}
	for _, name := range features {
		if _, ok := first.Lookup(name); ok {
			return nil
		}
	}
	return &SchemaMismatchError{Expected: append([]string(nil), features...), Received: first.Keys()}
}

// rowProbabilities returns nil when the classifier has no probabilities or
// fails to produce them; the caller then falls back to the heuristic.
func rowProbabilities(model ProbabilisticClassifier, x []float64) []float64 {
	if model == nil {
		return nil
	}
	probs, err := model.PredictProba(x)
	if err != nil {
		return nil
	}
	return probs
}

// probFromClassColumn returns the probability in the column of class,
// matching classes by their printed form. Unresolvable columns fall back to
// the row maximum.
func probFromClassColumn(classes []any, probs []float64, class int) float64 {
	want := strconv.Itoa(class)
	for j, c := range classes {
		if fmt.Sprint(c) == want && j < len(probs) {
			return probs[j]
		}
	}
	return maxProb(probs)
}

func maxProb(probs []float64) float64 {
	best := 0.0
	for j, p := range probs {
		if j == 0 || p > best {
			best = p
		}
	}
	return best
}

// heuristicProb maps a decoded label to (prob, probHigh).
func heuristicProb(label string) (float64, float64) {
	prob := heuristicProbs[label]
	switch label {
	case LabelHigh:
		return prob, 0.9
	case LabelMedium:
		return prob, 0.5
	default:
		return prob, 0.1
	}
}
