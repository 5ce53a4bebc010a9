package ml

// Classifier scores one feature vector at a time.
type Classifier interface {
	Predict(features []float64) (int, error)
}

// ProbabilisticClassifier also exposes per-class probabilities. Column j of
// PredictProba belongs to Classes()[j]. Classes are untyped because a
// decoded artifact may carry them as ints, floats or strings.
type ProbabilisticClassifier interface {
	Classifier
	PredictProba(features []float64) ([]float64, error)
	Classes() []any
}
