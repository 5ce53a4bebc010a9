package ml

import (
	"fmt"
	"time"
)

// TrainResult is what a training run produces. The pipeline and metadata
// still need to be written to an artifact store.
type TrainResult struct {
	Pipeline *Pipeline
	Meta     Meta
	Params   Params
	// CVScore is nil when the set was too small or validation failed;
	// CVErr then says why, if anything went wrong.
	CVScore *float64
	CVErr   error
}

// minCVRows is the smallest training set that gets a cross-validation score.
const minCVRows = 10

// Train fits a pipeline on the labeled examples. Rows without a usable
// label are dropped; missing feature cells take the column median.
func Train(examples []Row, dial *float64) (*TrainResult, error) {
	features := DefaultFeatures()
	labelOf := labelValue(examples)
	encoding := LabelMap()

	labeled := make([]Row, 0, len(examples))
	labels := make([]int, 0, len(examples))
	counts := make(map[string]int)
	for _, row := range examples {
		name, ok := NormalizeLabel(labelOf(row))
		if !ok {
			continue
		}
		labeled = append(labeled, row)
		labels = append(labels, encoding[name])
		counts[name]++
	}
	if len(labeled) < 2 {
		return nil, ErrInsufficientData
	}

	matrix := BuildTrainingFrame(labeled, features)
	params := ParamsForAccuracy(dial)

	pipeline := NewPipeline(params)
	if err := pipeline.Fit(matrix, labels); err != nil {
		return nil, fmt.Errorf("fit pipeline: %w", err)
	}

	result := &TrainResult{
		Pipeline: pipeline,
		Params:   params,
		Meta: Meta{
			Features:     features,
			LabelMap:     encoding,
			InvLabelMap:  InverseLabelMap(),
			TrainingSize: len(labeled),
			ClassCounts:  counts,
			TrainedAt:    time.Now().UTC(),
		},
	}
	result.Meta.Params = &result.Params

	if len(labeled) >= minCVRows {
		score, err := crossValidate(params, matrix, labels, cvFolds(len(labeled)))
		if err != nil {
			result.CVErr = err
		} else {
			result.CVScore = &score
			result.Meta.CVScore = &score
		}
	}
	return result, nil
}
