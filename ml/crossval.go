package ml

import (
	"errors"
	"fmt"
)

// cvFolds is the fold count used for a training set of n rows.
func cvFolds(n int) int {
	k := n / 10
	if k < 2 {
		k = 2
	}
	if k > 5 {
		k = 5
	}
	return k
}

// stratifiedFolds splits sample indices into k test folds, dealing each
// class's members round-robin so every fold keeps roughly the class mix.
// Indices keep their original order inside each class.
func stratifiedFolds(labels []int, k int) ([][]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}
	if len(labels) < k {
		return nil, fmt.Errorf("cannot split %d samples into %d folds", len(labels), k)
	}
	byClass := make(map[int][]int)
	largest := 0
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
		if len(byClass[l]) > largest {
			largest = len(byClass[l])
		}
	}
	if largest < k {
		return nil, fmt.Errorf("n_splits=%d cannot be greater than the number of members in each class", k)
	}

	folds := make([][]int, k)
	pos := 0
	for _, class := range distinctSorted(labels) {
		for _, i := range byClass[class] {
			folds[pos%k] = append(folds[pos%k], i)
			pos++
		}
	}
	return folds, nil
}

// crossValidate fits a fresh pipeline per fold and returns the mean
// held-out accuracy.
func crossValidate(params Params, features [][]float64, labels []int, k int) (float64, error) {
	folds, err := stratifiedFolds(labels, k)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for f, test := range folds {
		inTest := make(map[int]bool, len(test))
		for _, i := range test {
			inTest[i] = true
		}
		var trainX [][]float64
		var trainY []int
		for i := range features {
			if !inTest[i] {
				trainX = append(trainX, features[i])
				trainY = append(trainY, labels[i])
			}
		}
		if len(trainX) == 0 || len(test) == 0 {
			return 0, errors.New("empty cross-validation split")
		}

		model := NewPipeline(params)
		if err := model.Fit(trainX, trainY); err != nil {
			return 0, fmt.Errorf("fold %d: %w", f, err)
		}
		correct := 0
		for _, i := range test {
			got, err := model.Predict(features[i])
			if err != nil {
				return 0, fmt.Errorf("fold %d: %w", f, err)
			}
			if got == labels[i] {
				correct++
			}
		}
		total += float64(correct) / float64(len(test))
	}
	return total / float64(len(folds)), nil
}
