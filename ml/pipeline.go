package ml

import (
	"errors"
	"fmt"
	"sort"
)

// forestSeed keeps training reproducible for a given dataset and dial.
const forestSeed = 42

// Pipeline is the trained artifact: standardisation followed by a random
// forest. ClassLabels maps forest class indices back to encoded labels.
type Pipeline struct {
	Generation  string         `json:"generation"`
	Params      Params         `json:"params"`
	Scaler      StandardScaler `json:"scaler"`
	Forest      RandomForest   `json:"forest"`
	ClassLabels []int          `json:"classes"`
}

func NewPipeline(params Params) *Pipeline {
	return &Pipeline{Params: params, Forest: *NewRandomForest(params, forestSeed)}
}

// Fit trains the scaler and forest. labels are encoded categories.
func (p *Pipeline) Fit(features [][]float64, labels []int) error {
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if err := p.Scaler.Fit(features); err != nil {
		return err
	}
	scaled, err := p.Scaler.TransformAll(features)
	if err != nil {
		return err
	}

	p.ClassLabels = distinctSorted(labels)
	index := make(map[int]int, len(p.ClassLabels))
	for i, l := range p.ClassLabels {
		index[l] = i
	}
	encoded := make([]int, len(labels))
	for i, l := range labels {
		encoded[i] = index[l]
	}
	return p.Forest.Fit(scaled, encoded, len(p.ClassLabels))
}

// PredictProba returns one probability per entry of Classes.
func (p *Pipeline) PredictProba(features []float64) ([]float64, error) {
	scaled, err := p.Scaler.Transform(features)
	if err != nil {
		return nil, err
	}
	return p.Forest.Proba(scaled)
}

// Predict returns the encoded label with the highest probability; ties go
// to the lower class.
func (p *Pipeline) Predict(features []float64) (int, error) {
	proba, err := p.PredictProba(features)
	if err != nil {
		return 0, err
	}
	if len(proba) != len(p.ClassLabels) {
		return 0, fmt.Errorf("forest returned %d probabilities for %d classes", len(proba), len(p.ClassLabels))
	}
	best := 0
	for c := range proba {
		if proba[c] > proba[best] {
			best = c
		}
	}
	return p.ClassLabels[best], nil
}

func (p *Pipeline) Classes() []any {
	out := make([]any, len(p.ClassLabels))
	for i, c := range p.ClassLabels {
		out[i] = c
	}
	return out
}

// Validate checks a decoded pipeline is usable.
func (p *Pipeline) Validate() error {
	switch {
	case len(p.Scaler.Mean) == 0 || len(p.Scaler.Mean) != len(p.Scaler.Scale):
		return errors.New("artifact scaler is missing or malformed")
	case len(p.Forest.Trees) == 0:
		return errors.New("artifact forest has no trees")
	case len(p.ClassLabels) == 0 || len(p.ClassLabels) != p.Forest.NClasses:
		return errors.New("artifact classes do not match forest")
	}
	return nil
}

func distinctSorted(values []int) []int {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, 3)
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
