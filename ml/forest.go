package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// RandomForest is a bagged ensemble of DecisionTrees with balanced class
// weights: each class contributes n/(k*n_c) per sample, so rare classes
// weigh as much as common ones in split selection and leaf votes.
type RandomForest struct {
	NEstimators int            `json:"n_estimators"`
	MaxDepth    int            `json:"max_depth"`
	Seed        int64          `json:"seed"`
	NClasses    int            `json:"n_classes"`
	Trees       []DecisionTree `json:"trees"`
}

func NewRandomForest(params Params, seed int64) *RandomForest {
	n := params.NEstimators
	if n <= 0 {
		n = defaultEstimators
	}
	return &RandomForest{NEstimators: n, MaxDepth: params.depth(), Seed: seed}
}

// Fit trains the ensemble. labels are class indices in [0, nClasses).
func (f *RandomForest) Fit(features [][]float64, labels []int, nClasses int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if nClasses <= 0 {
		return errors.New("no classes to fit")
	}

	classWeight := balancedClassWeights(labels, nClasses)
	n := len(features)
	maxFeatures := int(math.Sqrt(float64(len(features[0]))))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	// per-tree seeds, drawn in tree order
	master := rand.New(rand.NewSource(f.Seed))
	seeds := make([]int64, f.NEstimators)
	for t := range seeds {
		seeds[t] = master.Int63()
	}

	f.NClasses = nClasses
	f.Trees = make([]DecisionTree, f.NEstimators)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range f.Trees {
		g.Go(func() error {
			treeRng := rand.New(rand.NewSource(seeds[t]))

			counts := make([]int, n)
			for draw := 0; draw < n; draw++ {
				counts[treeRng.Intn(n)]++
			}
			idx := make([]int, 0, n)
			weights := make([]float64, n)
			for i, c := range counts {
				if c == 0 {
					continue
				}
				idx = append(idx, i)
				weights[i] = float64(c) * classWeight[labels[i]]
			}

			cfg := treeConfig{
				maxDepth:    f.MaxDepth,
				maxFeatures: maxFeatures,
				nClasses:    nClasses,
				rng:         treeRng,
			}
			if err := f.Trees[t].fit(features, labels, weights, idx, cfg); err != nil {
				return fmt.Errorf("tree %d: %w", t, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Proba averages the leaf distributions of all trees.
func (f *RandomForest) Proba(features []float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, errors.New("model not trained")
	}
	out := make([]float64, f.NClasses)
	for t := range f.Trees {
		dist, err := f.Trees[t].predict(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", t, err)
		}
		if len(dist) != f.NClasses {
			return nil, fmt.Errorf("tree %d: leaf has %d classes, want %d", t, len(dist), f.NClasses)
		}
		for c, p := range dist {
			out[c] += p
		}
	}
	for c := range out {
		out[c] /= float64(len(f.Trees))
	}
	return out, nil
}

func balancedClassWeights(labels []int, nClasses int) []float64 {
	counts := make([]int, nClasses)
	for _, l := range labels {
		counts[l]++
	}
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	weights := make([]float64, nClasses)
	for c, count := range counts {
		if count > 0 {
			weights[c] = float64(len(labels)) / float64(present*count)
		}
	}
	return weights
}
