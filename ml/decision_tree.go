package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// DecisionTree is a CART classifier stored as a flat node array so it
// serialises as plain JSON. Leaves hold the weighted class distribution of
// the training samples that reached them.
type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	IsLeaf     bool      `json:"is_leaf"`
	Value      []float64 `json:"value,omitempty"`
}

type treeConfig struct {
	maxDepth    int // 0 grows until leaves are pure
	maxFeatures int
	nClasses    int
	rng         *rand.Rand
}

type treeBuilder struct {
	treeConfig
	features [][]float64
	labels   []int
	weights  []float64
	nodes    []TreeNode
}

// fit grows the tree over the samples in idx. labels are class indices in
// [0, nClasses) and weights are per-sample.
func (dt *DecisionTree) fit(features [][]float64, labels []int, weights []float64, idx []int, cfg treeConfig) error {
	if len(idx) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) || len(labels) != len(weights) {
		return errors.New("features and labels size mismatch")
	}
	if cfg.maxFeatures <= 0 {
		cfg.maxFeatures = len(features[0])
	}
	b := &treeBuilder{treeConfig: cfg, features: features, labels: labels, weights: weights}
	b.build(idx, 0)
	dt.Nodes = b.nodes
	return nil
}

// predict walks to a leaf and returns its class distribution.
func (dt *DecisionTree) predict(features []float64) ([]float64, error) {
	if len(dt.Nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

func (b *treeBuilder) build(idx []int, depth int) int {
	dist, total := b.distribution(idx)
	node := len(b.nodes)
	b.nodes = append(b.nodes, leafNode(dist, total))

	if (b.maxDepth > 0 && depth >= b.maxDepth) || len(idx) < 2 || isPure(dist) {
		return node
	}

	feature, threshold, ok := b.findBestSplit(idx, dist, total)
	if !ok {
		return node
	}
	left, right := b.partition(idx, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return node
	}

	leftChild := b.build(left, depth+1)
	rightChild := b.build(right, depth+1)
	b.nodes[node] = TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		LeftChild:  leftChild,
		RightChild: rightChild,
	}
	return node
}

func leafNode(dist []float64, total float64) TreeNode {
	value := make([]float64, len(dist))
	for c, w := range dist {
		if total > 0 {
			value[c] = w / total
		} else {
			value[c] = 1 / float64(len(dist))
		}
	}
	return TreeNode{FeatureIdx: -1, LeftChild: -1, RightChild: -1, IsLeaf: true, Value: value}
}

func (b *treeBuilder) distribution(idx []int) ([]float64, float64) {
	dist := make([]float64, b.nClasses)
	total := 0.0
	for _, i := range idx {
		dist[b.labels[i]] += b.weights[i]
		total += b.weights[i]
	}
	return dist, total
}

// findBestSplit draws features in random order and scores every threshold
// between distinct neighbouring values of the first maxFeatures
// non-constant ones.
func (b *treeBuilder) findBestSplit(idx []int, parent []float64, total float64) (int, float64, bool) {
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	sorted := make([]int, len(idx))
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)

	evaluated := 0
	for _, featureIdx := range b.rng.Perm(len(b.features[idx[0]])) {
		if evaluated >= b.maxFeatures {
			break
		}
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.features[sorted[i]][featureIdx] < b.features[sorted[j]][featureIdx]
		})
		if b.features[sorted[0]][featureIdx] == b.features[sorted[len(sorted)-1]][featureIdx] {
			continue
		}
		evaluated++

		for c := range left {
			left[c] = 0
			right[c] = parent[c]
		}
		leftWeight, rightWeight := 0.0, total
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			w := b.weights[i]
			left[b.labels[i]] += w
			right[b.labels[i]] -= w
			leftWeight += w
			rightWeight -= w

			value := b.features[i][featureIdx]
			next := b.features[sorted[k+1]][featureIdx]
			if value == next {
				continue
			}
			impurity := (leftWeight*gini(left, leftWeight) + rightWeight*gini(right, rightWeight)) / total
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = value + (next-value)/2
				if bestThreshold == next {
					bestThreshold = value
				}
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func (b *treeBuilder) partition(idx []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func gini(dist []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	impurity := 1.0
	for _, w := range dist {
		p := w / total
		impurity -= p * p
	}
	return impurity
}

func isPure(dist []float64) bool {
	seen := 0
	for _, w := range dist {
		if w > 0 {
			seen++
		}
	}
	return seen <= 1
}
