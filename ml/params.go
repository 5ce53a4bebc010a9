package ml

import "math"

// Params are the forest hyperparameters. A nil MaxDepth grows trees until
// leaves are pure.
type Params struct {
	NEstimators int  `json:"n_estimators"`
	MaxDepth    *int `json:"max_depth"`
}

const (
	defaultEstimators = 200
	// dials above this grow unbounded trees
	unboundedDepthDial = 0.7
)

// ParamsForAccuracy maps the operator's accuracy dial onto forest size and
// depth. nil means unset and yields 200 unbounded trees; otherwise the dial
// is clamped to [0,1], estimators run 50..500 and depth 3..10 until the dial
// passes 0.7.
func ParamsForAccuracy(dial *float64) Params {
	if dial == nil {
		return Params{NEstimators: defaultEstimators}
	}
	a := *dial
	if math.IsNaN(a) {
		return Params{NEstimators: defaultEstimators}
	}
	if a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}
	p := Params{NEstimators: int(50 + a*450)}
	if a <= unboundedDepthDial {
		depth := int(3 + a*10)
		p.MaxDepth = &depth
	}
	return p
}

func (p Params) depth() int {
	if p.MaxDepth == nil {
		return 0
	}
	return *p.MaxDepth
}
