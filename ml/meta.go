package ml

import (
	"strconv"
	"time"
)

// Meta describes the artifact it is written with: feature order, label
// encoding and training statistics. Generation ties it to one artifact.
type Meta struct {
	Generation   string            `json:"generation"`
	Features     []string          `json:"features"`
	LabelMap     map[string]int    `json:"label_map"`
	InvLabelMap  map[string]string `json:"inv_label_map"`
	TrainingSize int               `json:"training_size"`
	ClassCounts  map[string]int    `json:"class_counts"`
	TrainedAt    time.Time         `json:"trained_at"`
	Params       *Params           `json:"params,omitempty"`
	CVScore      *float64          `json:"cv_score,omitempty"`
}

// Inverse returns the decoding table, deriving it from LabelMap when the
// metadata predates inv_label_map.
func (m Meta) Inverse() map[string]string {
	if len(m.InvLabelMap) > 0 {
		return m.InvLabelMap
	}
	inv := make(map[string]string, len(m.LabelMap))
	for name, code := range m.LabelMap {
		inv[strconv.Itoa(code)] = name
	}
	return inv
}
