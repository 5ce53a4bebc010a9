package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

const scenario = `[
	{"Attendance":90,"CGPA":8.5,"Stress":2,"label":"Low"},
	{"Attendance":40,"CGPA":4.0,"Stress":9,"label":"High"},
	{"Attendance":70,"CGPA":6.0,"Stress":5,"label":"Medium"}
]`

func TestTrainScenario(t *testing.T) {
	result, err := Train(rowsFromJSON(t, scenario), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta := result.Meta
	if meta.TrainingSize != 3 {
		t.Fatalf("expected training size 3, got %d", meta.TrainingSize)
	}
	for _, name := range Labels() {
		if meta.ClassCounts[name] != 1 {
			t.Fatalf("expected one %s example, got %v", name, meta.ClassCounts)
		}
	}
	if result.CVScore != nil {
		t.Fatal("cross-validation needs at least 10 rows")
	}
	if result.Params.NEstimators != 200 || result.Params.MaxDepth != nil {
		t.Fatalf("unexpected params: %+v", result.Params)
	}
	if len(meta.Features) != 3 || meta.Features[0] != "Attendance" {
		t.Fatalf("unexpected features: %v", meta.Features)
	}
}

func TestTrainDropsUnlabeledRows(t *testing.T) {
	rows := rowsFromJSON(t, `[
		{"attendance":90,"cgpa":8,"stress":2,"label":0},
		{"attendance":30,"cgpa":3,"stress":9,"label":1},
		{"attendance":60,"cgpa":6,"stress":5,"label":null},
		{"attendance":55,"cgpa":5,"stress":6}
	]`)
	result, err := Train(rows, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Meta.TrainingSize != 2 {
		t.Fatalf("expected 2 labeled rows, got %d", result.Meta.TrainingSize)
	}
	if result.Meta.ClassCounts[LabelHigh] != 1 || result.Meta.ClassCounts[LabelLow] != 1 {
		t.Fatalf("unexpected class counts: %v", result.Meta.ClassCounts)
	}
}

func TestTrainUsesRiskColumn(t *testing.T) {
	rows := rowsFromJSON(t, `[
		{"Attendance":90,"CGPA":8,"Stress":2,"Risk":"Low"},
		{"Attendance":30,"CGPA":3,"Stress":9,"Risk":"High"}
	]`)
	result, err := Train(rows, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Meta.TrainingSize != 2 {
		t.Fatalf("expected 2 rows, got %d", result.Meta.TrainingSize)
	}
}

func TestTrainInsufficientData(t *testing.T) {
	rows := rowsFromJSON(t, `[{"Attendance":90,"label":"Low"},{"Attendance":40}]`)
	if _, err := Train(rows, nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := Train(nil, nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestTrainComputesCVScore(t *testing.T) {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < 12; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		if i%2 == 0 {
			fmt.Fprintf(&b, `{"Attendance":%d,"CGPA":8.%d,"Stress":2,"label":"Low"}`, 85+i, i%10)
		} else {
			fmt.Fprintf(&b, `{"Attendance":%d,"CGPA":3.%d,"Stress":9,"label":"High"}`, 35+i, i%10)
		}
	}
	b.WriteString("]")

	result, err := Train(rowsFromJSON(t, b.String()), dial(0.4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CVScore == nil {
		t.Fatalf("expected a cv score, validation error: %v", result.CVErr)
	}
	if *result.CVScore < 0 || *result.CVScore > 1 {
		t.Fatalf("cv score out of range: %v", *result.CVScore)
	}
	if result.Meta.CVScore == nil {
		t.Fatal("expected cv score in metadata")
	}
}

func TestTrainMetaJSONShape(t *testing.T) {
	result, err := Train(rowsFromJSON(t, scenario), dial(0.9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload, err := json.Marshal(result.Meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inv, ok := decoded["inv_label_map"].(map[string]any)
	if !ok || inv["2"] != "High" {
		t.Fatalf("expected inv_label_map keyed by string codes, got %v", decoded["inv_label_map"])
	}
	params := decoded["params"].(map[string]any)
	if params["max_depth"] != nil {
		t.Fatalf("expected null max_depth for dial 0.9, got %v", params["max_depth"])
	}
}
