package ml

import (
	"encoding/json"
	"math"
	"testing"
)

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   string
		labels bool
	}{
		{"nil is unlabeled", nil, "", false},
		{"NaN is unlabeled", math.NaN(), "", false},
		{"numeric one", json.Number("1"), LabelHigh, true},
		{"numeric zero", json.Number("0"), LabelLow, true},
		{"numeric two is not one", json.Number("2"), LabelLow, true},
		{"float one", 1.0, LabelHigh, true},
		{"bool true", true, LabelHigh, true},
		{"bool false", false, LabelLow, true},
		{"High", "High", LabelHigh, true},
		{"h", " h ", LabelHigh, true},
		{"yes", "YES", LabelHigh, true},
		{"string one", "1", LabelHigh, true},
		{"medium", "Medium", LabelMedium, true},
		{"med", "med", LabelMedium, true},
		{"m", "M", LabelMedium, true},
		{"low", "low", LabelLow, true},
		{"garbage falls back to Low", "unknown", LabelLow, true},
		{"empty string falls back to Low", "", LabelLow, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeLabel(tt.in)
			if got != tt.want || ok != tt.labels {
				t.Fatalf("NormalizeLabel(%v) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.labels)
			}
		})
	}
}

func TestLabelMapRoundTrip(t *testing.T) {
	encoding := LabelMap()
	inv := InverseLabelMap()
	for _, name := range Labels() {
		if got := DecodeLabel(inv, encoding[name]); got != name {
			t.Fatalf("expected %s, got %s", name, got)
		}
	}
	if encoding[LabelLow] >= encoding[LabelMedium] || encoding[LabelMedium] >= encoding[LabelHigh] {
		t.Fatalf("encoding must follow severity: %v", encoding)
	}
}

func TestDecodeLabelFallsBackToNumber(t *testing.T) {
	if got := DecodeLabel(InverseLabelMap(), 7); got != "7" {
		t.Fatalf("expected \"7\", got %q", got)
	}
}

func TestLabelValuePrefersLabelKey(t *testing.T) {
	rows := []Row{
		NewRow(Field{Key: "label", Value: "High"}, Field{Key: "Risk", Value: "Low"}),
		NewRow(Field{Key: "Risk", Value: "Medium"}),
	}
	labelOf := labelValue(rows)
	if v := labelOf(rows[0]); v != "High" {
		t.Fatalf("expected label column, got %v", v)
	}
	if v := labelOf(rows[1]); v != nil {
		t.Fatalf("rows without label must be unlabeled, got %v", v)
	}

	riskOnly := []Row{NewRow(Field{Key: "RISK", Value: "Medium"})}
	if v := labelValue(riskOnly)(riskOnly[0]); v != "Medium" {
		t.Fatalf("expected risk fallback, got %v", v)
	}
}
