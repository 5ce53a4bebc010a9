package persist

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"educare/ml"

	"go.uber.org/zap"
)

func record(name string, risk string) ml.Row {
	return ml.NewRow(
		ml.Field{Key: "name", Value: name},
		ml.Field{Key: "Attendance", Value: 90},
		ml.Field{Key: "risk", Value: risk},
	)
}

func TestLogReadMissing(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "predictions_saved.jsonl"), zap.NewNop())
	if _, err := l.ReadAll(); !errors.Is(err, ErrNoSavedPredictions) {
		t.Fatalf("expected ErrNoSavedPredictions, got %v", err)
	}
}

func TestLogAppendAndRead(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "nested", "predictions_saved.jsonl"), zap.NewNop())
	if err := l.Append([]ml.Row{record("a<b>", "Low"), record("b", "High")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append([]ml.Row{record("c", "Medium")}); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Count(string(data), "\n") != 3 {
		t.Fatalf("expected 3 lines, got %q", data)
	}
	if !strings.Contains(string(data), "a<b>") {
		t.Fatalf("expected unescaped html, got %q", data)
	}

	records, err := l.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if keys := records[0].Keys(); strings.Join(keys, ",") != "name,Attendance,risk" {
		t.Fatalf("key order not preserved: %v", keys)
	}
	if v, _ := records[2].Get("risk"); v != "Medium" {
		t.Fatalf("expected Medium, got %v", v)
	}
}

func TestLogSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions_saved.jsonl")
	content := `{"name":"a","risk":"Low"}
not json
[1,2,3]

{"name":"b","risk":"High"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, err := NewLog(path, zap.NewNop()).ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestLogReadsLongLines(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "predictions_saved.jsonl"), zap.NewNop())
	big := record("big", "High")
	big.Set("notes", strings.Repeat("x", 5<<20))
	if err := l.Append([]ml.Row{record("a", "Low"), big, record("b", "Medium")}); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := l.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if v, _ := records[1].Get("notes"); len(v.(string)) != 5<<20 {
		t.Fatalf("long field truncated to %d bytes", len(v.(string)))
	}
	if v, _ := records[2].Get("name"); v != "b" {
		t.Fatalf("expected record after the long line, got %v", v)
	}
}

func TestLogReadsUnterminatedLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions_saved.jsonl")
	content := "{\"name\":\"a\"}\n{\"name\":\"b\"}"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, err := NewLog(path, zap.NewNop()).ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestLogEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions_saved.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, err := NewLog(path, zap.NewNop()).ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty list, got %v", records)
	}
}

func TestLogConcurrentAppends(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "predictions_saved.jsonl"), zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Append([]ml.Row{record("x", "Low"), record("y", "High")}); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	records, err := l.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 40 {
		t.Fatalf("expected 40 records, got %d", len(records))
	}
}
