package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"educare/artifact"
	"educare/db"
	"educare/lifecycle"
	"educare/monitoring"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const scenario = `[
	{"Attendance":90,"CGPA":8.5,"Stress":2,"label":"Low"},
	{"Attendance":40,"CGPA":4.0,"Stress":9,"label":"High"},
	{"Attendance":70,"CGPA":6.0,"Stress":5,"label":"Medium"}
]`

func setup(t *testing.T, hub *monitoring.Hub) http.Handler {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	opts := lifecycle.Options{Store: store, Logger: zap.NewNop()}
	if hub != nil {
		opts.Notifier = hub
	}
	e, err := lifecycle.New(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	SetEngine(e)
	SetEventHub(hub)
	t.Cleanup(func() {
		SetEngine(nil)
		SetEventHub(nil)
	})
	return NewHandler(DefaultServerConfig(), zap.NewNop())
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var payload map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid json %q: %v", w.Body.String(), err)
		}
	}
	return w, payload
}

func TestHealthHandler(t *testing.T) {
	h := setup(t, nil)
	w, payload := do(t, h, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected body %v", payload)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestTrainHandler(t *testing.T) {
	h := setup(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantTrees  float64
	}{
		{"bare array", scenario, http.StatusOK, 200},
		{"object with accuracy", `{"examples":` + scenario + `,"accuracy":0}`, http.StatusOK, 50},
		{"string accuracy", `{"examples":` + scenario + `,"accuracy":"1"}`, http.StatusOK, 500},
		{"unusable accuracy", `{"examples":` + scenario + `,"accuracy":"high"}`, http.StatusOK, 200},
		{"invalid json", `{"examples":`, http.StatusBadRequest, 0},
		{"missing examples", `{"rows":[]}`, http.StatusBadRequest, 0},
		{"scalar body", `42`, http.StatusBadRequest, 0},
		{"one labeled row", `[{"Attendance":90,"label":"Low"},{"Attendance":40}]`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, payload := do(t, h, http.MethodPost, "/api/train", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if payload["error"] == nil {
					t.Fatalf("expected an error message, got %v", payload)
				}
				return
			}
			params := payload["params"].(map[string]any)
			if params["n_estimators"] != tt.wantTrees {
				t.Fatalf("expected %v trees, got %v", tt.wantTrees, params["n_estimators"])
			}
			if payload["training_size"] != float64(3) {
				t.Fatalf("expected training_size 3, got %v", payload["training_size"])
			}
			if _, ok := payload["cv_score"]; !ok {
				t.Fatal("cv_score should always be present")
			}
		})
	}
}

func TestTrainHandlerHints(t *testing.T) {
	h := setup(t, nil)
	_, payload := do(t, h, http.MethodPost, "/api/train", `{"rows":[]}`)
	if payload["sample"] == nil || payload["hint"] == nil {
		t.Fatalf("expected hint and sample, got %v", payload)
	}
	if payload["received_type"] != "object" {
		t.Fatalf("unexpected received_type %v", payload["received_type"])
	}
}

func TestPredictBeforeTraining(t *testing.T) {
	h := setup(t, nil)
	w, _ := do(t, h, http.MethodPost, "/api/predict", `{"Attendance":85}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	w, _ = do(t, h, http.MethodGet, "/api/model_info", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPredictValidation(t *testing.T) {
	h := setup(t, nil)
	if w, _ := do(t, h, http.MethodPost, "/api/train", scenario); w.Code != http.StatusOK {
		t.Fatalf("train failed: %d", w.Code)
	}

	tests := []struct {
		name string
		body string
		key  string
	}{
		{"invalid json", `[{`, "hint"},
		{"null body", `null`, "hint"},
		{"array of scalars", `[1,2]`, "expected_sample"},
		{"unknown features", `[{"height":180}]`, "expected_keys"},
		{"empty array", `[]`, "expected_keys"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, payload := do(t, h, http.MethodPost, "/api/predict", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if payload[tt.key] == nil {
				t.Fatalf("expected %q in %v", tt.key, payload)
			}
		})
	}
}

func TestModelLifecycle(t *testing.T) {
	h := setup(t, nil)

	if w, _ := do(t, h, http.MethodPost, "/api/train", scenario); w.Code != http.StatusOK {
		t.Fatalf("train failed: %d", w.Code)
	}

	w, payload := do(t, h, http.MethodGet, "/api/model_info", "")
	if w.Code != http.StatusOK {
		t.Fatalf("model info: %d", w.Code)
	}
	meta := payload["meta"].(map[string]any)
	if meta["training_size"] != float64(3) {
		t.Fatalf("unexpected meta %v", meta)
	}
	if classes := payload["classes"].([]any); len(classes) != 3 {
		t.Fatalf("unexpected classes %v", classes)
	}

	// not saved without asking
	w, payload = do(t, h, http.MethodPost, "/api/predict", `[{"Attendance":85,"CGPA":7.2,"Stress":3}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("predict: %d %s", w.Code, w.Body.String())
	}
	if payload["note"] == nil || payload["savedFile"] != nil {
		t.Fatalf("unexpected predict body %v", payload)
	}
	if w, _ := do(t, h, http.MethodGet, "/api/predictions_saved", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before saving, got %d", w.Code)
	}

	// body flag
	w, payload = do(t, h, http.MethodPost, "/api/predict", `{"name":"Asha","Attendance":40,"CGPA":4.1,"Stress":9,"save":true}`)
	if w.Code != http.StatusOK || payload["savedFile"] == nil || payload["savedIds"] != nil {
		t.Fatalf("expected a saved file: %d %v", w.Code, payload)
	}
	preds := payload["predictions"].([]any)
	rec := preds[0].(map[string]any)
	for _, key := range []string{"risk", "prob", "probability", "probHigh"} {
		if _, ok := rec[key]; !ok {
			t.Fatalf("prediction missing %s: %v", key, rec)
		}
	}
	if rec["name"] != "Asha" {
		t.Fatalf("input fields should be echoed: %v", rec)
	}

	// query flag
	if w, payload := do(t, h, http.MethodPost, "/api/predict?save=True", `[{"Attendance":85}]`); payload["savedFile"] == nil {
		t.Fatalf("expected a saved file: %d %v", w.Code, payload)
	}

	w, payload = do(t, h, http.MethodGet, "/api/predictions_saved", "")
	if w.Code != http.StatusOK {
		t.Fatalf("predictions saved: %d", w.Code)
	}
	if saved := payload["predictions"].([]any); len(saved) != 2 {
		t.Fatalf("expected 2 saved records, got %d", len(saved))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/download_predictions", nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("download: %d", rec2.Code)
	}
	if !strings.Contains(rec2.Header().Get("Content-Disposition"), artifact.PredictionsFile) {
		t.Fatalf("unexpected disposition %q", rec2.Header().Get("Content-Disposition"))
	}
	if lines := strings.Count(rec2.Body.String(), "\n"); lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}

	w, payload = do(t, h, http.MethodPost, "/api/reset_model", "")
	if w.Code != http.StatusOK || payload["message"] != "Reset completed" {
		t.Fatalf("reset: %d %v", w.Code, payload)
	}
	if removed := payload["removed"].([]any); len(removed) != 3 {
		t.Fatalf("expected 3 removed files, got %v", removed)
	}

	w, payload = do(t, h, http.MethodPost, "/api/reset_model", "")
	if removed := payload["removed"].([]any); w.Code != http.StatusOK || len(removed) != 0 {
		t.Fatalf("second reset should remove nothing: %d %v", w.Code, payload)
	}
	if w, _ := do(t, h, http.MethodGet, "/api/download_predictions", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after reset, got %d", w.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	h := setup(t, nil)
	do(t, h, http.MethodPost, "/api/train", scenario)
	w, payload := do(t, h, http.MethodGet, "/api/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	counters := payload["counters"].([]any)
	if len(counters) == 0 {
		t.Fatal("expected the training to be counted")
	}
}

func TestTrainingLogDisabled(t *testing.T) {
	h := setup(t, nil)
	if w, _ := do(t, h, http.MethodGet, "/api/training_log", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a database, got %d", w.Code)
	}
}

type fakeDirectory struct {
	limits []int
	list   []db.Student
}

func (f *fakeDirectory) Students(_ context.Context, limit int) ([]db.Student, error) {
	f.limits = append(f.limits, limit)
	if len(f.list) > limit {
		return f.list[:limit], nil
	}
	return f.list, nil
}

func TestStudentsHandler(t *testing.T) {
	h := setup(t, nil)
	if w, _ := do(t, h, http.MethodGet, "/api/students", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a database, got %d", w.Code)
	}

	dir := &fakeDirectory{list: []db.Student{
		{ID: "s1", Name: "Asha", Risk: "High"},
		{ID: "s2", Name: "Ben", Risk: "Low"},
	}}
	SetStudentDirectory(dir)
	t.Cleanup(func() { SetStudentDirectory(nil) })

	tests := []struct {
		target    string
		code      int
		wantLimit int
		count     int
	}{
		{"/api/students", http.StatusOK, defaultStudentLimit, 2},
		{"/api/students?limit=1", http.StatusOK, 1, 1},
		{"/api/students?limit=5000", http.StatusOK, maxStudentLimit, 2},
		{"/api/students?limit=0", http.StatusBadRequest, 0, 0},
		{"/api/students?limit=abc", http.StatusBadRequest, 0, 0},
	}
	for _, tt := range tests {
		dir.limits = nil
		w, payload := do(t, h, http.MethodGet, tt.target, "")
		if w.Code != tt.code {
			t.Fatalf("%s: expected %d, got %d", tt.target, tt.code, w.Code)
		}
		if tt.code != http.StatusOK {
			if len(dir.limits) != 0 {
				t.Fatalf("%s: store should not be queried", tt.target)
			}
			continue
		}
		if len(dir.limits) != 1 || dir.limits[0] != tt.wantLimit {
			t.Fatalf("%s: expected limit %d, got %v", tt.target, tt.wantLimit, dir.limits)
		}
		if got := len(payload["students"].([]any)); got != tt.count {
			t.Fatalf("%s: expected %d students, got %d", tt.target, tt.count, got)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	h := setup(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRequestTooLarge(t *testing.T) {
	setup(t, nil)
	cfg := DefaultServerConfig()
	cfg.MaxBodyBytes = 16
	h := NewHandler(cfg, zap.NewNop())
	w, _ := do(t, h, http.MethodPost, "/api/train", scenario)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestEventStream(t *testing.T) {
	hub := monitoring.NewHub(zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(setup(t, hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(srv.URL+"/api/train", "application/json", strings.NewReader(scenario))
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev monitoring.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != monitoring.ModelTrained {
		t.Fatalf("expected %s, got %s", monitoring.ModelTrained, ev.Type)
	}
}
