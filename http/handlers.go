package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"educare/artifact"
	"educare/db"
	"educare/lifecycle"
	"educare/ml"
	"educare/monitoring"
	"educare/persist"

	"go.uber.org/zap"
)

// TrainingHistory lists recorded training runs.
type TrainingHistory interface {
	LoadTrainingLog(ctx context.Context) ([]db.TrainingLog, error)
}

// StudentDirectory lists students saved by the primary store.
type StudentDirectory interface {
	Students(ctx context.Context, limit int) ([]db.Student, error)
}

const (
	defaultStudentLimit = 100
	maxStudentLimit     = 1000
)

var (
	engine   *lifecycle.Engine
	eventHub *monitoring.Hub
	history  TrainingHistory
	students StudentDirectory
	logger   = zap.NewNop()
)

func SetEngine(e *lifecycle.Engine) { engine = e }

func SetEventHub(h *monitoring.Hub) { eventHub = h }

func SetTrainingHistory(h TrainingHistory) { history = h }

func SetStudentDirectory(d StudentDirectory) { students = d }

func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

var (
	trainSample   = map[string]any{"examples": []map[string]any{{"Attendance": 85, "CGPA": 7.2, "Stress": 3, "label": 1}}}
	predictSample = []map[string]any{{"Attendance": 85, "CGPA": 7.2, "Stress": 3}}
)

func RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/train", handleTrain)
	mux.HandleFunc("POST /api/predict", handlePredict)
	mux.HandleFunc("POST /api/upload", handleUpload)
	mux.HandleFunc("GET /api/model_info", handleModelInfo)
	mux.HandleFunc("POST /api/reset_model", handleResetModel)
	mux.HandleFunc("GET /api/predictions_saved", handlePredictionsSaved)
	mux.HandleFunc("GET /api/download_predictions", handleDownloadPredictions)
	mux.HandleFunc("GET /api/training_log", handleTrainingLog)
	mux.HandleFunc("GET /api/students", handleStudents)
	mux.HandleFunc("GET /api/metrics", handleMetrics)
	mux.HandleFunc("GET /api/ws/events", handleEvents)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requireEngine(w http.ResponseWriter) bool {
	if engine == nil {
		respondError(w, http.StatusServiceUnavailable, "model engine not initialized")
		return false
	}
	return true
}

func handleTrain(w http.ResponseWriter, r *http.Request) {
	if !requireEngine(w) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		respondBodyError(w, err, map[string]any{
			"error":  "Invalid JSON",
			"detail": err.Error(),
			"hint":   `Send application/json with a top-level {"examples": [...] } or an array of example objects`,
		})
		return
	}

	examples, accuracy, err := parseTrainRequest(body)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":         "Missing examples array in request body",
			"detail":        err.Error(),
			"received_type": jsonType(body),
			"hint":          "POST JSON like the sample",
			"sample":        trainSample,
		})
		return
	}

	summary, err := engine.Train(r.Context(), examples, accuracy)
	if err != nil {
		if errors.Is(err, ml.ErrInsufficientData) {
			respondError(w, http.StatusBadRequest, "Not enough labeled examples to train. Need at least 2.")
			return
		}
		logger.Error("training failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// parseTrainRequest accepts an array of examples or an object carrying
// them under "examples", with an optional "accuracy" dial.
func parseTrainRequest(body []byte) ([]ml.Row, *float64, error) {
	switch firstByte(body) {
	case '[':
		var examples []ml.Row
		if err := json.Unmarshal(body, &examples); err != nil {
			return nil, nil, err
		}
		return examples, nil, nil
	case '{':
		var req struct {
			Examples json.RawMessage `json:"examples"`
			Accuracy json.RawMessage `json:"accuracy"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, nil, err
		}
		if firstByte(req.Examples) != '[' {
			return nil, nil, errors.New("examples must be an array")
		}
		var examples []ml.Row
		if err := json.Unmarshal(req.Examples, &examples); err != nil {
			return nil, nil, err
		}
		return examples, parseAccuracy(req.Accuracy), nil
	default:
		return nil, nil, errors.New("body must be an array or an object")
	}
}

// parseAccuracy reads the dial leniently; anything unusable means default
// hyperparameters.
func parseAccuracy(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	f, ok := ml.ToFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func handlePredict(w http.ResponseWriter, r *http.Request) {
	servePredict(w, r, false)
}

// handleUpload scores rows and always persists them.
func handleUpload(w http.ResponseWriter, r *http.Request) {
	servePredict(w, r, true)
}

func servePredict(w http.ResponseWriter, r *http.Request, forceSave bool) {
	if !requireEngine(w) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		respondBodyError(w, err, map[string]any{
			"error":  "Invalid JSON body",
			"detail": err.Error(),
			"hint":   "Send application/json with an object or array of objects",
		})
		return
	}

	rows, bodySave, err := parsePredictRequest(body)
	if err != nil {
		if firstByte(body) == 'n' {
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error": "Missing JSON body",
				"hint":  "Send an object or array of objects (application/json) with keys: Attendance, CGPA, Stress",
			})
			return
		}
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":           "Payload must be an object or array of objects",
			"detail":          err.Error(),
			"received_type":   jsonType(body),
			"expected_sample": map[string]any{"example": predictSample},
		})
		return
	}

	save := forceSave || bodySave || saveRequested(r)
	resp, err := engine.Predict(r.Context(), rows, save)
	if err != nil {
		var mismatch *ml.SchemaMismatchError
		switch {
		case errors.As(err, &mismatch):
			logger.Warn("predict payload missing feature keys",
				zap.Strings("received", mismatch.Received),
				zap.Strings("expected", mismatch.Expected))
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error":           "Payload objects do not contain expected feature keys",
				"received_keys":   nonNil(mismatch.Received),
				"expected_keys":   mismatch.Expected,
				"expected_sample": predictSample,
			})
		case errors.Is(err, ml.ErrModelNotTrained):
			respondError(w, http.StatusConflict, err.Error())
		default:
			logger.Error("prediction failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// parsePredictRequest accepts one object or an array of objects. A lone
// object asks for saving with "save": true.
func parsePredictRequest(body []byte) ([]ml.Row, bool, error) {
	switch firstByte(body) {
	case '[':
		var rows []ml.Row
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, false, err
		}
		return rows, false, nil
	case '{':
		var row ml.Row
		if err := json.Unmarshal(body, &row); err != nil {
			return nil, false, err
		}
		save := false
		if v, ok := row.Get("save"); ok {
			save, _ = v.(bool)
		}
		return []ml.Row{row}, save, nil
	default:
		return nil, false, fmt.Errorf("unexpected %s payload", jsonType(body))
	}
}

func saveRequested(r *http.Request) bool {
	switch r.URL.Query().Get("save") {
	case "1", "true", "True":
		return true
	}
	return false
}

func handleModelInfo(w http.ResponseWriter, r *http.Request) {
	if !requireEngine(w) {
		return
	}
	info, err := engine.ModelInfo()
	if err != nil {
		if errors.Is(err, ml.ErrModelNotTrained) {
			respondError(w, http.StatusNotFound, "Model metadata not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func handleResetModel(w http.ResponseWriter, r *http.Request) {
	if !requireEngine(w) {
		return
	}
	respondJSON(w, http.StatusOK, engine.Reset())
}

func handlePredictionsSaved(w http.ResponseWriter, r *http.Request) {
	if !requireEngine(w) {
		return
	}
	records, err := engine.ListSavedPredictions()
	if err != nil {
		if errors.Is(err, persist.ErrNoSavedPredictions) {
			respondError(w, http.StatusNotFound, "No saved predictions found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"predictions": records})
}

func handleDownloadPredictions(w http.ResponseWriter, r *http.Request) {
	if !requireEngine(w) {
		return
	}
	path, err := engine.SavedPredictionsPath()
	if err != nil {
		respondError(w, http.StatusNotFound, "No saved predictions found")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.PredictionsFile))
	http.ServeFile(w, r, path)
}

func handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	if history == nil {
		respondError(w, http.StatusServiceUnavailable, "database not enabled")
		return
	}
	logs, err := history.LoadTrainingLog(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": logs})
}

func handleStudents(w http.ResponseWriter, r *http.Request) {
	if students == nil {
		respondError(w, http.StatusServiceUnavailable, "database not enabled")
		return
	}
	limit := defaultStudentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxStudentLimit)
	}
	list, err := students.Students(r.Context(), limit)
	if err != nil {
		logger.Error("list students failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"students": list})
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !requireEngine(w) {
		return
	}
	snapshot := engine.Counters().Snapshot()
	clients := 0
	if eventHub != nil {
		clients = eventHub.Clients()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"uptime":            snapshot.Uptime,
		"counters":          snapshot.Counters,
		"websocket_clients": clients,
	})
}

func handleEvents(w http.ResponseWriter, r *http.Request) {
	if eventHub == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream not enabled")
		return
	}
	eventHub.ServeWS(w, r)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, errors.New("empty body")
		}
		return nil, errors.New("body is not valid JSON")
	}
	return body, nil
}

// respondBodyError answers an unreadable body: 413 when it was cut off by
// the size limit, 400 with payload otherwise.
func respondBodyError(w http.ResponseWriter, err error, payload map[string]any) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	respondJSON(w, http.StatusBadRequest, payload)
}

func firstByte(data []byte) byte {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

func jsonType(data []byte) string {
	switch firstByte(data) {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	case 0:
		return "empty"
	default:
		return "number"
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
