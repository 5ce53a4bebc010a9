// Package lifecycle ties training, inference, persistence and reset
// together behind the operations the server exposes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"educare/artifact"
	"educare/ml"
	"educare/monitoring"
	"educare/persist"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const notSavedNote = `Predictions computed but not persisted (saving disabled by default). To persist, call /predict?save=1 or include { "save": true } in the body.`

// Notifier receives lifecycle events.
type Notifier interface {
	Publish(eventType string, data any)
}

// TrainingRecorder keeps a history of training runs.
type TrainingRecorder interface {
	RecordTraining(ctx context.Context, meta ml.Meta) error
}

type Options struct {
	Store    *artifact.Store
	Primary  persist.PrimaryStore
	Recorder TrainingRecorder
	Notifier Notifier
	Counters *monitoring.Counters
	Logger   *zap.Logger
}

type Engine struct {
	store    *artifact.Store
	chain    *persist.Chain
	log      *persist.Log
	recorder TrainingRecorder
	notifier Notifier
	counters *monitoring.Counters
	logger   *zap.Logger
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	counters := opts.Counters
	if counters == nil {
		counters = monitoring.NewCounters()
	}
	log := persist.NewLog(opts.Store.PredictionsPath(), logger.Named("fallback"))
	return &Engine{
		store:    opts.Store,
		chain:    persist.NewChain(opts.Primary, log, logger.Named("persist")),
		log:      log,
		recorder: opts.Recorder,
		notifier: opts.Notifier,
		counters: counters,
		logger:   logger,
	}, nil
}

func (e *Engine) Counters() *monitoring.Counters { return e.counters }

func (e *Engine) publish(eventType string, data any) {
	if e.notifier != nil {
		e.notifier.Publish(eventType, data)
	}
}

type TrainSummary struct {
	Message      string         `json:"message"`
	TrainingSize int            `json:"training_size"`
	ClassCounts  map[string]int `json:"class_counts"`
	CVScore      *float64       `json:"cv_score"`
	Params       ml.Params      `json:"params"`
	Generation   string         `json:"generation"`
}

// Train fits a new model and replaces the current artifact with it. The
// previous artifact stays in place if anything fails.
func (e *Engine) Train(ctx context.Context, examples []ml.Row, accuracy *float64) (*TrainSummary, error) {
	result, err := ml.Train(examples, accuracy)
	if err != nil {
		e.counters.Add(monitoring.CounterTrainingFailures, 1)
		return nil, err
	}
	if result.CVErr != nil {
		e.logger.Warn("cross-validation skipped", zap.Error(result.CVErr))
	}

	meta, err := e.store.Write(result.Pipeline, result.Meta)
	if err != nil {
		e.counters.Add(monitoring.CounterTrainingFailures, 1)
		return nil, err
	}
	e.counters.Add(monitoring.CounterTrainings, 1)

	if e.recorder != nil {
		if err := e.recorder.RecordTraining(ctx, meta); err != nil {
			e.logger.Warn("training log not recorded", zap.String("generation", meta.Generation), zap.Error(err))
		}
	}

	summary := &TrainSummary{
		Message:      fmt.Sprintf("Trained model on %d examples and saved to %s", meta.TrainingSize, artifact.ModelFile),
		TrainingSize: meta.TrainingSize,
		ClassCounts:  meta.ClassCounts,
		CVScore:      result.CVScore,
		Params:       result.Params,
		Generation:   meta.Generation,
	}
	e.logger.Info("model trained",
		zap.String("generation", meta.Generation),
		zap.Int("training_size", meta.TrainingSize),
		zap.Int("n_estimators", result.Params.NEstimators),
		zap.Any("cv_score", result.CVScore))
	e.publish(monitoring.ModelTrained, summary)
	return summary, nil
}

type PredictResponse struct {
	Predictions []ml.Row `json:"predictions"`
	SavedIDs    []string `json:"savedIds,omitempty"`
	SavedFile   string   `json:"savedFile,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// Predict scores rows against the current artifact and, when save is set,
// persists the resulting records.
func (e *Engine) Predict(ctx context.Context, rows []ml.Row, save bool) (*PredictResponse, error) {
	handle, err := e.store.Read()
	if err != nil {
		return nil, err
	}

	records, err := ml.Predict(handle.Pipeline, handle.Meta, rows)
	if err != nil {
		return nil, err
	}
	e.counters.Add(monitoring.CounterPredictions, int64(len(records)))

	resp := &PredictResponse{Predictions: records}
	if save {
		res := e.chain.Persist(ctx, records)
		resp.SavedIDs = res.SavedIDs
		resp.SavedFile = res.SavedFile
		switch {
		case len(res.SavedIDs) > 0:
			e.counters.Add(monitoring.CounterSavedPrimary, int64(len(res.SavedIDs)))
		case res.SavedFile != "":
			e.counters.Add(monitoring.CounterSavedFallback, int64(len(records)))
		default:
			e.counters.Add(monitoring.CounterSaveFailures, 1)
		}
		if res.Saved() {
			e.publish(monitoring.PredictionsSaved, res)
		}
	}
	if !resp.saved() {
		resp.Note = notSavedNote
	}
	return resp, nil
}

func (r *PredictResponse) saved() bool {
	return len(r.SavedIDs) > 0 || r.SavedFile != ""
}

type Info struct {
	Meta    ml.Meta `json:"meta"`
	Classes []any   `json:"classes,omitempty"`
}

// ModelInfo describes the current artifact. Classes are left out when the
// artifact itself cannot be loaded.
func (e *Engine) ModelInfo() (*Info, error) {
	meta, err := e.store.ReadMeta()
	if err != nil {
		return nil, err
	}
	info := &Info{Meta: meta}
	if handle, err := e.store.Read(); err == nil {
		info.Classes = handle.Pipeline.Classes()
	} else {
		e.logger.Debug("model classes unavailable", zap.Error(err))
	}
	return info, nil
}

type ResetResult struct {
	Message string   `json:"message"`
	Removed []string `json:"removed"`
	Failed  []string `json:"failed,omitempty"`
}

// Reset deletes the artifact, its metadata and the fallback log. Files that
// could not be removed are listed in Failed; the rest are still removed.
func (e *Engine) Reset() *ResetResult {
	var removed []string
	resetErr := e.log.Locked(func() error {
		var err error
		removed, err = e.store.Reset()
		return err
	})

	res := &ResetResult{Message: "Reset completed", Removed: removed}
	for _, err := range multierr.Errors(resetErr) {
		var perr *artifact.PersistenceError
		if errors.As(err, &perr) {
			res.Failed = append(res.Failed, perr.Path)
		}
	}
	e.counters.Add(monitoring.CounterResets, 1)
	e.logger.Info("model reset", zap.Strings("removed", removed), zap.Error(resetErr))
	e.publish(monitoring.ModelReset, res)
	return res
}

// ListSavedPredictions returns the records in the fallback log.
func (e *Engine) ListSavedPredictions() ([]ml.Row, error) {
	return e.log.ReadAll()
}

// SavedPredictionsPath returns the fallback log's path, or
// persist.ErrNoSavedPredictions when it does not exist.
func (e *Engine) SavedPredictionsPath() (string, error) {
	path := e.log.Path()
	if _, err := os.Stat(path); err != nil {
		return "", persist.ErrNoSavedPredictions
	}
	return path, nil
}

// ArtifactChanged is called when the model files change outside this
// process.
func (e *Engine) ArtifactChanged(name string) {
	e.publish(monitoring.ArtifactChanged, map[string]string{"file": name})
}
