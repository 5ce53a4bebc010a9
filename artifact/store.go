// Package artifact keeps the trained pipeline and its metadata on disk as a
// pair that is only ever replaced together.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"educare/ml"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	ModelFile       = "model.json"
	MetaFile        = "feature_columns.json"
	PredictionsFile = "predictions_saved.jsonl"

	decodeCacheSize = 4
)

// ErrStaleArtifact means the artifact and metadata on disk come from
// different training runs.
var ErrStaleArtifact = fmt.Errorf("%w: artifact and metadata generations differ", ml.ErrModelNotTrained)

// PersistenceError reports a failed artifact write or removal.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Handle is one consistent generation of artifact and metadata.
type Handle struct {
	Generation string
	Pipeline   *ml.Pipeline
	Meta       ml.Meta
}

// Store owns the model directory. Write and Reset exclude Read, and every
// Read verifies the pair belongs to one generation so a writer in another
// process cannot hand out mismatched halves.
type Store struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache *lru.Cache[string, *ml.Pipeline]
	// generation on disk as of the last write, reset or watched change
	known string

	rename func(oldpath, newpath string) error
}

func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("model dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, *ml.Pipeline](decodeCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Store{dir: dir, logger: logger, cache: cache, rename: os.Rename}
	s.known = s.diskGeneration()
	return s, nil
}

func (s *Store) Dir() string             { return s.dir }
func (s *Store) ModelPath() string       { return filepath.Join(s.dir, ModelFile) }
func (s *Store) MetaPath() string        { return filepath.Join(s.dir, MetaFile) }
func (s *Store) PredictionsPath() string { return filepath.Join(s.dir, PredictionsFile) }

// Exists reports whether both halves of an artifact are on disk.
func (s *Store) Exists() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fileExists(s.ModelPath()) && fileExists(s.MetaPath())
}

// Write stamps pipeline and meta with a fresh generation and installs them.
// The previous pair stays in place until both new files are ready and is
// restored if either rename fails.
func (s *Store) Write(pipeline *ml.Pipeline, meta ml.Meta) (ml.Meta, error) {
	if pipeline == nil {
		return ml.Meta{}, errors.New("pipeline is nil")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return ml.Meta{}, &PersistenceError{Op: "mkdir", Path: s.dir, Err: err}
	}

	generation := uuid.NewString()
	pipeline.Generation = generation
	meta.Generation = generation

	modelData, err := json.Marshal(pipeline)
	if err != nil {
		return ml.Meta{}, &PersistenceError{Op: "encode", Path: s.ModelPath(), Err: err}
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return ml.Meta{}, &PersistenceError{Op: "encode", Path: s.MetaPath(), Err: err}
	}

	modelTmp, err := writeTemp(s.dir, ModelFile, modelData)
	if err != nil {
		return ml.Meta{}, &PersistenceError{Op: "write", Path: s.ModelPath(), Err: err}
	}
	defer os.Remove(modelTmp)
	metaTmp, err := writeTemp(s.dir, MetaFile, metaData)
	if err != nil {
		return ml.Meta{}, &PersistenceError{Op: "write", Path: s.MetaPath(), Err: err}
	}
	defer os.Remove(metaTmp)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.install([]string{modelTmp, metaTmp}, []string{s.ModelPath(), s.MetaPath()}); err != nil {
		return ml.Meta{}, err
	}
	s.known = generation

	if info, err := os.Stat(s.ModelPath()); err == nil {
		s.cache.Add(cacheKey(generation, info), pipeline)
	}
	s.logger.Info("artifact written",
		zap.String("generation", generation),
		zap.String("dir", s.dir),
		zap.Int("training_size", meta.TrainingSize))
	return meta, nil
}

// install moves each src over its dst. Existing targets are set aside first
// and put back if anything fails.
func (s *Store) install(srcs, dsts []string) error {
	backups := make([]string, len(dsts))
	for i, dst := range dsts {
		if !fileExists(dst) {
			continue
		}
		backup := dst + ".prev"
		if err := s.rename(dst, backup); err != nil {
			s.restore(dsts, backups)
			return &PersistenceError{Op: "backup", Path: dst, Err: err}
		}
		backups[i] = backup
	}

	for i := range srcs {
		if err := s.rename(srcs[i], dsts[i]); err != nil {
			for _, dst := range dsts[:i] {
				os.Remove(dst)
			}
			s.restore(dsts, backups)
			return &PersistenceError{Op: "rename", Path: dsts[i], Err: err}
		}
	}

	for _, backup := range backups {
		if backup != "" {
			os.Remove(backup)
		}
	}
	return nil
}

func (s *Store) restore(dsts, backups []string) {
	for i, backup := range backups {
		if backup == "" {
			continue
		}
		if err := s.rename(backup, dsts[i]); err != nil {
			s.logger.Error("restore previous artifact failed", zap.String("path", dsts[i]), zap.Error(err))
		}
	}
}

// ReadMeta returns the metadata alone, for callers that only describe the
// model.
func (s *Store) ReadMeta() (ml.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMeta()
}

func (s *Store) readMeta() (ml.Meta, error) {
	data, err := os.ReadFile(s.MetaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return ml.Meta{}, ml.ErrModelNotTrained
		}
		return ml.Meta{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta ml.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return ml.Meta{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// Read loads a consistent artifact and metadata pair.
func (s *Store) Read() (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMeta()
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(s.ModelPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ml.ErrModelNotTrained
		}
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	key := cacheKey(meta.Generation, info)
	pipeline, ok := s.cache.Get(key)
	if !ok {
		pipeline, err = s.decodeModel()
		if err != nil {
			return nil, err
		}
		s.cache.Add(key, pipeline)
	}
	if pipeline.Generation != meta.Generation {
		s.logger.Warn("artifact and metadata out of step",
			zap.String("artifact_generation", pipeline.Generation),
			zap.String("meta_generation", meta.Generation))
		return nil, ErrStaleArtifact
	}
	return &Handle{Generation: meta.Generation, Pipeline: pipeline, Meta: meta}, nil
}

func (s *Store) decodeModel() (*ml.Pipeline, error) {
	data, err := os.ReadFile(s.ModelPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ml.ErrModelNotTrained
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var pipeline ml.Pipeline
	if err := json.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// Reset deletes the artifact, the metadata and the saved predictions log,
// each on its own. It returns the paths it removed and every failure.
func (s *Store) Reset() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := []string{}
	var errs error
	for _, path := range []string{s.ModelPath(), s.MetaPath(), s.PredictionsPath()} {
		if !fileExists(path) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Error("remove failed", zap.String("path", path), zap.Error(err))
			errs = multierr.Append(errs, &PersistenceError{Op: "remove", Path: path, Err: err})
			continue
		}
		removed = append(removed, path)
	}
	s.cache.Purge()
	s.known = s.diskGeneration()
	return removed, errs
}

// Invalidate drops decoded pipelines so the next Read goes to disk.
func (s *Store) Invalidate() {
	s.cache.Purge()
}

// diskGeneration reads the generation recorded in the metadata file, or ""
// when there is no readable metadata.
func (s *Store) diskGeneration() string {
	data, err := os.ReadFile(s.MetaPath())
	if err != nil {
		return ""
	}
	var head struct {
		Generation string `json:"generation"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Generation
}

// observe records the generation now on disk and reports whether it differs
// from the last one this store wrote or saw.
func (s *Store) observe() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.diskGeneration()
	changed := current != s.known
	s.known = current
	return current, changed
}

func cacheKey(generation string, info os.FileInfo) string {
	return generation + ":" + strconv.FormatInt(info.ModTime().UnixNano(), 10) + ":" + strconv.FormatInt(info.Size(), 10)
}

func writeTemp(dir, name string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
