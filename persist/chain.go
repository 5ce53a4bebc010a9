package persist

import (
	"context"
	"errors"
	"fmt"

	"educare/ml"

	"go.uber.org/zap"
)

// ErrPrimaryStore wraps failures of the primary store. They are logged and
// answered by the fallback, never returned to callers.
var ErrPrimaryStore = errors.New("primary store")

// PrimaryStore saves prediction records durably and returns the id of
// every document it created.
type PrimaryStore interface {
	SavePredictions(ctx context.Context, records []ml.Row) ([]string, error)
}

// Result says where a batch of records ended up. At most one field is set.
type Result struct {
	SavedIDs  []string `json:"savedIds,omitempty"`
	SavedFile string   `json:"savedFile,omitempty"`
}

// Saved reports whether the records landed anywhere.
func (r Result) Saved() bool {
	return len(r.SavedIDs) > 0 || r.SavedFile != ""
}

// Chain tries the primary store and falls back to the log.
type Chain struct {
	primary PrimaryStore
	log     *Log
	logger  *zap.Logger
}

// NewChain builds a chain; primary may be nil.
func NewChain(primary PrimaryStore, log *Log, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{primary: primary, log: log, logger: logger}
}

// Persist saves records. Any id from the primary store means the batch is
// considered saved, even if the store only took part of it. Otherwise each
// record is appended to the log. A failed append leaves the result empty.
func (c *Chain) Persist(ctx context.Context, records []ml.Row) Result {
	if len(records) == 0 {
		return Result{}
	}

	if c.primary != nil {
		ids, err := c.primary.SavePredictions(ctx, records)
		if err != nil {
			c.logger.Error("primary save failed",
				zap.Int("records", len(records)),
				zap.Int("saved", len(ids)),
				zap.Error(fmt.Errorf("%w: %v", ErrPrimaryStore, err)))
		}
		if len(ids) > 0 {
			if err != nil {
				c.logger.Warn("records partially saved, skipping fallback",
					zap.Int("records", len(records)),
					zap.Int("saved", len(ids)))
			}
			return Result{SavedIDs: ids}
		}
	}

	if c.log == nil {
		return Result{}
	}
	if err := c.log.Append(records); err != nil {
		c.logger.Error("fallback append failed", zap.String("path", c.log.Path()), zap.Error(err))
		return Result{}
	}
	return Result{SavedFile: c.log.Path()}
}
