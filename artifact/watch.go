package artifact

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch follows the model directory for changes made outside this process,
// such as the offline trainer, purging decoded pipelines and calling
// onChange with the affected file name. Events that leave the on-disk
// generation where this store last put or saw it are dropped, so the
// store's own writes and resets never notify. It returns when ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(name string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Info("watching model dir", zap.String("dir", s.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if name != ModelFile && name != MetaFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			generation, changed := s.observe()
			if !changed {
				continue
			}
			s.Invalidate()
			s.logger.Debug("artifact changed",
				zap.String("file", name),
				zap.String("op", event.Op.String()),
				zap.String("generation", generation))
			if onChange != nil {
				onChange(name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
