package scheduler

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch monitors the definition directory and reloads when files change.
// A failed reload keeps the previous definition set running. Watch blocks
// until ctx is cancelled.
func (s *Scheduler) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.opts.Directory); err != nil {
		return err
	}

	s.logger.Info("watching definition directory", zap.String("dir", s.opts.Directory))

	// One save produces a burst of events, and editors often replace files
	// via rename (atomic save). Collapse the burst behind a timer and
	// reload once it settles.
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(s.debounce)
			pending = timer.C

		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.logger.Error("definition reload failed, keeping previous set",
					zap.Error(err))
				continue
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("definition watcher error", zap.Error(err))
		}
	}
}
