package ingest

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the spool directory and calls onDrop whenever a producer
// writes a new snapshot, so fresh data is picked up between ticks. It runs
// until ctx is cancelled. Scan remains the source of truth; Watch only
// shortens the latency between drop and ingestion.
func (in *Ingester) Watch(ctx context.Context, onDrop func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(in.dir); err != nil {
		return err
	}

	slog.Info("ingest: watching spool dir", "dir", in.dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Producers write via rename (atomic drop) or direct write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			onDrop()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("ingest: watcher error", "err", err)
		}
	}
}
