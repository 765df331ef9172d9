package statesync

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"
)

const defaultRetryInterval = 5 * time.Second

// Storage is the durable side of the state tree, keyed by top-level key.
type Storage interface {
	Load(ctx context.Context) (map[string]any, error)
	Save(ctx context.Context, entries map[string]any) error
}

// Writer persists state in the background. Enqueued keys coalesce: only the
// latest value of a key is written.
type Writer struct {
	storage Storage
	log     *slog.Logger
	retry   time.Duration

	mu      sync.Mutex
	pending map[string]any
	wake    chan struct{}
}

func NewWriter(storage Storage, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}

	return &Writer{
		storage: storage,
		log:     log.With("component", "statesync.writer"),
		retry:   defaultRetryInterval,
		pending: make(map[string]any),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue schedules entries for writing and returns immediately.
func (w *Writer) Enqueue(entries map[string]any) {
	if len(entries) == 0 {
		return
	}

	w.mu.Lock()
	maps.Copy(w.pending, entries)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many keys wait for a write.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Run writes enqueued state until ctx ends, then flushes what is left.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.retry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), w.retry)
			defer cancel()
			return w.Flush(flushCtx)
		case <-w.wake:
			w.flushLogged(ctx)
		case <-ticker.C:
			// Retries writes that failed earlier.
			w.flushLogged(ctx)
		}
	}
}

func (w *Writer) flushLogged(ctx context.Context) {
	if err := w.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.log.Warn("State write failed, will retry", "error", err)
	}
}

// Flush writes pending state now. Entries that fail to write are kept
// unless a newer value was enqueued meanwhile.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]any)
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := w.storage.Save(ctx, batch); err != nil {
		w.mu.Lock()
		for key, value := range batch {
			if _, newer := w.pending[key]; !newer {
				w.pending[key] = value
			}
		}
		w.mu.Unlock()
		return err
	}

	w.log.Debug("State persisted", "keys", len(batch))
	return nil
}
