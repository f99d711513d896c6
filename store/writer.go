package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Writer persists documents asynchronously so the event-handling path never
// waits on the store. Saves for the same key are coalesced: only the newest
// queued record is written, which is the last-writer-wins model the engine
// accepts. A failed save is logged; the next save for that key re-attempts
// the then-current state, so no rollback of in-memory progress is needed.
type Writer struct {
	store   Store
	retries int
	logger  *zap.Logger

	mu       sync.Mutex
	pending  map[docKey]Record
	inflight map[docKey]Record
	wake     chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type docKey struct {
	collection string
	key        string
}

// NewWriter creates a Writer and starts its background worker.
func NewWriter(s Store, retries int, logger *zap.Logger) *Writer {
	if retries < 1 {
		retries = 1
	}
	w := &Writer{
		store:    s,
		retries:  retries,
		logger:   logger,
		pending:  make(map[docKey]Record),
		inflight: make(map[docKey]Record),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.worker()
	return w
}

// Enqueue schedules a save. It never blocks; an already-pending save for the
// same key is replaced by the newer record.
func (w *Writer) Enqueue(collection, key string, rec Record) {
	w.mu.Lock()
	w.pending[docKey{collection, key}] = rec
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending returns the newest enqueued record for a key that has not landed in
// the store yet, queued or mid-save. Loads must consult it before reading the
// store: a quick reconnect would otherwise resurrect the stale stored document
// and the late-landing save would then be clobbered by the fresh record.
func (w *Writer) Pending(collection, key string) (Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := docKey{collection, key}
	if rec, ok := w.pending[k]; ok {
		return rec, true
	}
	rec, ok := w.inflight[k]
	return rec, ok
}

// Flush writes all pending documents synchronously. Used on shutdown and by
// the periodic flush task.
func (w *Writer) Flush(ctx context.Context) {
	for k, rec := range w.take() {
		w.save(ctx, k, rec)
	}
}

// Stop flushes remaining documents and shuts down the worker.
func (w *Writer) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.wg.Wait()
}

func (w *Writer) take() map[docKey]Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.pending
	w.pending = make(map[docKey]Record)
	for k, rec := range batch {
		w.inflight[k] = rec
	}
	return batch
}

func (w *Writer) finish(k docKey) {
	w.mu.Lock()
	delete(w.inflight, k)
	w.mu.Unlock()
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.stopCh:
			w.drain()
			return
		}
	}
}

func (w *Writer) drain() {
	for {
		batch := w.take()
		if len(batch) == 0 {
			return
		}
		for k, rec := range batch {
			w.save(context.Background(), k, rec)
		}
	}
}

// save retries transient failures a bounded number of times, then gives up.
// The in-memory state stays authoritative; persistence simply lags.
func (w *Writer) save(ctx context.Context, k docKey, rec Record) {
	defer w.finish(k)
	var err error
	for attempt := 1; attempt <= w.retries; attempt++ {
		err = w.store.Save(ctx, k.collection, k.key, rec)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrUnavailable) {
			break
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	w.logger.Error("document save failed, dropping",
		zap.String("collection", k.collection),
		zap.String("key", k.key),
		zap.Int("attempts", w.retries),
		zap.Error(err))
}
