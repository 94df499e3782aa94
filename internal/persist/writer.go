package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"towerdefense/server/internal/telemetry"
	"towerdefense/server/logging"
	loggingpersistence "towerdefense/server/logging/persistence"
)

const (
	metricSaves      = "persist_saves_total"
	metricFailures   = "persist_failures_total"
	metricSuperseded = "persist_superseded_total"
	metricBytes      = "persist_last_bytes"
)

// WriterConfig wires a Writer to its store and observability.
type WriterConfig struct {
	Store     Store
	Compress  bool
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Clock     logging.Clock
	// RetryBase is the first backoff after a failed save; it doubles up to RetryMax.
	RetryBase time.Duration
	RetryMax  time.Duration
	// SaveTimeout bounds a single store write.
	SaveTimeout time.Duration
}

// WriterStats reports writer progress.
type WriterStats struct {
	Saves       uint64    `json:"saves"`
	Failures    uint64    `json:"failures"`
	Superseded  uint64    `json:"superseded"`
	LastSavedAt time.Time `json:"lastSavedAt"`
	LastError   string    `json:"lastError,omitempty"`
}

// encodeError marks a document that cannot be serialized; retrying it is
// pointless.
type encodeError struct {
	err error
}

func (e *encodeError) Error() string { return e.err.Error() }

func (e *encodeError) Unwrap() error { return e.err }

type pendingDoc struct {
	seq uint64
	doc Document
}

// Writer saves documents on its own goroutine. At most one document waits
// in the queue; a newer submission replaces it. Writes never go backwards:
// a document older than the last one written is skipped.
type Writer struct {
	cfg   WriterConfig
	queue chan pendingDoc
	seq   atomic.Uint64

	mu          sync.Mutex
	lastWritten uint64
	stats       WriterStats
}

// NewWriter validates cfg and fills defaults.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.Store == nil {
		cfg.Store = nopStore{}
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = 30 * time.Second
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 10 * time.Second
	}
	return &Writer{cfg: cfg, queue: make(chan pendingDoc, 1)}
}

// Submit queues doc without blocking. It reports whether an older pending
// document was discarded in its favour.
func (w *Writer) Submit(doc Document) bool {
	next := pendingDoc{seq: w.seq.Add(1), doc: doc}
	superseded := false
	for {
		select {
		case w.queue <- next:
			if superseded {
				w.bump(metricSuperseded, 1)
				w.mu.Lock()
				w.stats.Superseded++
				w.mu.Unlock()
			}
			return superseded
		default:
		}
		select {
		case <-w.queue:
			superseded = true
		default:
		}
	}
}

// Run drains the queue until ctx is cancelled. A failed save is retried
// with backoff unless a newer document arrives first.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-w.queue:
			w.saveWithRetry(ctx, next)
		}
	}
}

func (w *Writer) saveWithRetry(ctx context.Context, next pendingDoc) {
	backoff := w.cfg.RetryBase
	for attempt := 1; ; attempt++ {
		err := w.write(ctx, next)
		if err == nil {
			return
		}
		var encodeErr *encodeError
		if errors.As(err, &encodeErr) {
			w.cfg.Logger.Printf("snapshot dropped: %v", err)
			return
		}
		loggingpersistence.SnapshotFailed(ctx, w.cfg.Publisher, loggingpersistence.FailedPayload{Error: err.Error(), Attempt: attempt})
		w.cfg.Logger.Printf("snapshot save failed (attempt %d): %v", attempt, err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case newer := <-w.queue:
			timer.Stop()
			next = newer
			attempt = 0
			backoff = w.cfg.RetryBase
			continue
		case <-timer.C:
		}
		backoff = min(backoff*2, w.cfg.RetryMax)
	}
}

// Flush discards any pending document and writes doc synchronously. It is
// used on shutdown and after hub faults.
func (w *Writer) Flush(ctx context.Context, doc Document) error {
	next := pendingDoc{seq: w.seq.Add(1), doc: doc}
	select {
	case <-w.queue:
	default:
	}
	return w.write(ctx, next)
}

func (w *Writer) write(ctx context.Context, next pendingDoc) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if next.seq <= w.lastWritten {
		return nil
	}
	start := w.cfg.Clock.Now()
	data, err := Encode(next.doc, w.cfg.Compress)
	if err != nil {
		w.recordFailure(err)
		return &encodeError{err: err}
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.SaveTimeout)
	defer cancel()
	if err := w.cfg.Store.Save(saveCtx, data); err != nil {
		w.recordFailure(err)
		return err
	}
	w.lastWritten = next.seq
	w.stats.Saves++
	w.stats.LastSavedAt = w.cfg.Clock.Now()
	w.stats.LastError = ""
	w.bump(metricSaves, 1)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.Store(metricBytes, uint64(len(data)))
	}
	loggingpersistence.SnapshotSaved(ctx, w.cfg.Publisher, loggingpersistence.SavedPayload{
		Rooms:          len(next.doc.Rooms),
		Bytes:          len(data),
		Compressed:     w.cfg.Compress,
		DurationMillis: w.cfg.Clock.Now().Sub(start).Milliseconds(),
	})
	return nil
}

func (w *Writer) recordFailure(err error) {
	w.stats.Failures++
	w.stats.LastError = err.Error()
	w.bump(metricFailures, 1)
}

func (w *Writer) bump(key string, delta uint64) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.Add(key, delta)
	}
}

// Stats returns a copy of the writer counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
