package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/models"
	"go.uber.org/zap"
)

var (
	ErrBufferFull = errors.New("audit buffer full")
	ErrClosed     = errors.New("audit writer closed")
)

// BatchStore is a Store that can insert several rows at once.
type BatchStore interface {
	Store
	AppendBatch(ctx context.Context, entries []*models.AuditLog) error
}

// BatchWriter queues rows in a buffered channel and inserts them in batches
// from a background worker, so request handling never waits on the database.
// Query and DeleteBefore go straight to the underlying store.
type BatchWriter struct {
	store         BatchStore
	queue         chan *models.AuditLog
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewBatchWriter(store BatchStore, bufferSize, batchSize int, flushInterval time.Duration, logger *zap.Logger) *BatchWriter {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &BatchWriter{
		store:         store,
		queue:         make(chan *models.AuditLog, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		done:          make(chan struct{}),
	}
	go w.run()
	return w
}

// Append enqueues entry without blocking. A full buffer drops the row, and
// after Close every row is rejected with ErrClosed.
func (w *BatchWriter) Append(_ context.Context, entry *models.AuditLog) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrClosed
	}
	select {
	case w.queue <- entry:
		return nil
	default:
		return ErrBufferFull
	}
}

func (w *BatchWriter) Query(ctx context.Context, q Query) ([]models.AuditLog, int64, error) {
	return w.store.Query(ctx, q)
}

func (w *BatchWriter) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return w.store.DeleteBefore(ctx, before)
}

// Close stops accepting rows, flushes what is queued and waits for the worker
// or ctx, whichever comes first.
func (w *BatchWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *BatchWriter) run() {
	defer close(w.done)

	batch := make([]*models.AuditLog, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-w.queue:
			if !ok {
				w.flush(batch)
				return
			}

			batch = append(batch, entry)

			// Insert when batch is full
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = make([]*models.AuditLog, 0, w.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]*models.AuditLog, 0, w.batchSize)
			}
		}
	}
}

func (w *BatchWriter) flush(batch []*models.AuditLog) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.AppendBatch(ctx, batch); err != nil {
		w.logger.Error("audit batch insert failed", zap.Int("rows", len(batch)), zap.Error(err))
	}
}
