package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
)

const (
	defaultBufferSize    = 10000
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	shutdownFlushTimeout = 10 * time.Second
)

// Persists audit records in bulk
type BatchStore interface {
	CreateBatch(ctx context.Context, records []models.AuditRecord) error
}

// Counts records that never reached a sink
type Counters interface {
	IncAuditDropped()
	IncAuditWriteFailures()
}

type WriterConfig struct {
	BufferSize    int           // Default: 10000
	BatchSize     int           // Default: 100
	FlushInterval time.Duration // Default: 5 seconds
	Logger        *slog.Logger
	Counters      Counters
}

// BatchWriter queues audit records in memory and inserts them in batches
// from a single background loop. Record never blocks: when the buffer is
// full the record is dropped.
type BatchWriter struct {
	store         BatchStore
	records       chan models.AuditRecord
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	counters      Counters
}

func NewBatchWriter(store BatchStore, cfg WriterConfig) *BatchWriter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Counters == nil {
		cfg.Counters = noopCounters{}
	}

	return &BatchWriter{
		store:         store,
		records:       make(chan models.AuditRecord, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
		counters:      cfg.Counters,
	}
}

func (w *BatchWriter) Record(record models.AuditRecord) {
	select {
	case w.records <- record:
	default:
		// Channel full, skip to avoid blocking the request
		w.counters.IncAuditDropped()
	}
}

// Run consumes queued records until ctx is cancelled, then flushes
// whatever is still buffered before returning.
func (w *BatchWriter) Run(ctx context.Context) error {
	batch := make([]models.AuditRecord, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case record := <-w.records:
			batch = append(batch, record)

			// Insert when batch is full
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = make([]models.AuditRecord, 0, w.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = make([]models.AuditRecord, 0, w.batchSize)
			}
		case <-ctx.Done():
			w.drain(batch)
			return nil
		}
	}
}

func (w *BatchWriter) drain(batch []models.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()

	for {
		select {
		case record := <-w.records:
			batch = append(batch, record)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = make([]models.AuditRecord, 0, w.batchSize)
			}
		default:
			if len(batch) > 0 {
				w.flush(ctx, batch)
			}
			return
		}
	}
}

func (w *BatchWriter) flush(ctx context.Context, batch []models.AuditRecord) {
	if err := w.store.CreateBatch(ctx, batch); err != nil {
		// Log error but dont block
		w.counters.IncAuditWriteFailures()
		w.logger.Error("failed to insert audit records",
			slog.Int("count", len(batch)),
			slog.Any("error", err),
		)
	}
}

type noopCounters struct{}

func (noopCounters) IncAuditDropped()       {}
func (noopCounters) IncAuditWriteFailures() {}
