package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
)

// EventSource lists events that still have pending images. Events left
// with only failed images are not driven; an operator retries them.
type EventSource interface {
	EventsWithPending(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type IndexWorkerConfig struct {
	PollInterval  time.Duration
	BatchLimit    int
	MaxConcurrent int
	MaxEvents     int
	// AlertCooldown is how long an event that kept failing is left alone
	// before the worker tries it again.
	AlertCooldown time.Duration
	SweepTimeout  time.Duration
	Policy        models.PollPolicy
}

// IndexWorker drives IndexBatch for every event with pending images so
// indexing progresses without an admin tab open. Each event keeps its own
// PollSession; an event whose batches keep failing is parked.
type IndexWorker struct {
	events  EventSource
	indexer services.IndexService
	cfg     IndexWorkerConfig

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex

	sessionsMu sync.Mutex
	sessions   map[uuid.UUID]*eventSession

	batches atomic.Int64
	failed  atomic.Int64
}

type eventSession struct {
	session     models.PollSession
	parkedUntil time.Time
}

func NewIndexWorker(events EventSource, indexer services.IndexService, cfg IndexWorkerConfig) *IndexWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 20
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = 5 * time.Minute
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 30 * time.Second
	}
	if cfg.Policy.MaxConsecutiveErrors <= 0 {
		cfg.Policy.MaxConsecutiveErrors = 10
	}
	return &IndexWorker{
		events:   events,
		indexer:  indexer,
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*eventSession),
	}
}

func (w *IndexWorker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()

	logger.Startup("index_worker_started", "Index worker started", map[string]interface{}{
		"poll_interval":  w.cfg.PollInterval.String(),
		"max_concurrent": w.cfg.MaxConcurrent,
	})
}

// Stop cancels the loop and waits for in-flight batches. Images a cancelled
// batch did not reach stay in processing until the stuck sweeper resets them.
func (w *IndexWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	logger.Startup("index_worker_stopped", "Index worker stopped", nil)
}

func (w *IndexWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

func (w *IndexWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.tick(w.ctx)

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.tick(w.ctx)
		}
	}
}

// tick runs one batch for each event with work, at most MaxConcurrent at a time.
func (w *IndexWorker) tick(ctx context.Context) {
	eventIDs, err := w.events.EventsWithPending(ctx, w.cfg.MaxEvents)
	if err != nil {
		logger.IndexError("worker_list_failed", "Failed to list events with pending images", err, nil)
		return
	}
	if len(eventIDs) == 0 {
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, w.cfg.MaxConcurrent)

	for _, eventID := range eventIDs {
		if ctx.Err() != nil {
			break
		}
		if w.parked(eventID) {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(eventID uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()
			w.runBatch(ctx, eventID)
		}(eventID)
	}

	wg.Wait()
}

func (w *IndexWorker) runBatch(ctx context.Context, eventID uuid.UUID) {
	result, err := w.indexer.IndexBatch(ctx, services.SystemCaller(), eventID, w.cfg.BatchLimit)
	err = result.Outcome(err)
	w.batches.Add(1)
	if err != nil {
		w.failed.Add(1)
	}

	w.sessionsMu.Lock()
	defer w.sessionsMu.Unlock()

	es := w.session(eventID)
	es.session.RecordBatch(err)

	if err != nil {
		logger.IndexError("worker_batch_failed", "Background index batch failed", err, map[string]interface{}{
			"event_id":           eventID.String(),
			"consecutive_errors": es.session.ConsecutiveErrors,
		})
		if es.session.Alerting(w.cfg.Policy) {
			es.parkedUntil = time.Now().Add(w.cfg.AlertCooldown)
			logger.IndexWarn("worker_event_parked", "Event keeps failing, background indexing paused", map[string]interface{}{
				"event_id":           eventID.String(),
				"consecutive_errors": es.session.ConsecutiveErrors,
				"retry_at":           es.parkedUntil.Format(time.RFC3339),
			})
		}
		return
	}

	if result != nil && result.Claimed > 0 {
		logger.Index("worker_batch_done", "Background index batch finished", map[string]interface{}{
			"event_id": eventID.String(),
			"claimed":  result.Claimed,
			"indexed":  result.Indexed,
			"failed":   result.Failed,
		})
	}
}

// session must be called with sessionsMu held.
func (w *IndexWorker) session(eventID uuid.UUID) *eventSession {
	es, ok := w.sessions[eventID]
	if !ok {
		es = &eventSession{}
		w.sessions[eventID] = es
	}
	return es
}

func (w *IndexWorker) parked(eventID uuid.UUID) bool {
	w.sessionsMu.Lock()
	defer w.sessionsMu.Unlock()

	es, ok := w.sessions[eventID]
	if !ok || es.parkedUntil.IsZero() {
		return false
	}
	if time.Now().Before(es.parkedUntil) {
		return true
	}
	// Cooldown over: give the event a fresh error budget.
	es.parkedUntil = time.Time{}
	es.session.ConsecutiveErrors = 0
	return false
}

// SweepStuck resets images stuck in processing across all events. It runs
// as the stuck-sweeper scheduler job so recovery does not depend on anyone
// polling.
func (w *IndexWorker) SweepStuck() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SweepTimeout)
	defer cancel()

	n, err := w.indexer.ResetStuck(ctx, services.SystemCaller(), nil)
	if err != nil {
		logger.IndexError("stuck_sweep_failed", "Stuck sweep failed", err, nil)
		return
	}
	if n > 0 {
		logger.Index("stuck_sweep", "Stuck sweep reset images", map[string]interface{}{"reset": n})
	}
}

func (w *IndexWorker) GetStats() map[string]interface{} {
	w.sessionsMu.Lock()
	parked := 0
	now := time.Now()
	for _, es := range w.sessions {
		if now.Before(es.parkedUntil) {
			parked++
		}
	}
	tracked := len(w.sessions)
	w.sessionsMu.Unlock()

	return map[string]interface{}{
		"isRunning":     w.IsRunning(),
		"maxConcurrent": w.cfg.MaxConcurrent,
		"batchLimit":    w.cfg.BatchLimit,
		"batches":       w.batches.Load(),
		"failedBatches": w.failed.Load(),
		"trackedEvents": tracked,
		"parkedEvents":  parked,
	}
}
