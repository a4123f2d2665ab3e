package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	errs "civitscraper/pkg/errors"
	"civitscraper/pkg/logger"
	"civitscraper/pkg/models"
	"civitscraper/pkg/progress"
	"civitscraper/pkg/ratelimit"
	"civitscraper/pkg/retry"
	"civitscraper/pkg/storage"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 5

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// ImageDownloader streams one image into w.
type ImageDownloader interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Options configures a WorkerPool. Zero values fall back to defaults.
type Options struct {
	Workers int
	// QueueSize bounds the job queue; 0 means twice the worker count
	QueueSize int
	Policy    retry.Policy
	// AttemptTimeout bounds a single transfer attempt; 0 disables it
	AttemptTimeout time.Duration
	Limiter        ratelimit.Limiter
	Tracker        *progress.Tracker
	Logger         logger.Logger
}

// WorkerPool manages concurrent download workers. Every submitted record
// yields exactly one outcome on Results, including records still queued
// when the run is cancelled.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan models.ImageRecord
	resultQueue chan models.Outcome
	wg          sync.WaitGroup
	ctx         context.Context

	client   ImageDownloader
	storage  *storage.Manager
	policy   retry.Policy
	timeout  time.Duration
	limiter  ratelimit.Limiter
	tracker  *progress.Tracker
	logger   logger.Logger
	closeMu  sync.RWMutex
	closed   bool
	started  bool
	startMu  sync.Mutex
	inFlight int
	flightMu sync.Mutex
}

// NewWorkerPool creates a new download worker pool
func NewWorkerPool(client ImageDownloader, store *storage.Manager, opts Options) *WorkerPool {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = workers * 2
	}
	policy := opts.Policy
	if policy.MaxAttempts == 0 && policy.Backoff == nil {
		policy = retry.DefaultPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:  workers,
		jobQueue:    make(chan models.ImageRecord, queue),
		resultQueue: make(chan models.Outcome, workers),
		ctx:         context.Background(),
		client:      client,
		storage:     store,
		policy:      policy,
		timeout:     opts.AttemptTimeout,
		limiter:     opts.Limiter,
		tracker:     opts.Tracker,
		logger:      log,
	}
}

// Start launches the workers. Cancelling ctx aborts in-flight transfers and
// turns queued records into cancelled failures.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.startMu.Lock()
	defer wp.startMu.Unlock()
	if wp.started {
		return
	}
	wp.started = true
	wp.ctx = ctx

	logger.LogComponentStart(wp.logger, "worker_pool", map[string]interface{}{
		"num_workers":  wp.numWorkers,
		"queue_size":   cap(wp.jobQueue),
		"max_attempts": wp.policy.MaxAttempts,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Submit queues rec, blocking while the queue is full. It fails if ctx is
// done first or the pool has been closed; the record then has no outcome
// and the caller must account for it.
func (wp *WorkerPool) Submit(ctx context.Context, rec models.ImageRecord) error {
	wp.closeMu.RLock()
	defer wp.closeMu.RUnlock()
	if wp.closed {
		return ErrPoolClosed
	}

	select {
	case wp.jobQueue <- rec:
		wp.logger.DebugWithFields("Job submitted to queue", map[string]interface{}{
			"image_id":   rec.ID,
			"queue_size": len(wp.jobQueue),
		})
		return nil
	case <-ctx.Done():
		return errs.Cancelled("submit", ctx.Err())
	}
}

// Close stops accepting jobs, waits for every queued job to reach an
// outcome and then closes Results.
func (wp *WorkerPool) Close() {
	wp.closeMu.Lock()
	if wp.closed {
		wp.closeMu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobQueue)
	wp.closeMu.Unlock()

	wp.wg.Wait()
	close(wp.resultQueue)

	logger.LogComponentStop(wp.logger, "worker_pool", "queue drained")
}

// Results returns the result channel for consuming download outcomes. It
// must be drained for the workers to make progress.
func (wp *WorkerPool) Results() <-chan models.Outcome {
	return wp.resultQueue
}

// GetQueueSize returns the current number of jobs in the queue
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}

// GetActiveWorkers returns the number of workers currently transferring
func (wp *WorkerPool) GetActiveWorkers() int {
	wp.flightMu.Lock()
	defer wp.flightMu.Unlock()
	return wp.inFlight
}

// worker is the main worker routine
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	for rec := range wp.jobQueue {
		var outcome models.Outcome
		if err := wp.ctx.Err(); err != nil {
			outcome = models.Outcome{
				Record: rec,
				Kind:   models.Failed,
				Reason: errs.Cancelled("download", err),
			}
		} else {
			outcome = wp.processJob(rec, id)
		}

		if wp.tracker != nil {
			wp.tracker.Record(outcome)
		}
		logger.LogDownload(wp.logger, rec.ID, string(outcome.Kind), outcome.Attempts, outcome.Bytes, outcome.Reason)
		wp.resultQueue <- outcome
	}

	wp.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

// processJob drives one record to a terminal outcome.
func (wp *WorkerPool) processJob(rec models.ImageRecord, workerID int) models.Outcome {
	start := time.Now()
	wp.flightMu.Lock()
	wp.inFlight++
	wp.flightMu.Unlock()
	defer func() {
		wp.flightMu.Lock()
		wp.inFlight--
		wp.flightMu.Unlock()
	}()

	wp.logger.DebugWithFields("Worker processing job", map[string]interface{}{
		"worker_id": workerID,
		"image_id":  rec.ID,
		"filename":  rec.Filename,
	})

	var written int64
	cfg := &retry.Config{
		Policy: wp.policy,
		Logger: wp.logger.WithField("image_id", rec.ID),
		Op:     "download " + rec.ID,
	}
	attempts, err := retry.Do(wp.ctx, cfg, func(ctx context.Context, attempt int) error {
		n, err := wp.transfer(ctx, rec)
		written = n
		return err
	})

	outcome := models.Outcome{
		Record:   rec,
		Attempts: attempts,
		Duration: time.Since(start),
	}
	switch {
	case err == nil:
		outcome.Kind = models.Downloaded
		outcome.Bytes = written
		outcome.Record = rec.WithSize(written)
	case errors.Is(err, storage.ErrAlreadyExists):
		outcome.Kind = models.Skipped
		outcome.SkipReason = models.SkipAlreadyExists
	default:
		outcome.Kind = models.Failed
		outcome.Reason = err
		wp.logger.ErrorWithFields("Worker failed to download image", map[string]interface{}{
			"worker_id": workerID,
			"image_id":  rec.ID,
			"attempts":  attempts,
			"error":     err.Error(),
		})
	}
	return outcome
}

// transfer performs one attempt: stream into a fresh temp file, then
// commit it. Any failure leaves no temp file behind.
func (wp *WorkerPool) transfer(ctx context.Context, rec models.ImageRecord) (int64, error) {
	if wp.limiter != nil {
		if err := wp.limiter.Wait(ctx); err != nil {
			return 0, errs.Cancelled("download", err)
		}
	}

	attemptCtx := ctx
	if wp.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, wp.timeout)
		defer cancel()
	}

	pf, err := wp.storage.Begin(rec)
	if err != nil {
		return 0, err
	}

	n, err := wp.client.Download(attemptCtx, rec.URL, pf)
	if err != nil {
		pf.Discard()
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return 0, errs.Transient("download", fmt.Sprintf("attempt timed out after %s", wp.timeout), err)
		}
		return 0, err
	}

	if err := pf.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
