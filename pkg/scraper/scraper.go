package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"civitscraper/internal/downloader"
	"civitscraper/pkg/civitai"
	"civitscraper/pkg/config"
	errs "civitscraper/pkg/errors"
	"civitscraper/pkg/logger"
	"civitscraper/pkg/metadata"
	"civitscraper/pkg/models"
	"civitscraper/pkg/pager"
	"civitscraper/pkg/progress"
	"civitscraper/pkg/ratelimit"
	"civitscraper/pkg/report"
	"civitscraper/pkg/retry"
	"civitscraper/pkg/storage"
)

// Scraper orchestrates the download of all images of one user
type Scraper struct {
	client   ImageClient
	config   *config.Config
	logger   logger.Logger
	progress ProgressReporter
}

// New creates a Scraper with a Civitai client built from cfg
func New(cfg *config.Config) (*Scraper, error) {
	log := logger.GetLogger()

	httpClient, err := civitai.NewHTTPClient(cfg.API.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	client, err := civitai.NewClient(civitai.Options{
		BaseURL:   cfg.API.BaseURL,
		APIKey:    cfg.API.APIKey,
		UserAgent: cfg.API.UserAgent,
		Query: civitai.Query{
			Limit:  cfg.API.PageLimit,
			Sort:   cfg.API.Sort,
			Period: cfg.API.Period,
			NSFW:   cfg.API.NSFW,
		},
		PageTimeout: cfg.API.RequestTimeout,
		HTTPClient:  httpClient,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	return NewWithClient(cfg, client, log), nil
}

// NewWithClient creates a Scraper around an existing client
func NewWithClient(cfg *config.Config, client ImageClient, log logger.Logger) *Scraper {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scraper{
		client: client,
		config: cfg,
		logger: log,
	}
}

// SetProgress attaches a live progress display
func (s *Scraper) SetProgress(p ProgressReporter) {
	s.progress = p
}

// Run downloads every image of username that is not already on disk.
//
// A nil Summary with an error means the run could not start (bad username,
// unusable output directory). Otherwise the Summary is always returned; when
// pagination stopped early, the output directory was lost mid-run or ctx was
// cancelled, the error says why and the Summary status is incomplete.
func (s *Scraper) Run(ctx context.Context, username string) (*Summary, error) {
	username = civitai.SanitizeUsername(username)
	if !civitai.IsValidUsername(username) {
		return nil, errs.Permanent("run", fmt.Sprintf("invalid username %q", username), nil)
	}
	log := s.logger.WithField("username", username)

	outputDir := s.config.OutputDir(username)
	store, err := storage.NewManager(outputDir)
	if err != nil {
		log.WithError(err).Error("Output directory is not usable")
		return nil, fmt.Errorf("failed to prepare output directory: %w", err)
	}
	if removed, err := store.CleanStaleParts(); err == nil && removed > 0 {
		log.InfoWithFields("Removed leftover temp files", map[string]interface{}{
			"count": removed,
		})
	}

	reports := report.NewManager(outputDir, log)
	if prev, err := reports.Load(); err != nil {
		log.WithError(err).Warn("Ignoring unreadable previous report")
	} else if prev != nil && prev.Failed > 0 {
		log.InfoWithFields("Previous run left failures, retrying them", map[string]interface{}{
			"previous_status": prev.Status,
			"previous_failed": prev.Failed,
		})
	}

	log.InfoWithFields("Starting image download for user", map[string]interface{}{
		"output_dir":    outputDir,
		"workers":       s.workers(),
		"authenticated": s.client.Authenticated(),
	})

	start := time.Now()
	tracker := progress.NewTracker()
	if s.progress != nil {
		s.progress.Start(username, tracker)
	}

	policy := retry.NewPolicy(s.config.Retry.MaxAttempts, s.config.Retry.BaseDelay, s.config.Retry.MaxDelay)
	pool := downloader.NewWorkerPool(s.client, store, downloader.Options{
		Workers:        s.workers(),
		QueueSize:      s.config.Download.QueueCapacity(),
		Policy:         policy,
		AttemptTimeout: s.config.Download.DownloadTimeout,
		Limiter:        downloadsPerMinute(s.config.RateLimit.DownloadsPerMinute),
		Tracker:        tracker,
		Logger:         log,
	})
	pages := pager.New(s.client, username, pager.Options{
		Policy:  policy,
		Limiter: perMinute(s.config.RateLimit.RequestsPerMinute, 1),
		Logger:  log,
	})

	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	run := &runState{
		scraper: s,
		store:   store,
		tracker: tracker,
		logger:  log,
		abort:   abort,
	}

	pool.Start(runCtx)
	var g errgroup.Group
	g.Go(func() error {
		defer pool.Close()
		return run.paginate(runCtx, pages, pool)
	})
	g.Go(func() error {
		for outcome := range pool.Results() {
			run.collect(outcome)
		}
		return nil
	})
	runErr := g.Wait()

	snap := tracker.Snapshot()
	if s.progress != nil {
		s.progress.Finish(snap)
	}

	summary := &Summary{
		Username:   username,
		OutputDir:  outputDir,
		Pages:      snap.Pages,
		Seen:       snap.Seen,
		Downloaded: snap.Downloaded,
		Skipped:    snap.Skipped,
		Failed:     snap.Failed,
		Bytes:      snap.Bytes,
		StartedAt:  start,
		Duration:   time.Since(start),
		Failures:   run.failures,
		Cancelled:  ctx.Err() != nil,
		OutputErr:  run.outputErr,
	}
	if runErr != nil && !errs.IsCancelled(runErr) && summary.OutputErr == nil {
		summary.PaginationErr = runErr
	}
	summary.resolveStatus()

	switch {
	case summary.OutputErr != nil && s.config.Output.WriteReport:
		log.Warn("Run report not written, the output directory is unusable")
	case s.config.Output.WriteReport:
		if err := reports.Save(summary.Report()); err != nil {
			log.WithError(err).Warn("Failed to write run report")
		}
	}

	log.InfoWithFields("Download run finished", map[string]interface{}{
		"status":     summary.Status,
		"pages":      summary.Pages,
		"seen":       summary.Seen,
		"downloaded": summary.Downloaded,
		"skipped":    summary.Skipped,
		"failed":     summary.Failed,
		"bytes":      summary.Bytes,
		"duration":   summary.Duration.String(),
	})

	switch {
	case summary.Cancelled:
		return summary, errs.Cancelled("run", ctx.Err())
	case summary.OutputErr != nil:
		return summary, summary.OutputErr
	case summary.PaginationErr != nil:
		return summary, summary.PaginationErr
	}
	return summary, nil
}

func (s *Scraper) workers() int {
	if s.config.Download.ConcurrentDownloads > 0 {
		return s.config.Download.ConcurrentDownloads
	}
	return downloader.DefaultWorkers
}

// perMinute returns nil, meaning unpaced, for non-positive rates.
func perMinute(rate, burst int) ratelimit.Limiter {
	if rate <= 0 {
		return nil
	}
	return ratelimit.PerMinute(rate, burst)
}

// downloadsPerMinute caps image transfers in any one-minute span; nil
// means unpaced.
func downloadsPerMinute(n int) ratelimit.Limiter {
	if n <= 0 {
		return nil
	}
	return ratelimit.NewSlidingWindow(n, time.Minute)
}

// runState is the mutable part of one Run, shared by the pagination and
// result goroutines.
type runState struct {
	scraper *Scraper
	store   *storage.Manager
	tracker *progress.Tracker
	logger  logger.Logger
	abort   context.CancelFunc

	mu        sync.Mutex
	failures  []FailedRecord
	outputErr error
}

// paginate walks every page and routes each record: skips and rejects are
// settled here, everything else goes to the pool.
func (r *runState) paginate(ctx context.Context, pages *pager.Pager, pool *downloader.WorkerPool) error {
	for {
		page, err := pages.Next(ctx)
		if page != nil {
			if page.Len() == 0 && pages.Pages() == 1 && page.NextCursor == "" {
				r.logger.Info("User has no public images")
			}
			r.dispatch(ctx, page, pool)
		}
		if errors.Is(err, pager.ErrDone) {
			r.logger.Info("No more pages to fetch")
			return nil
		}
		if err != nil {
			if !errs.IsCancelled(err) {
				r.logger.WithError(err).Error("Pagination stopped, run is incomplete")
			}
			return err
		}
	}
}

func (r *runState) dispatch(ctx context.Context, page *civitai.Page, pool *downloader.WorkerPool) {
	r.tracker.PageFetched(page.Len())

	for _, rej := range page.Rejected {
		rec := models.ImageRecord{ID: rej.ID, URL: rej.URL}
		r.settle(models.Outcome{
			Record: rec,
			Kind:   models.Failed,
			Reason: errs.Permanent("parse item", rej.Reason, nil),
		})
	}

	for _, rec := range page.Records {
		if err := ctx.Err(); err != nil {
			r.settle(models.Outcome{Record: rec, Kind: models.Failed, Reason: errs.Cancelled("dispatch", err)})
			continue
		}

		skip, err := r.store.ShouldSkip(rec)
		if err != nil {
			r.settle(models.Outcome{Record: rec, Kind: models.Failed, Reason: err})
			continue
		}
		if skip {
			r.logger.DebugWithFields("Skipping existing file", map[string]interface{}{
				"image_id": rec.ID,
				"filename": rec.Filename,
			})
			r.settle(models.Outcome{Record: rec, Kind: models.Skipped, SkipReason: models.SkipAlreadyExists})
			continue
		}

		if err := pool.Submit(ctx, rec); err != nil {
			r.settle(models.Outcome{Record: rec, Kind: models.Failed, Reason: errs.Cancelled("dispatch", err)})
		}
	}

	r.logger.DebugWithFields("Page dispatched", map[string]interface{}{
		"queued":         pool.GetQueueSize(),
		"active_workers": pool.GetActiveWorkers(),
	})
}

// settle records an outcome decided outside the pool.
func (r *runState) settle(o models.Outcome) {
	r.tracker.Record(o)
	r.collect(o)
}

// collect keeps failures for the summary and writes sidecars for new files.
func (r *runState) collect(o models.Outcome) {
	switch o.Kind {
	case models.Failed:
		r.mu.Lock()
		r.failures = append(r.failures, FailedRecord{Record: o.Record, Reason: o.Reason, Attempts: o.Attempts})
		r.mu.Unlock()
		if errs.KindOf(o.Reason) == errs.KindFilesystem {
			r.checkOutputDir()
		}
	case models.Downloaded:
		if r.scraper.config.Output.SaveMetadata {
			path := r.store.Path(o.Record)
			if err := metadata.FromRecord(o.Record).Save(path); err != nil {
				r.logger.WithError(err).WithField("image_id", o.Record.ID).Warn("Failed to save metadata")
			}
		}
	}
}

// checkOutputDir stops the whole run once the output directory is gone or
// no longer writable; a single bad file does not.
func (r *runState) checkOutputDir() {
	r.mu.Lock()
	stopped := r.outputErr != nil
	r.mu.Unlock()
	if stopped {
		return
	}

	err := r.store.CheckOutputDir()
	if err == nil {
		return
	}

	r.mu.Lock()
	if r.outputErr == nil {
		r.outputErr = errs.Filesystem("output directory", fmt.Errorf("%s became unusable, run stopped: %w", r.store.OutputDir(), err))
		r.logger.WithError(err).Error("Output directory is no longer usable, stopping the run")
	}
	r.mu.Unlock()
	r.abort()
}
