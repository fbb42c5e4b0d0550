package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"listing_canon/config"
	"listing_canon/logging"
	"listing_canon/metrics"
	"listing_canon/models"
	"listing_canon/services"
)

// RunStore keeps the bookkeeping of batch runs.
type RunStore interface {
	CreateRun(run *models.BatchRun) (int64, error)
	UpdateRun(run *models.BatchRun) error
	Log(runID *int64, level models.LogLevel, message, sourceID string) error
}

// PageArchiver keeps a copy of every fetched page.
type PageArchiver interface {
	ArchivePage(ctx context.Context, page *models.FetchedPage) (string, error)
}

type Orchestrator struct {
	cfg      *config.Config
	fetcher  PageFetcher
	listings *services.ListingService
	store    RunStore
	archive  PageArchiver
	files    *FileFetcher

	// one batch at a time; the scheduler may fire while a batch is running
	running sync.Mutex
}

func NewOrchestrator(cfg *config.Config, fetcher PageFetcher, listings *services.ListingService) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		fetcher:  fetcher,
		listings: listings,
		files:    NewFileFetcher(cfg),
	}
}

// SetRunStore enables run records and run logs.
func (o *Orchestrator) SetRunStore(store RunStore) {
	o.store = store
}

// SetArchive enables raw page archiving.
func (o *Orchestrator) SetArchive(archive PageArchiver) {
	o.archive = archive
}

// RunDir processes every saved page under dir.
func (o *Orchestrator) RunDir(ctx context.Context, dir string) (*models.BatchRun, error) {
	refs, err := o.files.ListRefs(dir)
	if err != nil {
		return nil, err
	}
	logging.Infof("Found %d pages in %s", len(refs), dir)
	return o.RunBatch(ctx, dir, refs)
}

// RunBatch fetches and processes refs with a bounded number of workers.
// Every ref ends up accepted, rejected or counted as a fetch error. Fetch
// errors do not stop the batch; an unavailable fetcher, a sink failure or
// cancellation does, and is returned alongside the run record.
func (o *Orchestrator) RunBatch(ctx context.Context, input string, refs []models.PageRef) (*models.BatchRun, error) {
	o.running.Lock()
	defer o.running.Unlock()

	run := &models.BatchRun{
		RunUUID:   uuid.NewString(),
		Input:     input,
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusRunning,
	}
	if o.store != nil {
		id, err := o.store.CreateRun(run)
		if err != nil {
			logging.Warnf("failed to create run record: %v", err)
		} else {
			run.ID = id
		}
	}
	o.log(run, models.LogLevelInfo, fmt.Sprintf("Starting batch %s: %d pages", run.RunUUID, len(refs)), "")

	stats := &services.ProcessStats{}
	var mu sync.Mutex

	workers := o.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			metrics.BatchInFlight.Inc()
			defer metrics.BatchInFlight.Dec()
			return o.processRef(gctx, run, ref, stats, &mu)
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	now := time.Now().UTC()
	run.FinishedAt = &now
	switch {
	case err == nil:
		run.Status = models.RunStatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		run.Status = models.RunStatusCancelled
	default:
		run.Status = models.RunStatusFailed
		stats.Errors++
	}
	stats.ApplyTo(run)
	metrics.BatchesTotal.WithLabelValues(string(run.Status)).Inc()

	if o.store != nil && run.ID != 0 {
		if uerr := o.store.UpdateRun(run); uerr != nil {
			logging.Warnf("failed to update run record: %v", uerr)
		}
	}

	level := models.LogLevelInfo
	if err != nil {
		level = models.LogLevelError
		o.log(run, level, fmt.Sprintf("Batch %s: %v", run.Status, err), "")
	}
	o.log(run, level, fmt.Sprintf("Batch %s: %d pages, %d accepted, %d rejected, %d duplicates, %d fetch errors (%s)",
		run.Status, run.PagesSeen, run.Accepted, run.Rejected, run.Duplicates, run.FetchErrors, stats.ToJSON()), "")

	return run, err
}

func (o *Orchestrator) processRef(ctx context.Context, run *models.BatchRun, ref models.PageRef, stats *services.ProcessStats, mu *sync.Mutex) error {
	source := ref.SourceID
	if source == "" {
		source = o.cfg.GuessSource(ref.URL)
	}
	name := ref.URL
	if name == "" {
		name = ref.Path
	}

	start := time.Now()
	page, err := o.fetcher.Fetch(ctx, ref)
	metrics.ObserveStage("fetch", start)
	if err != nil {
		if errors.Is(err, ErrFetcherUnavailable) {
			return fmt.Errorf("fetch %s: %w", name, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mu.Lock()
		stats.FetchErrors++
		mu.Unlock()
		metrics.PagesTotal.WithLabelValues(source, "fetch_error").Inc()
		o.log(run, models.LogLevelWarn, fmt.Sprintf("Fetch error for %s: %v", name, err), source)
		return nil
	}
	if page.SourceID != "" {
		source = page.SourceID
	}

	if o.archive != nil {
		if key, err := o.archive.ArchivePage(ctx, page); err != nil {
			logging.Warnf("%v", err)
		} else {
			logging.Debugf("%s: archived as %s", page.SourceURL, key)
		}
	}

	start = time.Now()
	res, err := o.listings.ProcessPage(ctx, page)
	metrics.ObserveStage("process", start)
	if err != nil {
		metrics.PagesTotal.WithLabelValues(source, "error").Inc()
		return err
	}

	mu.Lock()
	stats.Aggregate(res)
	mu.Unlock()

	for _, ne := range res.NormalizationErrors {
		o.log(run, models.LogLevelWarn, fmt.Sprintf("%s: dropped %s %q: %s", page.SourceURL, ne.Field, ne.Raw, ne.Reason), source)
	}

	if res.Accepted {
		metrics.PagesTotal.WithLabelValues(source, "accepted").Inc()
		if res.Duplicate {
			metrics.DuplicatesTotal.WithLabelValues(source).Inc()
		}
		return nil
	}
	metrics.PagesTotal.WithLabelValues(source, "rejected").Inc()
	for _, reason := range res.Reasons {
		metrics.RejectionsTotal.WithLabelValues(string(reason)).Inc()
	}
	return nil
}

func (o *Orchestrator) log(run *models.BatchRun, level models.LogLevel, message, sourceID string) {
	switch level {
	case models.LogLevelError:
		logging.Errorf("%s", message)
	case models.LogLevelWarn:
		logging.Warnf("%s", message)
	case models.LogLevelDebug:
		logging.Debugf("%s", message)
	default:
		logging.Infof("%s", message)
	}
	if o.store != nil && run.ID != 0 {
		id := run.ID
		if err := o.store.Log(&id, level, message, sourceID); err != nil {
			logging.Debugf("failed to persist run log: %v", err)
		}
	}
}
