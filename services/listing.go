package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"listing_canon/config"
	"listing_canon/extract"
	"listing_canon/identity"
	"listing_canon/logging"
	"listing_canon/models"
	"listing_canon/normalize"
	"listing_canon/storage"
	"listing_canon/validate"
)

// ListingService runs one page through extraction, normalization,
// validation and identification, and hands the result to the sink.
type ListingService struct {
	cfg         *config.Config
	coordinator *extract.Coordinator
	validator   *validate.Validator
	dedup       *identity.Deduplicator
	assembler   TableAssembler
	sink        storage.RecordSink

	// commitMu serializes identify+write so the dedup index and the sink
	// always agree on which listings exist.
	commitMu sync.Mutex
	now      func() time.Time
}

func NewListingService(cfg *config.Config, dedup *identity.Deduplicator, sink storage.RecordSink) *ListingService {
	return &ListingService{
		cfg:         cfg,
		coordinator: extract.NewCoordinator(cfg),
		validator:   validate.NewValidator(cfg.Pipeline.Validation),
		dedup:       dedup,
		sink:        sink,
		now:         time.Now,
	}
}

// ProcessResult contains the outcome of processing one page
type ProcessResult struct {
	SourceURL           string
	ListingID           string
	PropertyID          string
	Accepted            bool
	Reasons             []models.RejectionReason
	Duplicate           bool
	LowConfidence       bool
	Warnings            int
	NormalizationErrors []models.NormalizationError
	ExtractionFailures  int
}

// draft is a page that went through the pure part of the pipeline.
type draft struct {
	page      *models.FetchedPage
	listing   *models.CanonicalListing
	rejection *models.RejectionEntry
	result    *ProcessResult
}

// ProcessPage is safe to call from many goroutines. Re-processing the same
// page yields the same ids and rows. Only sink errors are returned; a
// rejected page is a result, not an error.
func (s *ListingService) ProcessPage(ctx context.Context, page *models.FetchedPage) (*ProcessResult, error) {
	d := s.prepare(page)
	if d.rejection != nil {
		if err := s.writeRejection(ctx, d); err != nil {
			return d.result, err
		}
		return d.result, nil
	}
	if err := s.commit(ctx, d); err != nil {
		return d.result, err
	}
	return d.result, nil
}

func (s *ListingService) prepare(page *models.FetchedPage) *draft {
	if page.SourceID == "" {
		p := *page
		p.SourceID = s.cfg.GuessSource(page.SourceURL)
		page = &p
	}
	d := &draft{page: page, result: &ProcessResult{SourceURL: page.SourceURL}}

	res, err := s.coordinator.Extract(page)
	d.result.ExtractionFailures = len(res.Failures)
	if errors.Is(err, extract.ErrNoExtractableData) {
		d.reject(s.now(), res.Bag, nil, models.Rejected([]models.RejectionReason{models.ReasonNoExtractableData}))
		return d
	}

	listing, nerrs := normalize.ForSource(s.cfg, page.SourceID).Normalize(res.Bag, page)
	listing.Provenance = res.Provenance
	listing.NormalizationErrors = nerrs
	d.result.NormalizationErrors = nerrs

	verdict := s.validator.Validate(listing)
	d.result.Warnings = len(verdict.Warnings())
	if !verdict.IsAccepted() {
		d.reject(s.now(), res.Bag, nerrs, verdict)
		return d
	}

	d.listing = listing
	return d
}

func (d *draft) reject(at time.Time, bag *models.RawFieldBag, nerrs []models.NormalizationError, verdict models.ValidationResult) {
	d.result.Reasons = verdict.Reasons()
	d.rejection = &models.RejectionEntry{
		SourceURL:           d.page.SourceURL,
		SourceID:            d.page.SourceID,
		Reasons:             verdict.Reasons(),
		Warnings:            verdict.Warnings(),
		RawFieldBag:         bag.Snapshot(),
		NormalizationErrors: nerrs,
		FetchedAt:           d.page.FetchedAt,
		RejectedAt:          at.UTC(),
	}
	logging.Infof("%s: rejected %v", d.page.SourceURL, d.result.Reasons)
}

// writeRejection also withdraws any listing accepted earlier from the same
// page, so a URL is never both a listing and a rejection.
func (s *ListingService) writeRejection(ctx context.Context, d *draft) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	w := s.dedup.Withdraw(d.page.SourceURL)
	d.rejection.Withdrawn = w.ListingIDs
	d.rejection.VerdictUpdates = verdictUpdates(w.Counterparts)
	if err := s.sink.WriteRejection(ctx, d.rejection); err != nil {
		s.dedup.Restore(w)
		return fmt.Errorf("write rejection %s: %w", d.page.SourceURL, err)
	}
	return nil
}

func (s *ListingService) commit(ctx context.Context, d *draft) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	l := d.listing
	id := s.dedup.Identify(l)
	if err := l.SetIdentity(id.ListingID, id.PropertyID); err != nil {
		s.dedup.Forget(id)
		return fmt.Errorf("identify %s: %w", l.SourceURL, err)
	}
	l.LowConfidenceIdentity = id.LowConfidence
	l.Duplicate = id.Verdict

	group := s.assembler.Assemble(l, id)
	if err := s.sink.WriteGroup(ctx, group); err != nil {
		s.dedup.Forget(id)
		return fmt.Errorf("write listing %s: %w", l.ListingID, err)
	}

	d.result.Accepted = true
	d.result.ListingID = id.ListingID
	d.result.PropertyID = id.PropertyID
	d.result.Duplicate = id.Verdict.IsDuplicate()
	d.result.LowConfidence = id.LowConfidence
	logging.Debugf("%s: accepted as %s (property %s)", l.SourceURL, id.ListingID, id.PropertyID)
	return nil
}

// IndexLoader is implemented by stores that can replay earlier listings into
// the dedup index.
type IndexLoader interface {
	LoadIndex(ctx context.Context) ([]identity.Entry, []models.DuplicateLink, error)
}

// WarmIndex restores the dedup index from loader so a new process keeps
// linking against listings stored by earlier runs.
func WarmIndex(ctx context.Context, dedup *identity.Deduplicator, loader IndexLoader) error {
	entries, links, err := loader.LoadIndex(ctx)
	if err != nil {
		return fmt.Errorf("load dedup index: %w", err)
	}
	dedup.Index().Load(entries, links)
	logging.Infof("Dedup index warmed with %d listings and %d links", len(entries), len(links))
	return nil
}
