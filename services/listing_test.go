package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"listing_canon/config"
	"listing_canon/identity"
	"listing_canon/models"
	"listing_canon/storage"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.DefaultPipeline(),
		Sources: map[string]*config.SourceConfig{
			"alpha": {ID: "alpha", HostPatterns: []string{"alpha.example.com"}},
			"beta":  {ID: "beta", HostPatterns: []string{"beta.example.com"}},
		},
	}
}

func newTestService(cfg *config.Config, sink storage.RecordSink) (*ListingService, *identity.Deduplicator) {
	dedup := identity.NewDeduplicator(cfg.Pipeline.Dedup)
	svc := NewListingService(cfg, dedup, sink)
	svc.now = func() time.Time { return time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC) }
	return svc, dedup
}

func page(t *testing.T, fixture, sourceID, url string) *models.FetchedPage {
	t.Helper()
	return &models.FetchedPage{
		SourceID:    sourceID,
		SourceURL:   url,
		Content:     loadFixture(t, fixture),
		ContentType: models.ContentHTML,
		FetchedAt:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		CrawlMethod: models.CrawlFile,
	}
}

func TestProcessPage_Accepted(t *testing.T) {
	sink := storage.NewMemorySink()
	svc, _ := newTestService(testConfig(), sink)

	res, err := svc.ProcessPage(context.Background(), page(t, "alpha_listing.html", "alpha", "https://alpha.example.com/listing/12-maple"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("expected accepted, got reasons %v", res.Reasons)
	}

	groups := sink.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	row := g.Listings[0]
	if row.ListingID != res.ListingID || row.PropertyID != res.PropertyID {
		t.Fatalf("row ids %s/%s do not match result %s/%s", row.ListingID, row.PropertyID, res.ListingID, res.PropertyID)
	}
	if row.ListPrice == nil || *row.ListPrice != 525000 {
		t.Fatalf("unexpected price %v", row.ListPrice)
	}
	if row.DuplicateStatus != string(models.DuplicateUnique) {
		t.Fatalf("expected unique, got %s", row.DuplicateStatus)
	}
	if g.Properties[0].AddressKey != "12 maple st|97201" {
		t.Fatalf("unexpected address key %q", g.Properties[0].AddressKey)
	}
	if len(g.Media) != 1 || g.Media[0].ListingID != row.ListingID {
		t.Fatalf("expected 1 media row keyed by listing, got %+v", g.Media)
	}
}

func TestProcessPage_KeepsDroppedValues(t *testing.T) {
	sink := storage.NewMemorySink()
	svc, _ := newTestService(testConfig(), sink)

	res, err := svc.ProcessPage(context.Background(), page(t, "unknown_year.html", "alpha", "https://alpha.example.com/listing/12-maple"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("expected accepted, got reasons %v", res.Reasons)
	}
	if len(res.NormalizationErrors) != 1 || res.NormalizationErrors[0].Field != models.FieldYearBuilt || res.NormalizationErrors[0].Raw != "unknown" {
		t.Fatalf("unexpected normalization errors %+v", res.NormalizationErrors)
	}

	var stored []models.NormalizationError
	if err := json.Unmarshal(sink.Groups()[0].Listings[0].NormalizationErrors, &stored); err != nil {
		t.Fatalf("listing row has no normalization errors: %v", err)
	}
	if !reflect.DeepEqual(stored, res.NormalizationErrors) {
		t.Fatalf("stored %+v, want %+v", stored, res.NormalizationErrors)
	}
}

func TestProcessPage_Idempotent(t *testing.T) {
	sink := storage.NewMemorySink()
	svc, dedup := newTestService(testConfig(), sink)
	ctx := context.Background()
	url := "https://alpha.example.com/listing/12-maple"

	first, err := svc.ProcessPage(ctx, page(t, "alpha_listing.html", "alpha", url))
	if err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	firstGroup, _ := json.Marshal(sink.Groups()[0])

	second, err := svc.ProcessPage(ctx, page(t, "alpha_listing.html", "alpha", url))
	if err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if first.ListingID != second.ListingID || first.PropertyID != second.PropertyID {
		t.Fatalf("ids changed between runs: %+v vs %+v", first, second)
	}
	if second.Duplicate {
		t.Fatal("re-processed page matched itself")
	}
	if len(sink.Groups()) != 1 || dedup.Index().Len() != 1 {
		t.Fatalf("expected one listing, got %d groups and %d index entries", len(sink.Groups()), dedup.Index().Len())
	}
	secondGroup, _ := json.Marshal(sink.Groups()[0])
	if string(firstGroup) != string(secondGroup) {
		t.Fatalf("rows differ between runs:\n%s\n%s", firstGroup, secondGroup)
	}
}

func TestProcessPage_CrossSourceDuplicate(t *testing.T) {
	sink := storage.NewMemorySink()
	svc, _ := newTestService(testConfig(), sink)
	ctx := context.Background()

	a, err := svc.ProcessPage(ctx, page(t, "alpha_listing.html", "alpha", "https://alpha.example.com/listing/12-maple"))
	if err != nil {
		t.Fatalf("alpha failed: %v", err)
	}
	b, err := svc.ProcessPage(ctx, page(t, "beta_listing.html", "beta", "https://beta.example.com/homes/12-maple-st"))
	if err != nil {
		t.Fatalf("beta failed: %v", err)
	}

	if a.PropertyID != b.PropertyID {
		t.Fatalf("expected shared property, got %s and %s", a.PropertyID, b.PropertyID)
	}
	if a.ListingID == b.ListingID {
		t.Fatal("listings from different sources share an id")
	}
	if !b.Duplicate {
		t.Fatal("second listing should be a possible duplicate")
	}

	groups := sink.Groups()
	rowA, rowB := groups[0].Listings[0], groups[1].Listings[0]
	if rowA.DuplicateStatus != string(models.DuplicatePossible) || !reflect.DeepEqual(rowA.DuplicateCandidates, []string{b.ListingID}) {
		t.Fatalf("first listing not updated: %s %v", rowA.DuplicateStatus, rowA.DuplicateCandidates)
	}
	if !reflect.DeepEqual(rowB.DuplicateCandidates, []string{a.ListingID}) {
		t.Fatalf("unexpected candidates %v", rowB.DuplicateCandidates)
	}
	if rowA.DuplicateConfidence != rowB.DuplicateConfidence || rowB.DuplicateConfidence != 1 {
		t.Fatalf("expected symmetric confidence 1, got %v and %v", rowA.DuplicateConfidence, rowB.DuplicateConfidence)
	}
	if len(groups[1].DuplicateLinks) != 2 {
		t.Fatalf("expected links in both directions, got %+v", groups[1].DuplicateLinks)
	}
}

type failOnceSink struct {
	*storage.MemorySink
	failed bool
}

func (s *failOnceSink) WriteGroup(ctx context.Context, g *models.TableGroup) error {
	if !s.failed {
		s.failed = true
		return errors.New("database is locked")
	}
	return s.MemorySink.WriteGroup(ctx, g)
}

func TestProcessPage_FailedWriteLeavesNoIndexEntry(t *testing.T) {
	sink := &failOnceSink{MemorySink: storage.NewMemorySink()}
	svc, dedup := newTestService(testConfig(), sink)
	ctx := context.Background()

	lost, err := svc.ProcessPage(ctx, page(t, "alpha_listing.html", "alpha", "https://alpha.example.com/listing/12-maple"))
	if err == nil {
		t.Fatal("expected write error")
	}
	if lost.Accepted {
		t.Fatal("unwritten listing reported as accepted")
	}
	if dedup.Index().Len() != 0 {
		t.Fatalf("index kept %d entries for an unwritten listing", dedup.Index().Len())
	}

	b, err := svc.ProcessPage(ctx, page(t, "beta_listing.html", "beta", "https://beta.example.com/homes/12-maple-st"))
	if err != nil {
		t.Fatalf("beta failed: %v", err)
	}
	if b.Duplicate {
		t.Fatal("beta linked to a listing that was never stored")
	}
	if row := sink.Groups()[0].Listings[0]; len(row.DuplicateCandidates) != 0 {
		t.Fatalf("unexpected candidates %v", row.DuplicateCandidates)
	}
}

func TestProcessPage_GuessesSource(t *testing.T) {
	sink := storage.NewMemorySink()
	svc, _ := newTestService(testConfig(), sink)

	p := page(t, "beta_listing.html", "", "https://www.beta.example.com/homes/12-maple-st")
	if _, err := svc.ProcessPage(context.Background(), p); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if got := sink.Groups()[0].Listings[0].SourceID; got != "beta" {
		t.Fatalf("expected source beta, got %q", got)
	}
	if p.SourceID != "" {
		t.Fatal("caller's page was modified")
	}
}

func TestProcessPage_Rejections(t *testing.T) {
	sink := storage.NewMemorySink()
	svc, _ := newTestService(testConfig(), sink)
	ctx := context.Background()

	res, err := svc.ProcessPage(ctx, page(t, "no_price.html", "alpha", "https://alpha.example.com/listing/40-birch"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Accepted || !reflect.DeepEqual(res.Reasons, []models.RejectionReason{models.ReasonMissingPrice}) {
		t.Fatalf("expected MissingPrice rejection, got %+v", res)
	}

	empty := &models.FetchedPage{
		SourceID:    "alpha",
		SourceURL:   "https://alpha.example.com/listing/gone",
		Content:     "<!DOCTYPE html>\n<html><head></head><body></body></html>",
		ContentType: models.ContentHTML,
		FetchedAt:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	res, err = svc.ProcessPage(ctx, empty)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Accepted || len(res.Reasons) != 1 || res.Reasons[0] != models.ReasonNoExtractableData {
		t.Fatalf("expected NoExtractableData, got %+v", res)
	}

	if len(sink.Groups()) != 0 {
		t.Fatalf("rejected pages produced rows: %d", len(sink.Groups()))
	}
	rejections := sink.Rejections()
	if len(rejections) != 2 {
		t.Fatalf("expected 2 rejections, got %d", len(rejections))
	}
	for _, r := range rejections {
		if r.SourceURL == "https://alpha.example.com/listing/40-birch" {
			if r.RawFieldBag["beds"] == nil {
				t.Errorf("raw bag not kept: %v", r.RawFieldBag)
			}
			if !r.RejectedAt.Equal(time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)) {
				t.Errorf("unexpected rejected_at %v", r.RejectedAt)
			}
		}
	}
}

func TestProcessPage_RejectedRecrawlWithdrawsListing(t *testing.T) {
	sink := storage.NewMemorySink()
	svc, dedup := newTestService(testConfig(), sink)
	ctx := context.Background()
	url := "https://alpha.example.com/listing/12-maple"

	a, err := svc.ProcessPage(ctx, page(t, "alpha_listing.html", "alpha", url))
	if err != nil {
		t.Fatalf("alpha failed: %v", err)
	}
	b, err := svc.ProcessPage(ctx, page(t, "beta_listing.html", "beta", "https://beta.example.com/homes/12-maple-st"))
	if err != nil {
		t.Fatalf("beta failed: %v", err)
	}
	if !b.Duplicate {
		t.Fatal("beta should be a possible duplicate of alpha")
	}

	res, err := svc.ProcessPage(ctx, page(t, "no_price.html", "alpha", url))
	if err != nil {
		t.Fatalf("recrawl failed: %v", err)
	}
	if res.Accepted {
		t.Fatal("recrawl without price was accepted")
	}

	groups := sink.Groups()
	if len(groups) != 1 || groups[0].Listings[0].ListingID != b.ListingID {
		t.Fatalf("expected only beta to remain, got %d groups", len(groups))
	}
	if row := groups[0].Listings[0]; row.DuplicateStatus != string(models.DuplicateUnique) || len(row.DuplicateCandidates) != 0 {
		t.Fatalf("beta still points at the withdrawn listing: %s %v", row.DuplicateStatus, row.DuplicateCandidates)
	}
	rejections := sink.Rejections()
	if len(rejections) != 1 || !reflect.DeepEqual(rejections[0].Withdrawn, []string{a.ListingID}) {
		t.Fatalf("rejection does not name the withdrawn listing: %+v", rejections)
	}
	if dedup.Index().Len() != 1 {
		t.Fatalf("index kept %d entries, want 1", dedup.Index().Len())
	}
}

type rejectFailSink struct {
	*storage.MemorySink
}

func (s rejectFailSink) WriteRejection(context.Context, *models.RejectionEntry) error {
	return errors.New("disk full")
}

func TestProcessPage_FailedRejectionKeepsListing(t *testing.T) {
	sink := rejectFailSink{MemorySink: storage.NewMemorySink()}
	svc, dedup := newTestService(testConfig(), sink)
	ctx := context.Background()
	url := "https://alpha.example.com/listing/12-maple"

	a, err := svc.ProcessPage(ctx, page(t, "alpha_listing.html", "alpha", url))
	if err != nil {
		t.Fatalf("alpha failed: %v", err)
	}
	if _, err := svc.ProcessPage(ctx, page(t, "no_price.html", "alpha", url)); err == nil {
		t.Fatal("expected rejection write error")
	}
	if dedup.Index().Len() != 1 {
		t.Fatalf("index has %d entries, want 1", dedup.Index().Len())
	}

	b, err := svc.ProcessPage(ctx, page(t, "beta_listing.html", "beta", "https://beta.example.com/homes/12-maple-st"))
	if err != nil {
		t.Fatalf("beta failed: %v", err)
	}
	if !b.Duplicate {
		t.Fatalf("beta should still match %s", a.ListingID)
	}
}

func TestProcessPage_BlockedPageHasNoData(t *testing.T) {
	sink := storage.NewMemorySink()
	svc, _ := newTestService(testConfig(), sink)

	blocked := &models.FetchedPage{
		SourceID:    "alpha",
		SourceURL:   "https://alpha.example.com/listing/12-maple",
		Content:     "<html><head><title>Access Denied</title></head><body></body></html>",
		ContentType: models.ContentHTML,
	}
	res, err := svc.ProcessPage(context.Background(), blocked)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !reflect.DeepEqual(res.Reasons, []models.RejectionReason{models.ReasonNoExtractableData}) {
		t.Fatalf("expected NoExtractableData, got %v", res.Reasons)
	}
	if r := sink.Rejections()[0]; r.RawFieldBag[models.FieldTitle] != "Access Denied" {
		t.Fatalf("raw bag not kept: %v", r.RawFieldBag)
	}
}

func TestProcessPage_Concurrent(t *testing.T) {
	sink := storage.NewMemorySink()
	svc, dedup := newTestService(testConfig(), sink)
	ctx := context.Background()

	pages := []*models.FetchedPage{
		page(t, "alpha_listing.html", "alpha", "https://alpha.example.com/listing/12-maple"),
		page(t, "beta_listing.html", "beta", "https://beta.example.com/homes/12-maple-st"),
		page(t, "no_price.html", "alpha", "https://alpha.example.com/listing/40-birch"),
	}

	var wg sync.WaitGroup
	stats := &ProcessStats{}
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		for _, p := range pages {
			wg.Add(1)
			go func(p *models.FetchedPage) {
				defer wg.Done()
				res, err := svc.ProcessPage(ctx, p)
				if err != nil {
					t.Errorf("process failed: %v", err)
					return
				}
				mu.Lock()
				stats.Aggregate(res)
				mu.Unlock()
			}(p)
		}
	}
	wg.Wait()

	if stats.PagesProcessed != 9 || stats.Rejected != 3 || stats.Accepted != 6 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Reasons[models.ReasonMissingPrice] != 3 {
		t.Fatalf("unexpected reasons %v", stats.Reasons)
	}
	if dedup.Index().Len() != 2 || len(sink.Groups()) != 2 {
		t.Fatalf("expected 2 listings, got index %d groups %d", dedup.Index().Len(), len(sink.Groups()))
	}
	for _, g := range sink.Groups() {
		if g.Listings[0].DuplicateStatus != string(models.DuplicatePossible) {
			t.Fatalf("listing %s should end as possible duplicate", g.Listings[0].ListingID)
		}
	}
}

func TestProcessStats_ApplyTo(t *testing.T) {
	s := &ProcessStats{}
	s.Aggregate(&ProcessResult{Accepted: true, Duplicate: true})
	s.Aggregate(&ProcessResult{Reasons: []models.RejectionReason{models.ReasonMissingSpecs}})
	s.FetchErrors = 1

	var run models.BatchRun
	s.ApplyTo(&run)
	if run.PagesSeen != 3 || run.Accepted != 1 || run.Rejected != 1 || run.Duplicates != 1 || run.FetchErrors != 1 {
		t.Fatalf("unexpected run counters %+v", run)
	}

	var meta map[string]any
	if err := json.Unmarshal(s.ToJSON(), &meta); err != nil {
		t.Fatalf("invalid stats json: %v", err)
	}
	reasons := meta["rejection_reasons"].(map[string]any)
	if reasons["MissingSpecs"] != float64(1) {
		t.Fatalf("unexpected reasons %v", reasons)
	}
}
