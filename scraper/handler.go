package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"listing_canon/config"
	"listing_canon/httputil"
	"listing_canon/models"
)

// ErrFetcherUnavailable means the fetcher cannot serve any page at all (no
// browser, missing input directory). It aborts the batch.
var ErrFetcherUnavailable = errors.New("fetcher unavailable")

// PageFetcher turns a page reference into page content.
type PageFetcher interface {
	Fetch(ctx context.Context, ref models.PageRef) (*models.FetchedPage, error)
}

// Router sends each reference to the fetcher matching its source's crawl
// method. Refs that point at a file on disk always go to the file fetcher.
type Router struct {
	cfg     *config.Config
	file    PageFetcher
	http    PageFetcher
	browser PageFetcher
}

func NewRouter(cfg *config.Config, clients *httputil.Clients) *Router {
	return &Router{
		cfg:     cfg,
		file:    NewFileFetcher(cfg),
		http:    NewHTTPFetcher(cfg, clients),
		browser: NewBrowserFetcher(cfg),
	}
}

func (r *Router) Fetch(ctx context.Context, ref models.PageRef) (*models.FetchedPage, error) {
	f, err := r.fetcherFor(ref)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx, ref)
}

func (r *Router) fetcherFor(ref models.PageRef) (PageFetcher, error) {
	if ref.Path != "" {
		return r.file, nil
	}
	sourceID := ref.SourceID
	if sourceID == "" {
		sourceID = r.cfg.GuessSource(ref.URL)
	}
	switch method := crawlMethod(r.cfg.Source(sourceID).CrawlMethod, models.CrawlHTTP); method {
	case models.CrawlBrowser:
		return r.browser, nil
	case models.CrawlHTTP:
		return r.http, nil
	default:
		return nil, fmt.Errorf("%w: no fetcher for crawl method %s", ErrFetcherUnavailable, method)
	}
}

// Close releases the browser if one was started.
func (r *Router) Close() {
	if b, ok := r.browser.(*BrowserFetcher); ok {
		b.Close()
	}
}

// crawlMethod maps a configured or recorded crawl method name onto a
// CrawlMethod. Unknown names fall back to def.
func crawlMethod(name string, def models.CrawlMethod) models.CrawlMethod {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case n == "":
		return def
	case strings.Contains(n, "browser"), strings.Contains(n, "playwright"), strings.Contains(n, "chrom"):
		return models.CrawlBrowser
	case n == "http", n == "https", n == "api", strings.Contains(n, "request"):
		return models.CrawlHTTP
	case n == "file":
		return models.CrawlFile
	default:
		return def
	}
}
