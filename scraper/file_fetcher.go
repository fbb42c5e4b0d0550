package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"listing_canon/config"
	"listing_canon/logging"
	"listing_canon/models"
)

// FileFetcher reads pages saved by an earlier crawl. Each page is a
// NNNN_raw.html (or NNNN_raw.json) file next to a NNNN_meta.json file.
type FileFetcher struct {
	cfg *config.Config
}

func NewFileFetcher(cfg *config.Config) *FileFetcher {
	return &FileFetcher{cfg: cfg}
}

// pageMeta is the sidecar written next to every saved page.
type pageMeta struct {
	RequestedURL     string `json:"requested_url"`
	FinalURL         string `json:"final_url"`
	SourceID         string `json:"source_id"`
	CrawlMethod      string `json:"crawl_method"`
	FetchedAt        string `json:"fetched_at"`
	ScrapedTimestamp string `json:"scraped_timestamp"`
}

func (m pageMeta) url() string {
	if m.FinalURL != "" {
		return m.FinalURL
	}
	return m.RequestedURL
}

func (m pageMeta) fetchedAt() (time.Time, bool) {
	for _, s := range []string{m.FetchedAt, m.ScrapedTimestamp} {
		if s == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// ListRefs returns one reference per saved page in dir, in file name order.
func (f *FileFetcher) ListRefs(dir string) ([]models.PageRef, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: input directory %s", ErrFetcherUnavailable, dir)
	}

	var paths []string
	for _, pattern := range []string{"*_raw.html", "*_raw.json"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	refs := make([]models.PageRef, 0, len(paths))
	for _, path := range paths {
		ref := models.PageRef{Path: path}
		if meta, err := readMeta(path); err != nil {
			logging.Warnf("%s: %v", path, err)
		} else {
			ref.URL = meta.url()
			ref.SourceID = f.sourceID(meta)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (f *FileFetcher) Fetch(ctx context.Context, ref models.PageRef) (*models.FetchedPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref.Path, err)
	}
	meta, err := readMeta(ref.Path)
	if err != nil {
		return nil, err
	}

	page := &models.FetchedPage{
		SourceID:    ref.SourceID,
		SourceURL:   ref.URL,
		Content:     string(data),
		ContentType: contentType(ref.Path, data),
		CrawlMethod: crawlMethod(meta.CrawlMethod, models.CrawlFile),
	}
	if page.SourceURL == "" {
		page.SourceURL = meta.url()
	}
	if page.SourceURL == "" {
		return nil, fmt.Errorf("%s: no source url in metadata", ref.Path)
	}
	if page.SourceID == "" {
		page.SourceID = f.sourceID(meta)
	}
	if t, ok := meta.fetchedAt(); ok {
		page.FetchedAt = t
	} else if info, err := os.Stat(ref.Path); err == nil {
		page.FetchedAt = info.ModTime().UTC()
	}
	return page, nil
}

func (f *FileFetcher) sourceID(meta pageMeta) string {
	if meta.SourceID != "" && meta.SourceID != "unknown" {
		return meta.SourceID
	}
	return f.cfg.GuessSource(meta.url())
}

func metaPath(rawPath string) string {
	base := filepath.Base(rawPath)
	idx := strings.LastIndex(base, "_raw.")
	if idx < 0 {
		return strings.TrimSuffix(rawPath, filepath.Ext(rawPath)) + "_meta.json"
	}
	return filepath.Join(filepath.Dir(rawPath), base[:idx]+"_meta.json")
}

func readMeta(rawPath string) (pageMeta, error) {
	var meta pageMeta
	path := metaPath(rawPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse %s: %w", path, err)
	}
	return meta, nil
}

func contentType(path string, data []byte) models.ContentType {
	if strings.HasSuffix(path, ".json") {
		return models.ContentJSON
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return models.ContentJSON
	}
	return models.ContentHTML
}
