package models

import "time"

type ContentType string

const (
	ContentHTML ContentType = "html"
	ContentJSON ContentType = "json"
)

type CrawlMethod string

const (
	CrawlHTTP    CrawlMethod = "http"
	CrawlBrowser CrawlMethod = "browser"
	CrawlFile    CrawlMethod = "file"
)

// PageRef identifies one page of a batch before it is fetched.
type PageRef struct {
	SourceID string `json:"source_id"`
	URL      string `json:"url"`
	// Path is set for pages that already live on disk.
	Path string `json:"path,omitempty"`
}

// FetchedPage is the unit of input to the pipeline.
type FetchedPage struct {
	SourceID    string      `json:"source_id"`
	SourceURL   string      `json:"source_url"`
	Content     string      `json:"-"`
	ContentType ContentType `json:"content_type"`
	FetchedAt   time.Time   `json:"fetched_at"`
	CrawlMethod CrawlMethod `json:"crawl_method"`
}
