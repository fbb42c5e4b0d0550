package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"listing_canon/config"
	"listing_canon/httputil"
	"listing_canon/logging"
	"listing_canon/models"
)

const (
	maxRetries   = 2
	maxPageBytes = 10 << 20
)

// ErrDisallowed is returned for pages robots.txt asks us not to fetch.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// HTTPFetcher fetches pages with a plain GET. Requests are spaced per host,
// recent responses are cached and robots.txt is honoured when configured.
type HTTPFetcher struct {
	cfg     *config.Config
	client  *http.Client
	limiter *hostLimiter
	cache   *gocache.Cache
	robots  *robotsChecker
	backoff time.Duration
	now     func() time.Time
}

func NewHTTPFetcher(cfg *config.Config, clients *httputil.Clients) *HTTPFetcher {
	f := &HTTPFetcher{
		cfg:     cfg,
		client:  clients.Scraping,
		limiter: newHostLimiter(time.Duration(cfg.Fetch.RateLimitMS) * time.Millisecond),
		backoff: 2 * time.Second,
		now:     time.Now,
	}
	if cfg.Fetch.CacheTTL > 0 {
		f.cache = gocache.New(cfg.Fetch.CacheTTL, 2*cfg.Fetch.CacheTTL)
	}
	if cfg.Fetch.RespectRobots {
		f.robots = newRobotsChecker(clients.API, cfg.Fetch.UserAgent)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref models.PageRef) (*models.FetchedPage, error) {
	u, err := url.Parse(ref.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid page url %q", ref.URL)
	}
	if f.cache != nil {
		if cached, ok := f.cache.Get(ref.URL); ok {
			page := *cached.(*models.FetchedPage)
			logging.Debugf("%s: served from cache", ref.URL)
			return &page, nil
		}
	}

	sourceID := ref.SourceID
	if sourceID == "" {
		sourceID = f.cfg.GuessSource(ref.URL)
	}
	interval := time.Duration(f.cfg.Source(sourceID).RateLimitMS) * time.Millisecond

	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, ref.URL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", ref.URL, ErrDisallowed)
		}
		f.limiter.slowDown(strings.ToLower(u.Host), delay)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.backoff * time.Duration(attempt)):
			}
		}
		if err := f.limiter.Wait(ctx, ref.URL, interval); err != nil {
			return nil, err
		}

		page, retry, err := f.get(ctx, ref.URL)
		if err == nil {
			page.SourceID = sourceID
			if f.cache != nil {
				f.cache.SetDefault(ref.URL, page)
			}
			return page, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		logging.Debugf("%s: attempt %d failed: %v", ref.URL, attempt+1, err)
	}
	return nil, lastErr
}

// get performs one request. retry reports whether the failure is worth
// another attempt (429, 5xx and transport errors).
func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (*models.FetchedPage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", f.cfg.Fetch.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, fmt.Errorf("get %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read %s: %w", rawURL, err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &models.FetchedPage{
		SourceURL:   finalURL,
		Content:     string(body),
		ContentType: responseContentType(resp.Header.Get("Content-Type"), body),
		FetchedAt:   f.now().UTC(),
		CrawlMethod: models.CrawlHTTP,
	}, false, nil
}

func responseContentType(header string, body []byte) models.ContentType {
	if mt, _, err := mime.ParseMediaType(header); err == nil {
		if mt == "application/json" || strings.HasSuffix(mt, "+json") {
			return models.ContentJSON
		}
		if strings.Contains(mt, "html") {
			return models.ContentHTML
		}
	}
	return contentType("", body)
}
