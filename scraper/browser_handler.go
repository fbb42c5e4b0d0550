package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"listing_canon/config"
	"listing_canon/logging"
	"listing_canon/models"
)

// BrowserFetcher renders pages in Chromium for sites that only ship their
// listing data to a real browser. The browser starts on first use and is
// shared by all workers.
type BrowserFetcher struct {
	cfg     *config.Config
	limiter *hostLimiter

	mu          sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	initialized bool
}

func NewBrowserFetcher(cfg *config.Config) *BrowserFetcher {
	return &BrowserFetcher{
		cfg:     cfg,
		limiter: newHostLimiter(time.Duration(cfg.Fetch.RateLimitMS) * time.Millisecond),
	}
}

func (b *BrowserFetcher) Fetch(ctx context.Context, ref models.PageRef) (*models.FetchedPage, error) {
	if err := b.ensureBrowser(); err != nil {
		return nil, err
	}

	sourceID := ref.SourceID
	if sourceID == "" {
		sourceID = b.cfg.GuessSource(ref.URL)
	}
	interval := time.Duration(b.cfg.Source(sourceID).RateLimitMS) * time.Millisecond
	if err := b.limiter.Wait(ctx, ref.URL, interval); err != nil {
		return nil, err
	}

	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	timeout := b.cfg.Fetch.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	resp, err := page.Goto(ref.URL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", ref.URL, err)
	}
	if resp != nil && resp.Status() >= 400 {
		return nil, fmt.Errorf("navigate %s: status %d", ref.URL, resp.Status())
	}

	handleConsent(page)
	simulateHumanBehavior(page)

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", ref.URL, err)
	}
	if trigger := detectBlock(content); trigger != "" {
		return nil, fmt.Errorf("%s: blocked (%s)", ref.URL, trigger)
	}

	finalURL := page.URL()
	if finalURL == "" || finalURL == "about:blank" {
		finalURL = ref.URL
	}
	return &models.FetchedPage{
		SourceID:    sourceID,
		SourceURL:   finalURL,
		Content:     content,
		ContentType: models.ContentHTML,
		FetchedAt:   time.Now().UTC(),
		CrawlMethod: models.CrawlBrowser,
	}, nil
}

func (b *BrowserFetcher) ensureBrowser() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("%w: failed to start playwright: %v", ErrFetcherUnavailable, err)
	}

	cwd, _ := os.Getwd()
	userDataDir := filepath.Join(cwd, "browser_data")
	bctx, err := pw.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:  playwright.Bool(b.cfg.Fetch.Headless),
		UserAgent: playwright.String(b.cfg.Fetch.UserAgent),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("%w: failed to launch browser: %v", ErrFetcherUnavailable, err)
	}

	b.pw = pw
	b.context = bctx
	b.initialized = true
	logging.Infof("Browser started (headless=%v)", b.cfg.Fetch.Headless)
	return nil
}

func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.context != nil {
		b.context.Close()
		b.context = nil
	}
	if b.pw != nil {
		b.pw.Stop()
		b.pw = nil
	}
	b.initialized = false
}

func simulateHumanBehavior(page playwright.Page) {
	page.Mouse().Move(float64(300+rand.Intn(400)), float64(200+rand.Intn(300)))
	page.WaitForTimeout(float64(200 + rand.Intn(300)))
	page.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, 100+rand.Intn(300)))
	page.WaitForTimeout(float64(200 + rand.Intn(300)))
}

var consentSelectors = []string{
	"button:has-text('Consent')",
	"button[id*='accept']",
	"button[class*='accept']",
	"button[class*='consent']",
	"#didomi-notice-agree-button",
	"button:has-text('Accept All')",
	"button:has-text('I Accept')",
	"button:has-text('Agree')",
}

func handleConsent(page playwright.Page) {
	for _, selector := range consentSelectors {
		btn := page.Locator(selector).First()
		if visible, _ := btn.IsVisible(); visible {
			logging.Debugf("Clicking consent button: %s", selector)
			btn.Click()
			page.WaitForTimeout(1000)
			return
		}
	}
}

var blockTriggers = []string{
	"Request unsuccessful. Incapsula",
	"Incapsula incident ID",
	"Access Denied",
	"This request was blocked",
	"Press & Hold to confirm you are",
	"px-captcha",
}

// detectBlock returns the bot-wall marker found in content, if any. Pages
// that already show listing markup are never treated as blocked.
func detectBlock(content string) string {
	if strings.Contains(content, "application/ld+json") || strings.Contains(content, "__NEXT_DATA__") {
		return ""
	}
	for _, t := range blockTriggers {
		if strings.Contains(content, t) {
			return t
		}
	}
	return ""
}
