package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"
)

// hostLimiter spaces requests per host.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

func newHostLimiter(interval time.Duration) *hostLimiter {
	return &hostLimiter{limiters: make(map[string]*rate.Limiter), interval: interval}
}

// Wait blocks until a request to rawURL's host is allowed. A positive
// interval overrides the default for that host the first time it is seen.
func (l *hostLimiter) Wait(ctx context.Context, rawURL string, interval time.Duration) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	return l.get(strings.ToLower(u.Host), interval).Wait(ctx)
}

func (l *hostLimiter) get(host string, interval time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[host]; ok {
		return lim
	}
	if interval <= 0 {
		interval = l.interval
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	lim := rate.NewLimiter(limit, 1)
	l.limiters[host] = lim
	return lim
}

// slowDown lowers a host's rate to at most one request per interval.
func (l *hostLimiter) slowDown(host string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	lim := l.get(host, interval)
	if every := rate.Every(interval); lim.Limit() > every {
		lim.SetLimit(every)
	}
}

// robotsChecker caches robots.txt per host.
type robotsChecker struct {
	mu        sync.RWMutex
	cache     map[string]*robotstxt.RobotsData
	client    *http.Client
	userAgent string
}

func newRobotsChecker(client *http.Client, userAgent string) *robotsChecker {
	return &robotsChecker{
		cache:     make(map[string]*robotstxt.RobotsData),
		client:    client,
		userAgent: userAgent,
	}
}

// CanFetch reports whether rawURL may be fetched and the crawl delay asked
// for. An unreachable robots.txt allows everything.
func (r *robotsChecker) CanFetch(ctx context.Context, rawURL string) (bool, time.Duration, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, 0, fmt.Errorf("parse URL: %w", err)
	}
	data, err := r.robots(ctx, u)
	if err != nil {
		return true, 0, nil
	}

	agent := productToken(r.userAgent)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	var delay time.Duration
	if group := data.FindGroup(agent); group != nil {
		delay = group.CrawlDelay
	}
	return data.TestAgent(path, agent), delay, nil
}

func (r *robotsChecker) robots(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(u.Host)
	r.mu.RLock()
	data, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	data, err = robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	r.mu.Lock()
	r.cache[host] = data
	r.mu.Unlock()
	return data, nil
}

// productToken is the first token of a user agent without its version,
// which is what robots.txt groups match on.
func productToken(ua string) string {
	fields := strings.Fields(ua)
	if len(fields) == 0 {
		return ua
	}
	if fields[0] == "Mozilla/5.0" {
		for _, f := range fields[1:] {
			f = strings.Trim(f, "();")
			if f != "" && f != "compatible" {
				return strings.Split(f, "/")[0]
			}
		}
	}
	return strings.Split(fields[0], "/")[0]
}
