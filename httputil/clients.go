package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"listing_canon/config"
	"listing_canon/logging"
)

type Clients struct {
	Scraping *http.Client // proxied when configured, for listing sites
	API      *http.Client // direct, for robots.txt and object storage
}

func NewClients(cfg config.FetchConfig) *Clients {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			logging.Warnf("ignoring invalid proxy URL: %v", err)
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	scraping := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: timeout},
	}
}
