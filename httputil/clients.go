package httputil

import (
	"net/http"
	"net/url"
	"time"

	"ikman_scrooper/config"
)

type Clients struct {
	Scraping *http.Client // pages, proxied when configured
	Media    *http.Client // image downloads
}

func NewClients(fetchCfg *config.FetchConfig, proxyCfg *config.ProxyConfig) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	timeout := fetchCfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Clients{
		Scraping: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		Media: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}
}
