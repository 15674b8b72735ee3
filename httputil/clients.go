package httputil

import (
	"net/http"
	"net/url"
	"time"

	"brassradar/config"
)

type Clients struct {
	API    *http.Client // marketplace search, detail and token calls
	Notify *http.Client // push notification delivery
	Media  *http.Client // image downloads
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	// Response decoding is done by the caller so brotli can be negotiated too.
	transport.DisableCompression = true

	return &Clients{
		API:    &http.Client{Timeout: 30 * time.Second, Transport: transport},
		Notify: &http.Client{Timeout: 10 * time.Second},
		Media:  &http.Client{Timeout: 60 * time.Second, Transport: transport},
	}
}
