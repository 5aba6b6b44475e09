package backend

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

func buildTargetURL(baseURL, path string) string {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		u, _ = url.Parse(defaultOllamaURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

// NewHTTPClient returns a client for a local model server: short connect,
// long wait for the first byte while the model loads, no overall timeout
// because generations stream for as long as they need.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: 300 * time.Second,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       120 * time.Second,
		},
	}
}
