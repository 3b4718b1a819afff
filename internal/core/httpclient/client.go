// Package httpclient configures the outbound HTTP client used to fetch
// remote region documents.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound builds a client with pooling and timeouts. Region sources
// are fetched rarely, but a hung upstream must not hang the load request
// with it.
func NewOutbound() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}
