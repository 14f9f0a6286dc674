package drivers

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/sashko-guz/spacer/internal/logger"
	"golang.org/x/net/http2"
)

var httpLog = logger.New("HTTP")

// HTTPConfig tunes the HTTP clients used for S3 and URL fetches.
// Zero values fall back to the defaults noted on each field.
type HTTPConfig struct {
	MaxIdleConns          int `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`                           // default: 100
	MaxIdleConnsPerHost   int `json:"max_idle_conns_per_host,omitempty" yaml:"max_idle_conns_per_host,omitempty"`         // default: 100
	MaxConnsPerHost       int `json:"max_conns_per_host,omitempty" yaml:"max_conns_per_host,omitempty"`                   // default: 0 = unlimited
	IdleConnTimeout       int `json:"idle_conn_timeout_sec,omitempty" yaml:"idle_conn_timeout_sec,omitempty"`             // default: 90
	ConnectTimeout        int `json:"connect_timeout_sec,omitempty" yaml:"connect_timeout_sec,omitempty"`                 // default: 10
	RequestTimeout        int `json:"request_timeout_sec,omitempty" yaml:"request_timeout_sec,omitempty"`                 // default: 0 = no client timeout
	ResponseHeaderTimeout int `json:"response_header_timeout_sec,omitempty" yaml:"response_header_timeout_sec,omitempty"` // default: 30
}

// NewHTTPClient builds a pooled HTTP/2-capable client.
//
// The request timeout defaults to zero: model files can take minutes to
// transfer, and callers bound the call through the context instead.
func NewHTTPClient(cfg *HTTPConfig) *http.Client {
	maxIdleConns := 100
	maxIdleConnsPerHost := 100
	maxConnsPerHost := 0
	idleConnTimeout := 90
	connectTimeout := 10
	requestTimeout := 0
	responseHeaderTimeout := 30

	if cfg != nil {
		if cfg.MaxIdleConns > 0 {
			maxIdleConns = cfg.MaxIdleConns
		}
		if cfg.MaxIdleConnsPerHost > 0 {
			maxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
		if cfg.MaxConnsPerHost > 0 {
			maxConnsPerHost = cfg.MaxConnsPerHost
		}
		if cfg.IdleConnTimeout > 0 {
			idleConnTimeout = cfg.IdleConnTimeout
		}
		if cfg.ConnectTimeout > 0 {
			connectTimeout = cfg.ConnectTimeout
		}
		if cfg.RequestTimeout > 0 {
			requestTimeout = cfg.RequestTimeout
		}
		if cfg.ResponseHeaderTimeout > 0 {
			responseHeaderTimeout = cfg.ResponseHeaderTimeout
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   time.Duration(connectTimeout) * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       time.Duration(idleConnTimeout) * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: time.Duration(responseHeaderTimeout) * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		httpLog.Warnf("Failed to configure HTTP/2: %v", err)
	}

	httpLog.Debugf("HTTP client configured: MaxIdleConns=%d, MaxIdleConnsPerHost=%d, MaxConnsPerHost=%d, ConnectTimeout=%ds, RequestTimeout=%ds",
		maxIdleConns, maxIdleConnsPerHost, maxConnsPerHost, connectTimeout, requestTimeout)

	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(requestTimeout) * time.Second,
	}
}
