package remote

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/port"
)

// Config contains origin client settings
type Config struct {
	ConnectTimeout        time.Duration
	ResponseHeaderTimeout time.Duration
	ProbeTimeout          time.Duration
	UserAgent             string
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:        15 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ProbeTimeout:          5 * time.Second,
		UserAgent:             "transferd/1.0",
	}
}

// Client talks to download origins
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// Ensure Client implements port.Origin
var _ port.Origin = (*Client)(nil)

// NewClient creates an origin client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	defaults := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.ResponseHeaderTimeout <= 0 {
		cfg.ResponseHeaderTimeout = defaults.ResponseHeaderTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,

		// Connection pooling
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.ConnectTimeout,

		// Byte offsets must refer to the raw representation
		DisableCompression: true,

		// Response header timeout (not total download timeout)
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   0, // No timeout for downloads
		},
		logger: logger,
	}
}

// Fetch performs a GET request with the given headers
func (c *Client) Fetch(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewTransportError("build request", err)
	}

	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewTransportError("request", err)
	}
	return resp, nil
}
