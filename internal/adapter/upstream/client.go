// Package upstream talks to the external search/chat API: a single-attempt
// HTTP client, a classifier for upstream bodies, and a bounded retrier.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/search-gateway/internal/config"
	"github.com/fairyhunter13/search-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/search-gateway/internal/observability"
)

// maxResponseBytes caps how much of an upstream body is buffered.
const maxResponseBytes = 16 << 20

// ClientConfig configures the upstream HTTP client.
type ClientConfig struct {
	BaseURL            string
	Username           string
	Password           string
	UserAgent          string
	ConnectTimeout     time.Duration
	DefaultTimeout     time.Duration
	InsecureSkipVerify bool
	// MaxResponseBytes caps a buffered body; zero means 16 MiB.
	MaxResponseBytes int64
}

// ClientConfigFrom maps application config to a ClientConfig.
func ClientConfigFrom(cfg config.Config) ClientConfig {
	return ClientConfig{
		BaseURL:            cfg.UpstreamBaseURL,
		Username:           cfg.UpstreamUsername,
		Password:           cfg.UpstreamPassword,
		UserAgent:          cfg.UpstreamUserAgent,
		ConnectTimeout:     cfg.UpstreamConnectTimeout,
		DefaultTimeout:     cfg.UpstreamTimeout,
		InsecureSkipVerify: cfg.UpstreamInsecureSkipVerify,
	}
}

// Client performs single attempts against {BaseURL}/api/{endpoint}.
type Client struct {
	cfg  ClientConfig
	base *url.URL
	hc   *http.Client
}

// NewClient builds a client with an instrumented transport.
func NewClient(cc ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cc.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid upstream base url %q", domain.ErrInvalidArgument, cc.BaseURL)
	}
	if cc.ConnectTimeout <= 0 {
		cc.ConnectTimeout = 15 * time.Second
	}
	if cc.DefaultTimeout <= 0 {
		cc.DefaultTimeout = 60 * time.Second
	}
	if cc.MaxResponseBytes <= 0 {
		cc.MaxResponseBytes = maxResponseBytes
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: cc.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = cc.ConnectTimeout
	if cc.InsecureSkipVerify {
		// #nosec G402 -- the upstream is commonly reached by IP with a self-signed certificate
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	transport := otelhttp.NewTransport(tr,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Upstream %s %s", r.Method, r.URL.Path)
		}),
	)
	return &Client{
		cfg:  cc,
		base: base,
		hc:   &http.Client{Transport: transport},
	}, nil
}

// EndpointURL returns the upstream URL for endpoint with an optional raw query.
func (c *Client) EndpointURL(endpoint, rawQuery string) string {
	u := *c.base
	prefix := strings.TrimRight(u.Path, "/") + "/api/"
	u.Path = prefix + endpoint
	u.RawPath = prefix + url.PathEscape(endpoint)
	u.RawQuery = rawQuery
	return u.String()
}

// hopHeaders are never forwarded; the gateway sets its own auth and framing
// and browser cookies stay with the site.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
	"Host", "Authorization", "Cookie", "Content-Length", "Accept-Encoding",
}

// Do performs one attempt. Network failures and timeouts are reported in
// UpstreamResult.Err wrapped with domain.ErrTransport; HTTP error statuses are
// not errors at this layer.
func (c *Client) Do(ctx context.Context, call domain.UpstreamCall) domain.UpstreamResult {
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}
	target := c.EndpointURL(call.Endpoint, call.RawQuery)
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return domain.UpstreamResult{Err: fmt.Errorf("%w: build request: %v", domain.ErrTransport, err)}
	}
	for k, vv := range call.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	rid := call.RequestID
	if rid == "" {
		rid = obsctx.RequestIDFromContext(ctx)
	}
	if rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		obsctx.LoggerFromContext(ctx).Warn("upstream request failed",
			slog.String("method", method),
			slog.Any("error", err))
		return domain.UpstreamResult{Err: fmt.Errorf("%w: %v", domain.ErrTransport, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	limit := c.cfg.MaxResponseBytes
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return domain.UpstreamResult{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Err:        fmt.Errorf("%w: read body: %v", domain.ErrTransport, err),
		}
	}
	if int64(len(b)) > limit {
		return domain.UpstreamResult{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Err:        fmt.Errorf("%w: %w: body exceeds %d bytes", domain.ErrTransport, domain.ErrResponseTooLarge, limit),
		}
	}
	return domain.UpstreamResult{StatusCode: resp.StatusCode, Body: b, Header: resp.Header.Clone()}
}
