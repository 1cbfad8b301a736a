// Package fetch provides the source side of a transfer: an HTTP client tuned for
// many concurrent GETs against arbitrary hosts, optionally through a proxy.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/proxy"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
)

var _ transfer.SourceFetcher = (*Client)(nil)

// Options configures the source client.
type Options struct {
	// Timeout bounds a whole fetch, including reading the body.
	// Default: 30s
	Timeout time.Duration

	// MaxIdleConnsPerHost sets the idle pool size per host.
	// Default: 512
	MaxIdleConnsPerHost int

	// KeepAlive is the TCP keepalive period.
	// Default: 60s
	KeepAlive time.Duration

	// IdleConnTimeout closes pooled connections idle for longer than this.
	// Default: 90s
	IdleConnTimeout time.Duration

	// ProxyURL routes every request through a proxy. socks5, socks5h, http and
	// https schemes are accepted. Empty disables proxying.
	ProxyURL string

	// InsecureSkipVerify disables certificate verification for every source host.
	// Default: true
	InsecureSkipVerify bool
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:             30 * time.Second,
		MaxIdleConnsPerHost: 512,
		KeepAlive:           60 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		InsecureSkipVerify:  true,
	}
}

// Client fetches source URLs. It is safe for concurrent use; connections are
// pooled by the underlying transport.
type Client struct {
	client *http.Client
	tracer trace.Tracer
}

// NewClient builds the source client. An unparsable or unsupported proxy URL
// yields an error wrapping transfer.ErrConfiguration.
func NewClient(opts Options, tracer trace.Tracer) (*Client, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: opts.KeepAlive,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		// Relay the bytes exactly as served.
		DisableCompression: true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // trust-everything is an explicit operational choice
		},
	}

	if opts.ProxyURL != "" {
		if err := configureProxy(transport, dialer, opts.ProxyURL); err != nil {
			return nil, err
		}
	}

	return &Client{
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   opts.Timeout,
		},
		tracer: tracer,
	}, nil
}

func configureProxy(transport *http.Transport, forward *net.Dialer, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: proxy url %q: %w", transfer.ErrConfiguration, raw, err)
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, forward)
		if err != nil {
			return fmt.Errorf("%w: proxy url %q: %w", transfer.ErrConfiguration, raw, err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return fmt.Errorf("%w: proxy dialer for %q does not support contexts", transfer.ErrConfiguration, raw)
		}
		transport.DialContext = cd.DialContext
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	default:
		return fmt.Errorf("%w: unsupported proxy scheme %q", transfer.ErrConfiguration, u.Scheme)
	}
	return nil
}

// Fetch issues a GET for rawURL. On success the caller must close the returned body.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*transfer.Source, error) {
	ctx, span := c.tracer.Start(ctx, "fetch.get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url", rawURL)),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, fmt.Errorf("%w: create request: %w", transfer.ErrSourceFetch, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("%w: %w", transfer.ErrSourceFetch, err)
	}

	span.SetAttributes(
		attribute.Int("response_status_code", resp.StatusCode),
		attribute.Int64("response_content_length", resp.ContentLength),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		statusErr := transfer.NewSourceStatusError(resp.StatusCode, resp.Status)
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, "non-2xx response")
		return nil, statusErr
	}

	return &transfer.Source{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		StatusCode:    resp.StatusCode,
	}, nil
}
