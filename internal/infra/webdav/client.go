// Package webdav provides the sink side of a transfer: streaming PUT uploads to a
// WebDAV collection authenticated with a fixed Basic credential.
package webdav

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
)

var _ transfer.SinkUploader = (*Client)(nil)

// Options configures the sink client.
type Options struct {
	// Endpoint is the base collection URL; a trailing slash is ignored.
	Endpoint string
	Username string
	Password string

	// MaxIdleConnsPerHost sets the idle pool size for the sink host.
	// Default: 512
	MaxIdleConnsPerHost int

	// KeepAlive is the TCP keepalive period.
	// Default: 60s
	KeepAlive time.Duration

	// IdleConnTimeout closes pooled connections idle for longer than this.
	// Default: 90s
	IdleConnTimeout time.Duration

	InsecureSkipVerify bool
}

// DefaultOptions returns options with sensible defaults. Endpoint and credentials
// must still be set.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 512,
		KeepAlive:           60 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		InsecureSkipVerify:  true,
	}
}

// Client uploads to the sink. Requests have no fixed timeout: an upload lasts
// as long as the body it is fed.
type Client struct {
	client     *http.Client
	endpoint   string
	authHeader string
	tracer     trace.Tracer
}

// NewClient builds the sink client.
func NewClient(opts Options, tracer trace.Tracer) (*Client, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: sink endpoint %q: %w", transfer.ErrConfiguration, opts.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: sink endpoint %q must be http or https", transfer.ErrConfiguration, opts.Endpoint)
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: opts.KeepAlive,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // sink commonly runs with a self-signed certificate
		},
	}

	return &Client{
		client:     &http.Client{Transport: otelhttp.NewTransport(transport)},
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		authHeader: BasicAuthHeader(opts.Username, opts.Password),
		tracer:     tracer,
	}, nil
}

// BasicAuthHeader renders the Authorization header value for user and pass.
func BasicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// URLFor returns the upload URL for a destination name such as "/a.png".
func (c *Client) URLFor(name string) string {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return c.endpoint + name
}

// Upload streams body to the sink with a PUT. The body is forwarded as it is
// read; nothing is buffered beyond the transport's own write buffer. A size of
// -1 sends the body chunked. It returns the sink's status code when a response
// was received.
func (c *Client) Upload(ctx context.Context, name string, body io.Reader, size int64) (int, error) {
	target := c.URLFor(name)
	ctx, span := c.tracer.Start(ctx, "webdav.put",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("destination", target),
			attribute.Int64("content_length", size),
		))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return 0, fmt.Errorf("%w: create request: %w", transfer.ErrSinkUpload, err)
	}
	switch {
	case size == 0:
		req.Body = http.NoBody
		req.ContentLength = 0
	case size > 0:
		req.ContentLength = size
	default:
		req.ContentLength = -1
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return 0, fmt.Errorf("%w: %w", transfer.ErrSinkUpload, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	span.SetAttributes(attribute.Int("response_status_code", resp.StatusCode))

	// 201 Created and 204 No Content are the usual WebDAV answers; any 2xx counts.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := transfer.NewSinkStatusError(resp.StatusCode, resp.Status)
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, "non-2xx response")
		return resp.StatusCode, statusErr
	}

	return resp.StatusCode, nil
}
