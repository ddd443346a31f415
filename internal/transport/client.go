package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/torosent/stampede/internal/config"
)

// RequestBuilder creates requests for a single endpoint.
type RequestBuilder struct {
	method  string
	target  string
	headers http.Header
}

// NewRequestBuilder validates the endpoint against the base URL.
func NewRequestBuilder(baseURL string, ep config.Endpoint) (*RequestBuilder, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("target URL is required")
	}

	target := base + ep.Path
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, fmt.Errorf("endpoint %s: invalid URL %q: %w", ep.DisplayName(), target, err)
	}

	method := strings.ToUpper(strings.TrimSpace(ep.Method))
	if method == "" {
		method = http.MethodGet
	}

	headers := http.Header{}
	for key, value := range ep.Headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", trimmedKey)
		}
		headers.Set(http.CanonicalHeaderKey(trimmedKey), value)
	}

	return &RequestBuilder{
		method:  method,
		target:  target,
		headers: headers,
	}, nil
}

// Build returns a request carrying body, which may be nil.
func (b *RequestBuilder) Build(ctx context.Context, body []byte) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, b.method, b.target, reader)
	if err != nil {
		return nil, err
	}

	req.Header = make(http.Header, len(b.headers))
	for key, values := range b.headers {
		for _, val := range values {
			req.Header.Add(key, val)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Method returns the request method.
func (b *RequestBuilder) Method() string { return b.method }

// URL returns the absolute request URL.
func (b *RequestBuilder) URL() string { return b.target }

var connIDs atomic.Uint64

// Conn is a poolable HTTP handle backed by at most one keep-alive connection.
type Conn struct {
	id        uint64
	client    *http.Client
	transport *http.Transport
	closed    atomic.Bool
}

// NewConn creates an unconnected handle. The socket is dialed by the first
// request; dialTimeout bounds that dial.
func NewConn(dialTimeout time.Duration) *Conn {
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          1,
		MaxIdleConnsPerHost:   1,
		MaxConnsPerHost:       1,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Conn{
		id:        connIDs.Add(1),
		transport: transport,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Factory returns a constructor suitable for pool.NewConnectionPool.
func Factory(dialTimeout time.Duration) func() *Conn {
	return func() *Conn { return NewConn(dialTimeout) }
}

// Connect prepares the handle for use. Dialing is deferred to the first
// request.
func (c *Conn) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.New("transport: connection closed")
	}
	return ctx.Err()
}

// Do sends req on this handle's connection. Redirects are not followed.
func (c *Conn) Do(req *http.Request) (*http.Response, error) {
	if c.closed.Load() {
		return nil, errors.New("transport: connection closed")
	}
	return c.client.Do(req)
}

// Close drops the underlying connection.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.transport.CloseIdleConnections()
	return nil
}

// ID identifies the handle in logs.
func (c *Conn) ID() uint64 { return c.id }

// WantsClose reports whether the server asked for the connection to be
// closed after resp.
func WantsClose(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	if resp.Close {
		return true
	}
	for _, v := range resp.Header.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "close") {
				return true
			}
		}
	}
	return false
}
