package connectivity

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/mockinterview/horosafe"
)

// maxHTTPResponseBody caps the amount of response data read from remote
// HTTP endpoints (10 MiB).
const maxHTTPResponseBody int64 = 10 << 20

type httpOptions struct {
	client       *http.Client
	contentType  string
	accept       string
	headers      map[string]string
	allowPrivate bool
	maxBody      int64
}

// HTTPOption configures HTTPHandler.
type HTTPOption func(*httpOptions)

// WithHTTPClient sets the client used for requests. The default client has
// no timeout of its own; deadlines come from the context.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *httpOptions) { o.client = c }
}

// WithContentType sets the request Content-Type (default application/octet-stream).
func WithContentType(ct string) HTTPOption {
	return func(o *httpOptions) { o.contentType = ct }
}

// WithAccept sets the request Accept header.
func WithAccept(accept string) HTTPOption {
	return func(o *httpOptions) { o.accept = accept }
}

// WithHeader adds a static request header (e.g. Authorization).
func WithHeader(key, value string) HTTPOption {
	return func(o *httpOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// WithAllowPrivate disables the SSRF guard. Use it for workers deployed on
// the same private network as the caller.
func WithAllowPrivate() HTTPOption {
	return func(o *httpOptions) { o.allowPrivate = true }
}

// WithMaxResponseBody caps the response size (default 10 MiB).
func WithMaxResponseBody(n int64) HTTPOption {
	return func(o *httpOptions) { o.maxBody = n }
}

// HTTPHandler creates a Handler that POSTs the payload to endpoint and
// returns the response body. Non-2xx responses become *ErrStatus.
//
// The endpoint is validated once, at construction time: it must be
// http(s) and, unless WithAllowPrivate is given, must not point at a
// private or loopback address.
//
// The returned close function releases idle connections.
func HTTPHandler(endpoint string, opts ...HTTPOption) (Handler, func(), error) {
	o := httpOptions{
		client:      &http.Client{},
		contentType: "application/octet-stream",
		maxBody:     maxHTTPResponseBody,
	}
	for _, fn := range opts {
		fn(&o)
	}

	if o.allowPrivate {
		if _, err := horosafe.CheckScheme(endpoint); err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: %w", err)
		}
	} else if err := horosafe.ValidateURL(endpoint); err != nil {
		return nil, nil, fmt.Errorf("connectivity/http: %w", err)
	}

	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: create request: %w", err)
		}
		req.Header.Set("Content-Type", o.contentType)
		if o.accept != "" {
			req.Header.Set("Accept", o.accept)
		}
		for k, v := range o.headers {
			req.Header.Set(k, v)
		}

		resp, err := o.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: network error: %w", err)
		}
		defer resp.Body.Close()

		body, err := horosafe.LimitedReadAll(resp.Body, o.maxBody)
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			excerpt := body
			if len(excerpt) > 512 {
				excerpt = excerpt[:512]
			}
			return nil, &ErrStatus{Code: resp.StatusCode, Body: string(bytes.TrimSpace(excerpt))}
		}
		return body, nil
	}

	closeFn := func() {
		o.client.CloseIdleConnections()
	}
	return handler, closeFn, nil
}

// Reachable sends a HEAD request to rawURL and reports whether it answered 2xx
// within timeout. It never returns an error: any failure means "not
// reachable". A nil client uses http.DefaultClient.
func Reachable(ctx context.Context, client *http.Client, rawURL string, timeout time.Duration) bool {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
