package offline

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBodySize bounds a single fetched body.
const DefaultMaxBodySize = 32 << 20

// Request identifies a resource. URL may be a path relative to the manager's
// origin or an absolute URL.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest returns a GET request for target.
func NewRequest(target string) *Request {
	return &Request{Method: http.MethodGet, URL: target}
}

// Key is the identity under which a response is stored.
func (r *Request) Key() string {
	return r.method() + " " + r.URL
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// Cacheable reports whether responses to r may be stored.
func (r *Request) Cacheable() bool {
	return r.method() == http.MethodGet
}

// Response is a fully buffered HTTP response. It is stored verbatim.
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte

	// FromCache is set on responses answered from a bucket.
	FromCache bool
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

func encodeResponse(resp *Response) ([]byte, error) {
	var buf bytes.Buffer
	stored := *resp
	stored.FromCache = false
	if err := gob.NewEncoder(&buf).Encode(&stored); err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	resp.FromCache = true
	return &resp, nil
}

// Fetcher performs live network requests. Errors are transport failures
// only; any received response, whatever its status, is returned as is.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// HTTPFetcher is a Fetcher backed by net/http.
type HTTPFetcher struct {
	Client      *http.Client
	UserAgent   string
	MaxBodySize int64
}

// NewHTTPFetcher creates a fetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		Client:      &http.Client{Timeout: timeout},
		UserAgent:   userAgent,
		MaxBodySize: DefaultMaxBodySize,
	}
}

// Fetch performs req and buffers the whole body.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method(), req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if f.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	limit := f.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}

	return &Response{
		URL:    req.URL,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   data,
	}, nil
}
