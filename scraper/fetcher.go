package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"listing-monitor/utils"
)

const maxBodyBytes = 10 << 20

// SearchRequest is one outbound search against the source.
// Category, Location and the price bounds are optional filters.
type SearchRequest struct {
	Query    string
	Category string
	Location string
	MinPrice *int64
	MaxPrice *int64
}

// Fetcher returns the raw search-results document for a request.
// Implementations apply a hard per-call timeout and return *TransportError
// on failure. The inter-request delay is the caller's job.
type Fetcher interface {
	Fetch(ctx context.Context, req SearchRequest, maxResults int) ([]byte, error)
}

// SearchURL builds the search page address for req.
func SearchURL(baseURL, searchPath string, req SearchRequest) string {
	params := url.Values{}
	params.Set("q", req.Query)
	params.Set("s", "1")
	if req.Category != "" {
		params.Set("categoryId", req.Category)
	}
	if req.Location != "" {
		params.Set("location", req.Location)
	}
	if req.MinPrice != nil {
		params.Set("pmin", strconv.FormatInt(*req.MinPrice, 10))
	}
	if req.MaxPrice != nil {
		params.Set("pmax", strconv.FormatInt(*req.MaxPrice, 10))
	}
	return strings.TrimRight(baseURL, "/") + searchPath + "?" + params.Encode()
}

// HTTPFetcher fetches search pages with a plain HTTP client, presenting a
// fresh browser identity on every call.
type HTTPFetcher struct {
	client     *http.Client
	baseURL    string
	searchPath string
	timeout    time.Duration
	logger     *utils.Logger
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client gets a default one.
func NewHTTPFetcher(client *http.Client, baseURL, searchPath string, timeout time.Duration, logger *utils.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client:     client,
		baseURL:    baseURL,
		searchPath: searchPath,
		timeout:    timeout,
		logger:     logger,
	}
}

// Fetch issues one GET for req. maxResults is not sent upstream; the parser
// enforces it.
func (f *HTTPFetcher) Fetch(ctx context.Context, req SearchRequest, maxResults int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	target := SearchURL(f.baseURL, f.searchPath, req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Kind: KindConnection, Err: err}
	}
	utils.RandomIdentity().Apply(httpReq.Header)

	f.logger.Debug("[fetch] GET %s (max %d)", target, maxResults)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{Kind: KindUpstreamRejected, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, err)
	}
	return body, nil
}

// classify maps a transport failure onto the error taxonomy.
func classify(ctx context.Context, err error) *TransportError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	return &TransportError{Kind: KindConnection, Err: err}
}

// FetchWithRetry runs f.Fetch under policy, retrying only retryable
// transport errors. After exhaustion the last error is returned wrapped.
func FetchWithRetry(ctx context.Context, f Fetcher, policy *utils.RetryPolicy, req SearchRequest, maxResults int) ([]byte, error) {
	p := *policy
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}

	var body []byte
	err := p.Do(ctx, fmt.Sprintf("fetch %q", req.Query), func(ctx context.Context) error {
		var ferr error
		body, ferr = f.Fetch(ctx, req, maxResults)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
