package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-monitor/utils"
)

func int64p(v int64) *int64 { return &v }

func TestSearchURL(t *testing.T) {
	got := SearchURL("https://www.avito.ru/", "/rossiya", SearchRequest{
		Query:    "iphone 13",
		Category: "84",
		MinPrice: int64p(1000),
	})
	assert.Equal(t, "https://www.avito.ru/rossiya?categoryId=84&pmin=1000&q=iphone+13&s=1", got)
}

func TestHTTPFetcherReturnsBodyAndSendsIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rossiya", r.URL.Path)
		assert.Equal(t, "ps5", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("Accept-Language"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), srv.URL, "/rossiya", time.Second, utils.NewNopLogger())
	body, err := f.Fetch(context.Background(), SearchRequest{Query: "ps5"}, 5)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
}

func TestHTTPFetcherRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), srv.URL, "/", time.Second, utils.NewNopLogger())
	_, err := f.Fetch(context.Background(), SearchRequest{Query: "x"}, 5)
	require.Error(t, err)

	status, ok := UpstreamStatus(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.True(t, IsRetryable(err))
}

func TestHTTPFetcherClientErrorsAreRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), srv.URL, "/", time.Second, utils.NewNopLogger())
	_, err := f.Fetch(context.Background(), SearchRequest{Query: "x"}, 5)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestFetchWithRetryRetriesForbiddenUpToLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), srv.URL, "/", time.Second, utils.NewNopLogger())
	policy := fastPolicy()
	policy.MaxAttempts = 3

	_, err := FetchWithRetry(context.Background(), f, policy, SearchRequest{Query: "x"}, 5)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	status, ok := UpstreamStatus(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestHTTPFetcherTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewHTTPFetcher(srv.Client(), srv.URL, "/", 50*time.Millisecond, utils.NewNopLogger())
	_, err := f.Fetch(context.Background(), SearchRequest{Query: "x"}, 5)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.True(t, IsRetryable(err))
}

func TestHTTPFetcherConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := NewHTTPFetcher(nil, url, "/", time.Second, utils.NewNopLogger())
	_, err := f.Fetch(context.Background(), SearchRequest{Query: "x"}, 5)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindConnection, te.Kind)
}

type flakyFetcher struct {
	calls    int32
	failures int32
	err      error
}

func (f *flakyFetcher) Fetch(context.Context, SearchRequest, int) ([]byte, error) {
	if atomic.AddInt32(&f.calls, 1) <= f.failures {
		return nil, f.err
	}
	return []byte("ok"), nil
}

func fastPolicy() *utils.RetryPolicy {
	p := utils.DefaultRetryPolicy(utils.NewNopLogger())
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	return p
}

func TestFetchWithRetryRecovers(t *testing.T) {
	f := &flakyFetcher{failures: 2, err: &TransportError{Kind: KindTimeout, Err: context.DeadlineExceeded}}
	body, err := FetchWithRetry(context.Background(), f, fastPolicy(), SearchRequest{Query: "x"}, 5)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), f.calls)
}

func TestFetchWithRetryGivesUpAfterThreeAttempts(t *testing.T) {
	f := &flakyFetcher{failures: 10, err: &TransportError{Kind: KindUpstreamRejected, Status: 503}}
	_, err := FetchWithRetry(context.Background(), f, fastPolicy(), SearchRequest{Query: "x"}, 5)
	require.Error(t, err)
	assert.Equal(t, int32(3), f.calls)

	status, ok := UpstreamStatus(err)
	assert.True(t, ok)
	assert.Equal(t, 503, status)
}

func TestFetchWithRetryRecoversFromRejection(t *testing.T) {
	f := &flakyFetcher{failures: 2, err: &TransportError{Kind: KindUpstreamRejected, Status: 403}}
	body, err := FetchWithRetry(context.Background(), f, fastPolicy(), SearchRequest{Query: "x"}, 5)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), f.calls)
}

func TestFetchWithRetryStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &flakyFetcher{failures: 10, err: &TransportError{Kind: KindConnection, Err: context.Canceled}}
	_, err := FetchWithRetry(ctx, f, fastPolicy(), SearchRequest{Query: "x"}, 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), f.calls)
}
