package scraper

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-monitor/utils"
)

func TestBrowserFetcherLaunchesOnce(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-chrome")
	b := NewBrowserFetcher("https://www.avito.ru", "/rossiya", missing, time.Second, utils.NewNopLogger())
	defer b.Close()

	_, err := b.Fetch(context.Background(), SearchRequest{Query: "ps5"}, 5)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindConnection, te.Kind)

	launchErr := b.startErr
	require.Error(t, launchErr)

	// The failed launch is remembered, not retried per fetch.
	_, err = b.Fetch(context.Background(), SearchRequest{Query: "iphone"}, 5)
	assert.ErrorIs(t, err, launchErr)
}
