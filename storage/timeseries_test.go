package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-monitor/models"
	"listing-monitor/utils"
)

func openTestSeries(t *testing.T, limit int) (*TimeSeries, string, string) {
	t.Helper()
	dir := t.TempDir()
	prices := filepath.Join(dir, "prices.json")
	trends := filepath.Join(dir, "trends.json")
	return OpenTimeSeries(prices, trends, limit, utils.NewNopLogger()), prices, trends
}

func TestAppendPriceTrimsToLimit(t *testing.T) {
	ts, pricesPath, trendsPath := openTestSeries(t, 5)
	for i := 1; i <= 8; i++ {
		require.NoError(t, ts.AppendPrice("ps5", float64(i)))
	}

	assert.Equal(t, []float64{4, 5, 6, 7, 8}, ts.RecentPrices("ps5", 100))

	reloaded := OpenTimeSeries(pricesPath, trendsPath, 5, utils.NewNopLogger())
	assert.Equal(t, []float64{4, 5, 6, 7, 8}, reloaded.RecentPrices("ps5", 100))
}

func TestRecentPricesWindow(t *testing.T) {
	ts, _, _ := openTestSeries(t, 100)
	for i := 1; i <= 30; i++ {
		require.NoError(t, ts.AppendPrice("q", float64(i)))
	}

	tests := []struct {
		key    string
		window int
		want   int
	}{
		{"q", 24, 24},
		{"q", 30, 30},
		{"q", 50, 30},
		{"q", 0, 0},
		{"missing", 24, 0},
	}
	for _, tt := range tests {
		got := ts.RecentPrices(tt.key, tt.window)
		assert.Len(t, got, tt.want, "RecentPrices(%q, %d)", tt.key, tt.window)
		if tt.want > 0 {
			assert.Equal(t, float64(30), got[len(got)-1], "most recent value comes last")
		}
	}
}

func TestTopCountersOrdersByCountThenFirstSeen(t *testing.T) {
	ts, pricesPath, trendsPath := openTestSeries(t, 10)
	for _, k := range []string{"macbook", "ps5", "iphone", "ps5", "диван", "iphone"} {
		require.NoError(t, ts.IncrementCounter(k))
	}

	want := []models.CounterEntry{
		{Key: "ps5", Count: 2},
		{Key: "iphone", Count: 2},
		{Key: "macbook", Count: 1},
	}
	assert.Equal(t, want, ts.TopCounters(3))
	assert.Equal(t, int64(6), ts.TotalCount())

	reloaded := OpenTimeSeries(pricesPath, trendsPath, 10, utils.NewNopLogger())
	assert.Equal(t, want, reloaded.TopCounters(3), "tie order survives a reload")
}

func TestTrendsDocumentIsPlainObject(t *testing.T) {
	ts, _, trendsPath := openTestSeries(t, 10)
	require.NoError(t, ts.IncrementCounter("b"))
	require.NoError(t, ts.IncrementCounter("a"))

	data, err := os.ReadFile(trendsPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":1,"a":1}`, string(data))
}

func TestTimeSeriesRollsBackOnWriteFailure(t *testing.T) {
	ts, _, _ := openTestSeries(t, 10)
	require.NoError(t, ts.AppendPrice("q", 1))
	require.NoError(t, ts.IncrementCounter("q"))

	ts.write = func(string, any) error { return errors.New("read-only fs") }

	assert.Error(t, ts.AppendPrice("q", 2))
	assert.Error(t, ts.AppendPrice("new", 2))
	assert.Error(t, ts.IncrementCounter("q"))
	assert.Error(t, ts.IncrementCounter("other"))

	assert.Equal(t, []float64{1}, ts.RecentPrices("q", 10))
	assert.Equal(t, []string{"q"}, ts.Keys())
	assert.Equal(t, []models.CounterEntry{{Key: "q", Count: 1}}, ts.TopCounters(10))
}

func TestTimeSeriesCorruptDocumentsStartEmpty(t *testing.T) {
	dir := t.TempDir()
	prices := filepath.Join(dir, "prices.json")
	trends := filepath.Join(dir, "trends.json")
	require.NoError(t, os.WriteFile(prices, []byte("[]garbage"), 0644))
	require.NoError(t, os.WriteFile(trends, []byte(`{"a": "x"}`), 0644))

	ts := OpenTimeSeries(prices, trends, 10, utils.NewNopLogger())
	assert.Empty(t, ts.Keys())
	assert.Empty(t, ts.TopCounters(5))
}
