package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"listing-monitor/models"
	"listing-monitor/utils"
)

// DefaultPriceHistoryLimit is the number of samples kept per price series.
const DefaultPriceHistoryLimit = 100

// TimeSeries holds bounded price series and popularity counters, one of
// each per query. Both documents are rewritten atomically on every change.
type TimeSeries struct {
	mu         sync.Mutex
	pricesPath string
	trendsPath string
	limit      int
	prices     map[string][]models.PricePoint
	trends     orderedCounts
	logger     *utils.Logger

	now   func() time.Time
	write func(path string, v any) error
}

// OpenTimeSeries loads both documents, falling back to empty ones.
func OpenTimeSeries(pricesPath, trendsPath string, limit int, logger *utils.Logger) *TimeSeries {
	if limit <= 0 {
		limit = DefaultPriceHistoryLimit
	}
	ts := &TimeSeries{
		pricesPath: pricesPath,
		trendsPath: trendsPath,
		limit:      limit,
		prices:     make(map[string][]models.PricePoint),
		trends:     newOrderedCounts(),
		logger:     logger,
		now:        time.Now,
		write:      writeJSONAtomic,
	}

	prices := make(map[string][]models.PricePoint)
	if loadJSON(pricesPath, &prices, logger) {
		for k, series := range prices {
			if len(series) > limit {
				series = series[len(series)-limit:]
			}
			ts.prices[k] = series
		}
	}

	trends := newOrderedCounts()
	if loadJSON(trendsPath, &trends, logger) {
		ts.trends = trends
	}
	return ts
}

// AppendPrice adds a sample to key's series and drops the oldest samples
// beyond the limit.
func (ts *TimeSeries) AppendPrice(key string, value float64) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	old := ts.prices[key]
	series := make([]models.PricePoint, 0, len(old)+1)
	series = append(series, old...)
	series = append(series, models.PricePoint{Value: value, Time: ts.now()})
	if len(series) > ts.limit {
		series = series[len(series)-ts.limit:]
	}

	ts.prices[key] = series
	if err := ts.write(ts.pricesPath, ts.prices); err != nil {
		if old == nil {
			delete(ts.prices, key)
		} else {
			ts.prices[key] = old
		}
		return err
	}
	return nil
}

// RecentPrices returns up to window of the newest values, most recent
// last. A short or missing series just yields fewer values.
func (ts *TimeSeries) RecentPrices(key string, window int) []float64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	series := ts.prices[key]
	if window < 0 {
		window = 0
	}
	if len(series) > window {
		series = series[len(series)-window:]
	}
	out := make([]float64, len(series))
	for i, p := range series {
		out[i] = p.Value
	}
	return out
}

// IncrementCounter bumps key's popularity counter by one.
func (ts *TimeSeries) IncrementCounter(key string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	_, existed := ts.trends.counts[key]
	ts.trends.add(key, 1)
	if err := ts.write(ts.trendsPath, ts.trends); err != nil {
		ts.trends.add(key, -1)
		if !existed {
			ts.trends.remove(key)
		}
		return err
	}
	return nil
}

// TopCounters returns the n largest counters, highest first. Equal counts
// keep the order in which their keys were first seen.
func (ts *TimeSeries) TopCounters(n int) []models.CounterEntry {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entries := make([]models.CounterEntry, 0, len(ts.trends.order))
	for _, k := range ts.trends.order {
		entries = append(entries, models.CounterEntry{Key: k, Count: ts.trends.counts[k]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// TotalCount is the sum of all popularity counters.
func (ts *TimeSeries) TotalCount() int64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	var total int64
	for _, c := range ts.trends.counts {
		total += c
	}
	return total
}

// Keys lists every key that has a price series, sorted.
func (ts *TimeSeries) Keys() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	keys := make([]string, 0, len(ts.prices))
	for k := range ts.prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// orderedCounts is a counter map that remembers first-seen key order and
// keeps it when encoded as a JSON object.
type orderedCounts struct {
	counts map[string]int64
	order  []string
}

func newOrderedCounts() orderedCounts {
	return orderedCounts{counts: make(map[string]int64)}
}

func (o *orderedCounts) add(key string, delta int64) {
	if _, ok := o.counts[key]; !ok {
		o.order = append(o.order, key)
	}
	o.counts[key] += delta
}

func (o *orderedCounts) remove(key string) {
	delete(o.counts, key)
	for i, k := range o.order {
		if k == key {
			o.order = append(o.order[:i:i], o.order[i+1:]...)
			return
		}
	}
}

func (o orderedCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		fmt.Fprintf(&buf, ":%d", o.counts[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *orderedCounts) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("counters: expected object, got %v", tok)
	}

	out := newOrderedCounts()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("counters: expected key, got %v", tok)
		}
		var n int64
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("counters: value for %q: %w", key, err)
		}
		out.add(key, n)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}
