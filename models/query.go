package models

import "time"

// MonitoredQuery is a saved search a recipient wants watched.
// Queries are never removed; unsubscribing flips Active to false.
type MonitoredQuery struct {
	ID            string     `json:"id"`
	Query         string     `json:"query"`
	Recipient     string     `json:"recipient,omitempty"`
	Category      string     `json:"category,omitempty"`
	Location      string     `json:"location,omitempty"`
	MinPrice      *int64     `json:"min_price,omitempty"`
	MaxPrice      *int64     `json:"max_price,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Active        bool       `json:"active"`
}

// PricePoint is one sample of a price series.
type PricePoint struct {
	Value float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// CounterEntry is one row of a popularity ranking.
type CounterEntry struct {
	Key   string `json:"query"`
	Count int64  `json:"count"`
}

// RunStats are the global counters updated after every scheduler cycle.
type RunStats struct {
	TotalChecks        int64      `json:"total_checks"`
	TotalNewAds        int64      `json:"total_new_ads"`
	LastCheckTimestamp *time.Time `json:"last_check_timestamp,omitempty"`
	LastCycleErrors    int        `json:"last_cycle_errors"`
}
