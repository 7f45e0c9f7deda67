package models

import "time"

// PriceChange compares the last two samples of one price series.
type PriceChange struct {
	Query     string  `json:"query"`
	Previous  float64 `json:"yesterday"`
	Current   float64 `json:"today"`
	ChangePct float64 `json:"change"`
}

// InsightReport holds the daily analytics computed over the time series
// and the seen-set.
type InsightReport struct {
	Date          string           `json:"date"`
	GeneratedAt   time.Time        `json:"generated_at"`
	TotalSearches int64            `json:"total_searches"`
	TotalQueries  int              `json:"total_queries_count"`
	NewAds        int              `json:"new_ads_today"`
	SeenCount     int              `json:"seen_count"`
	AvgPrice      int64            `json:"avg_price"`
	AvgByQuery    map[string]int64 `json:"avg_by_query"`
	TopQueries    []CounterEntry   `json:"top_queries"`
	PriceChanges  []PriceChange    `json:"price_changes"`
	RecentAds     []Listing        `json:"recent_ads,omitempty"`
	Stats         RunStats         `json:"run_stats"`
}

// DashboardStats is the small summary the static dashboard reads.
type DashboardStats struct {
	Date          string    `json:"date"`
	TotalSearches int64     `json:"totalSearches"`
	NewAds        int       `json:"newAds"`
	AvgPrice      int64     `json:"avgPrice"`
	TopQuery      string    `json:"topQuery"`
	LastUpdate    time.Time `json:"lastUpdate"`
}
