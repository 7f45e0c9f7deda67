package models

import "time"

// Listing is one normalised classified ad produced by the parser.
// ID is assigned by the source and is the dedup key for the seen-set.
type Listing struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Price       int64     `json:"price"` // 0 means the source gave no usable price
	URL         string    `json:"url"`
	Location    string    `json:"location,omitempty"`
	PublishedAt string    `json:"published_at,omitempty"`
	Query       string    `json:"query"`
	FoundAt     time.Time `json:"found_at"`
}

// HasPrice reports whether the listing carries a usable price.
func (l Listing) HasPrice() bool {
	return l.Price > 0
}

// SearchRecord is the history entry written after an ad-hoc search.
type SearchRecord struct {
	Query        string    `json:"query"`
	Recipient    string    `json:"recipient"`
	Username     string    `json:"username,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ResultsCount int       `json:"results_count"`
	AvgPrice     int64     `json:"avg_price"`
	Items        []Listing `json:"items"`
}

// NewSearchRecord builds a history record. AvgPrice is the integer mean of all
// result prices (unpriced results count as 0) and Items keeps the first three.
func NewSearchRecord(query, recipient, username string, items []Listing, at time.Time) SearchRecord {
	rec := SearchRecord{
		Query:        query,
		Recipient:    recipient,
		Username:     username,
		Timestamp:    at,
		ResultsCount: len(items),
		Items:        []Listing{},
	}
	if len(items) == 0 {
		return rec
	}

	var total int64
	for _, l := range items {
		total += l.Price
	}
	rec.AvgPrice = total / int64(len(items))

	top := items
	if len(top) > 3 {
		top = top[:3]
	}
	rec.Items = append(rec.Items, top...)
	return rec
}
