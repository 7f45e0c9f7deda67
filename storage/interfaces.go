package storage

import (
	"context"
	"errors"

	"listing-monitor/models"
)

// ListingArchive is the interface any optional listing sink must satisfy.
// Archives are written after a listing has been notified and marked seen.
type ListingArchive interface {
	Archive(ctx context.Context, listings []models.Listing) error
	Close() error
}

// SearchArchive persists ad-hoc search records next to the file history.
type SearchArchive interface {
	ArchiveSearch(ctx context.Context, rec models.SearchRecord) error
}

// MultiArchive fans a batch out to every configured archive.
type MultiArchive []ListingArchive

func (m MultiArchive) Archive(ctx context.Context, listings []models.Listing) error {
	var errs []error
	for _, a := range m {
		if err := a.Archive(ctx, listings); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiArchive) Close() error {
	var errs []error
	for _, a := range m {
		errs = append(errs, a.Close())
	}
	return errors.Join(errs...)
}
