package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"listing-monitor/models"
)

// PostgresWriter archives notified listings and ad-hoc searches in
// PostgreSQL.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	return NewPostgresWriterFromDB(ctx, db)
}

// NewPostgresWriterFromDB wraps an open handle and migrates the schema.
func NewPostgresWriterFromDB(ctx context.Context, db *sql.DB) (*PostgresWriter, error) {
	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id           SERIAL PRIMARY KEY,
			listing_id   TEXT        UNIQUE NOT NULL,
			query        TEXT        NOT NULL,
			title        TEXT        NOT NULL,
			price        BIGINT      NOT NULL DEFAULT 0,
			url          TEXT        NOT NULL DEFAULT '',
			location     TEXT        NOT NULL DEFAULT '',
			published_at TEXT        NOT NULL DEFAULT '',
			found_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_query    ON listings(query);
		CREATE INDEX IF NOT EXISTS idx_listings_found_at ON listings(found_at);

		CREATE TABLE IF NOT EXISTS searches (
			id            SERIAL PRIMARY KEY,
			query         TEXT        NOT NULL,
			recipient     TEXT        NOT NULL,
			username      TEXT        NOT NULL DEFAULT '',
			results_count INTEGER     NOT NULL,
			avg_price     BIGINT      NOT NULL DEFAULT 0,
			items         JSONB       NOT NULL DEFAULT '[]',
			searched_at   TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_searches_searched_at ON searches(searched_at);
	`)
	return err
}

// Archive batch-inserts listings, ignoring ids already stored.
func (pw *PostgresWriter) Archive(ctx context.Context, listings []models.Listing) error {
	const batchSize = 50
	for i := 0; i < len(listings); i += batchSize {
		end := i + batchSize
		if end > len(listings) {
			end = len(listings)
		}
		if err := pw.insertBatch(ctx, listings[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (pw *PostgresWriter) insertBatch(ctx context.Context, batch []models.Listing) error {
	const cols = 8
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*cols)

	for idx, l := range batch {
		base := idx * cols
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		valueArgs = append(valueArgs,
			l.ID, l.Query, l.Title, l.Price, l.URL, l.Location, l.PublishedAt, l.FoundAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO listings (listing_id, query, title, price, url, location, published_at, found_at)
		VALUES %s
		ON CONFLICT (listing_id) DO NOTHING
	`, strings.Join(valueStrings, ","))

	if _, err := pw.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert listings: %w", err)
	}
	return nil
}

// ArchiveSearch stores one ad-hoc search record.
func (pw *PostgresWriter) ArchiveSearch(ctx context.Context, rec models.SearchRecord) error {
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("postgres: encode items: %w", err)
	}
	_, err = pw.db.ExecContext(ctx, `
		INSERT INTO searches (query, recipient, username, results_count, avg_price, items, searched_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.Query, rec.Recipient, rec.Username, rec.ResultsCount, rec.AvgPrice, string(items), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: insert search: %w", err)
	}
	return nil
}

// FetchRecent retrieves the newest archived listings, newest first.
func (pw *PostgresWriter) FetchRecent(ctx context.Context, limit int) ([]models.Listing, error) {
	rows, err := pw.db.QueryContext(ctx, `
		SELECT listing_id, query, title, price, url, location, published_at, found_at
		FROM listings
		ORDER BY found_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch recent: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(
			&l.ID, &l.Query, &l.Title, &l.Price, &l.URL,
			&l.Location, &l.PublishedAt, &l.FoundAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
