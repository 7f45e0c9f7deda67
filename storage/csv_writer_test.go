package storage

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"listing-monitor/models"
)

func TestCSVWriterAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "listings.csv")
	l := models.Listing{ID: "a", Query: "ps5", Title: "PS5, disc", Price: 100, FoundAt: time.Unix(0, 0).UTC()}

	for i := 0; i < 2; i++ {
		w, err := NewCSVWriter(path)
		if err != nil {
			t.Fatalf("NewCSVWriter: %v", err)
		}
		if err := w.Archive(context.Background(), []models.Listing{l}); err != nil {
			t.Fatalf("Archive: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows: got %d, want header + 2", len(rows))
	}
	if rows[0][0] != "id" {
		t.Errorf("header: got %v", rows[0])
	}
	if rows[1][2] != "PS5, disc" || rows[1][3] != "100" {
		t.Errorf("row: got %v", rows[1])
	}
}
