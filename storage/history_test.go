package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"listing-monitor/models"
)

func TestSafeQueryName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"iphone 13", "iphone_13"},
		{"  PS5 / Pro!! ", "PS5_Pro"},
		{"диван-кровать угловой", "диван_кровать_угловой"},
		{"???", "search"},
		{"a very long query that keeps going on and on", "a_very_long_query_that_keeps_g"},
	}

	for _, tt := range tests {
		if got := SafeQueryName(tt.in); got != tt.want {
			t.Errorf("SafeQueryName(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestHistoryWriterDatePartitionedPath(t *testing.T) {
	root := t.TempDir()
	h := NewHistoryWriter(root)
	at := time.Date(2024, 3, 7, 9, 5, 1, 0, time.UTC)

	rec := models.NewSearchRecord("iphone 13", "42", "bob", []models.Listing{
		{ID: "a", Price: 100},
		{ID: "b", Price: 201},
	}, at)

	path, err := h.Write(rec)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := filepath.Join(root, "2024", "03", "07", "iphone_13_090501.json")
	if path != want {
		t.Errorf("path: got %s, want %s", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got models.SearchRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ResultsCount != 2 || got.AvgPrice != 150 || len(got.Items) != 2 {
		t.Errorf("record: got count=%d avg=%d items=%d", got.ResultsCount, got.AvgPrice, len(got.Items))
	}

	second, err := h.Write(rec)
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if second == path {
		t.Error("second record in the same second overwrote the first")
	}
}
