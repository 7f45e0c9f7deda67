package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"listing-monitor/models"
)

var (
	unsafeQueryChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	querySeparators  = regexp.MustCompile(`[-\s]+`)
)

// HistoryWriter files search records under root/YYYY/MM/DD.
type HistoryWriter struct {
	root string
}

// NewHistoryWriter creates a writer rooted at dir.
func NewHistoryWriter(dir string) *HistoryWriter {
	return &HistoryWriter{root: dir}
}

// Write stores rec and returns the file path. An existing record with the
// same name is never overwritten.
func (h *HistoryWriter) Write(rec models.SearchRecord) (string, error) {
	ts := rec.Timestamp
	dir := filepath.Join(h.root, ts.Format("2006"), ts.Format("01"), ts.Format("02"))
	base := SafeQueryName(rec.Query) + "_" + ts.Format("150405")

	path := filepath.Join(dir, base+".json")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); err != nil {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.json", base, n))
	}

	if err := writeJSONAtomic(path, rec); err != nil {
		return "", err
	}
	return path, nil
}

// SafeQueryName turns a free-text query into a short file-name fragment.
func SafeQueryName(query string) string {
	s := unsafeQueryChars.ReplaceAllString(query, "")
	if r := []rune(s); len(r) > 30 {
		s = string(r[:30])
	}
	s = strings.Trim(querySeparators.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "search"
	}
	return s
}
