package storage

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// OffsetFile keeps a single integer cursor in a text file.
// A missing file reads as zero.
type OffsetFile struct {
	mu   sync.Mutex
	path string
}

// NewOffsetFile creates a cursor stored at path.
func NewOffsetFile(path string) *OffsetFile {
	return &OffsetFile{path: path}
}

func (o *OffsetFile) Load() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	data, err := os.ReadFile(o.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &PersistenceError{Op: "read", Path: o.path, Err: err}
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("storage: offset %q: %w", o.path, err)
	}
	return n, nil
}

func (o *OffsetFile) Save(offset int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return writeFileAtomic(o.path, []byte(strconv.Itoa(offset)))
}
