package storage

import (
	"context"
	"sync"

	"listing-monitor/utils"
)

// DefaultSeenCapacity bounds a seen-set when no capacity is configured.
const DefaultSeenCapacity = 1000

// SeenSet is the bounded dedup cache of listing ids already notified.
// Eviction is FIFO by insertion order: an id that ages out can be
// notified again.
type SeenSet interface {
	Has(ctx context.Context, id string) (bool, error)
	// MarkSeen is idempotent. Capacity is enforced before it returns.
	MarkSeen(ctx context.Context, id string) error
	Size() int
	// IDs returns the ids oldest first.
	IDs() []string
}

type seenDoc struct {
	Ads []string `json:"ads"`
}

// FileSeenSet keeps the seen-set in one JSON document that is rewritten
// after every mutation.
type FileSeenSet struct {
	mu       sync.Mutex
	path     string
	capacity int
	ids      []string
	index    map[string]struct{}
	logger   *utils.Logger

	write func(path string, v any) error
}

// OpenFileSeenSet loads the document at path. A missing or corrupt file
// yields an empty set.
func OpenFileSeenSet(path string, capacity int, logger *utils.Logger) *FileSeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	s := &FileSeenSet{
		path:     path,
		capacity: capacity,
		index:    make(map[string]struct{}),
		logger:   logger,
		write:    writeJSONAtomic,
	}

	var doc seenDoc
	if loadJSON(path, &doc, logger) {
		for _, id := range doc.Ads {
			if id == "" {
				continue
			}
			if _, dup := s.index[id]; dup {
				continue
			}
			s.ids = append(s.ids, id)
			s.index[id] = struct{}{}
		}
		if over := len(s.ids) - capacity; over > 0 {
			for _, id := range s.ids[:over] {
				delete(s.index, id)
			}
			s.ids = append([]string(nil), s.ids[over:]...)
		}
	}
	logger.Debug("[seen] Loaded %d ids from %s", len(s.ids), path)
	return s
}

func (s *FileSeenSet) Has(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok, nil
}

// MarkSeen appends id, evicts the oldest entries beyond capacity and
// persists the result. If the write fails nothing changes in memory.
func (s *FileSeenSet) MarkSeen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		return nil
	}

	next := make([]string, 0, len(s.ids)+1)
	next = append(next, s.ids...)
	next = append(next, id)
	var evicted []string
	if over := len(next) - s.capacity; over > 0 {
		evicted = next[:over]
		next = next[over:]
	}

	if err := s.write(s.path, seenDoc{Ads: next}); err != nil {
		return err
	}

	for _, old := range evicted {
		delete(s.index, old)
	}
	s.index[id] = struct{}{}
	s.ids = next
	if len(evicted) > 0 {
		s.logger.Debug("[seen] Evicted %d oldest ids", len(evicted))
	}
	return nil
}

func (s *FileSeenSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *FileSeenSet) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}
