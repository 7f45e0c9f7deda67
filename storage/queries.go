package storage

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"listing-monitor/models"
	"listing-monitor/utils"
)

type queryDoc struct {
	Queries []models.MonitoredQuery `json:"queries"`
	Stats   models.RunStats         `json:"stats"`
}

// QueryStore persists monitored queries and the global run counters in
// one document. Queries are soft-deleted only.
type QueryStore struct {
	mu     sync.Mutex
	path   string
	doc    queryDoc
	logger *utils.Logger

	now   func() time.Time
	write func(path string, v any) error
}

// OpenQueryStore loads path, starting empty if it is missing or corrupt.
func OpenQueryStore(path string, logger *utils.Logger) *QueryStore {
	s := &QueryStore{path: path, logger: logger, now: time.Now, write: writeJSONAtomic}
	var doc queryDoc
	if loadJSON(path, &doc, logger) {
		s.doc = doc
	}
	return s
}

// commit persists next and adopts it only when the write succeeded.
func (s *QueryStore) commit(next queryDoc) error {
	if err := s.write(s.path, next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *QueryStore) cloneDoc() queryDoc {
	return queryDoc{
		Queries: append([]models.MonitoredQuery(nil), s.doc.Queries...),
		Stats:   s.doc.Stats,
	}
}

// Add saves a new active query and returns it with its id assigned.
func (s *QueryStore) Add(q models.MonitoredQuery) (models.MonitoredQuery, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return q, errors.New("queries: empty query")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q.ID = uuid.NewString()[:8]
	q.Active = true
	q.CreatedAt = s.now()
	q.LastCheckedAt = nil

	next := s.cloneDoc()
	next.Queries = append(next.Queries, q)
	if err := s.commit(next); err != nil {
		return q, err
	}
	s.logger.Info("[queries] Subscribed %s to %q (%s)", q.Recipient, q.Query, q.ID)
	return q, nil
}

// Deactivate flips Active off. The query stays in the document.
func (s *QueryStore) Deactivate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneDoc()
	for i := range next.Queries {
		if next.Queries[i].ID == id {
			next.Queries[i].Active = false
			return s.commit(next)
		}
	}
	return ErrNotFound
}

// Active returns the active queries in creation order.
func (s *QueryStore) Active() []models.MonitoredQuery {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.MonitoredQuery
	for _, q := range s.doc.Queries {
		if q.Active {
			out = append(out, q)
		}
	}
	return out
}

// All returns every query, including inactive ones.
func (s *QueryStore) All() []models.MonitoredQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MonitoredQuery(nil), s.doc.Queries...)
}

// MarkChecked sets LastCheckedAt for every id in outcomes and records the
// outcome of that check: a nil error clears LastError.
func (s *QueryStore) MarkChecked(outcomes map[string]error, at time.Time) error {
	if len(outcomes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneDoc()
	for i := range next.Queries {
		err, ok := outcomes[next.Queries[i].ID]
		if !ok {
			continue
		}
		t := at
		next.Queries[i].LastCheckedAt = &t
		next.Queries[i].LastError = ""
		if err != nil {
			next.Queries[i].LastError = err.Error()
		}
	}
	return s.commit(next)
}

// RecordRun adds one cycle's results to the global counters.
func (s *QueryStore) RecordRun(checks, newAds int, cycleErrors int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneDoc()
	next.Stats.TotalChecks += int64(checks)
	next.Stats.TotalNewAds += int64(newAds)
	next.Stats.LastCycleErrors = cycleErrors
	t := at
	next.Stats.LastCheckTimestamp = &t
	return s.commit(next)
}

// Stats returns the global counters.
func (s *QueryStore) Stats() models.RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Stats
}
