package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"listing-monitor/models"
	"listing-monitor/utils"
)

// ErrNotFound is returned when no partition holds the requested item.
var ErrNotFound = errors.New("queue: item not found")

// ProcessFunc handles one queue item. A returned error or a panic moves the
// item to the error partition.
type ProcessFunc func(ctx context.Context, item models.QueueItem) error

// DrainReport summarises one Drain pass.
type DrainReport struct {
	Snapshot    int
	Processed   int
	Failed      int
	Invalid     int // undecodable records moved to error
	Interrupted int // left pending because the drain was cancelled
}

// FileQueue is a durable inbox of search requests. Each item is one JSON
// file living in exactly one of the pending, processed or error
// directories; the directory is the item's state.
type FileQueue struct {
	mu     sync.Mutex
	root   string
	logger *utils.Logger
	now    func() time.Time

	idMu     sync.Mutex
	lastNano int64
}

// NewFileQueue creates the partition directories under root.
func NewFileQueue(root string, logger *utils.Logger) (*FileQueue, error) {
	q := &FileQueue{root: root, logger: logger, now: time.Now}
	for _, s := range []models.QueueStatus{models.QueueStatusPending, models.QueueStatusProcessed, models.QueueStatusError} {
		if err := os.MkdirAll(q.dir(s), 0755); err != nil {
			return nil, &PersistenceError{Op: "mkdir", Path: q.dir(s), Err: err}
		}
	}
	return q, nil
}

func (q *FileQueue) dir(s models.QueueStatus) string {
	return filepath.Join(q.root, string(s))
}

func (q *FileQueue) path(s models.QueueStatus, id string) string {
	return filepath.Join(q.dir(s), id+".json")
}

// Enqueue stores item as pending and returns its id. Ids sort in arrival
// order.
func (q *FileQueue) Enqueue(_ context.Context, item models.QueueItem) (string, error) {
	if strings.TrimSpace(item.Query) == "" {
		return "", errors.New("queue: empty query")
	}

	now := q.now()
	item.ID = fmt.Sprintf("%d_%s", q.nextStamp(now), uuid.NewString()[:8])
	item.Status = models.QueueStatusPending
	item.Error = ""
	item.FinishedAt = nil
	if item.SubmittedAt.IsZero() {
		item.SubmittedAt = now
	}

	if err := writeJSONAtomic(q.path(models.QueueStatusPending, item.ID), item); err != nil {
		return "", err
	}
	q.logger.Info("[queue] Enqueued %s: %q for %s", item.ID, item.Query, item.Recipient)
	return item.ID, nil
}

// nextStamp returns a strictly increasing nanosecond stamp.
func (q *FileQueue) nextStamp(now time.Time) int64 {
	q.idMu.Lock()
	defer q.idMu.Unlock()

	n := now.UnixNano()
	if n <= q.lastNano {
		n = q.lastNano + 1
	}
	q.lastNano = n
	return n
}

// Drain processes every item that is pending when the call starts, oldest
// first. Items are independent: a failure only moves that item to error.
// Once ctx is done no new item is started; an item whose processing was
// cut short by cancellation stays pending for the next drain.
func (q *FileQueue) Drain(ctx context.Context, process ProcessFunc) (DrainReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var report DrainReport
	ids, err := q.ids(models.QueueStatusPending)
	if err != nil {
		return report, err
	}
	report.Snapshot = len(ids)

	var errs []error
	for i, id := range ids {
		if ctx.Err() != nil {
			report.Interrupted += len(ids) - i
			q.logger.Warn("[queue] Drain cancelled, %d items left pending", len(ids)-i)
			break
		}

		log := q.logger.With("item", id)
		pendingPath := q.path(models.QueueStatusPending, id)

		data, err := os.ReadFile(pendingPath)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, &PersistenceError{Op: "read", Path: pendingPath, Err: err})
			continue
		}

		var item models.QueueItem
		if err := json.Unmarshal(data, &item); err != nil {
			log.Error("[queue] Undecodable item, moving to error: %v", err)
			if err := os.Rename(pendingPath, q.path(models.QueueStatusError, id)); err != nil {
				errs = append(errs, &PersistenceError{Op: "rename", Path: pendingPath, Err: err})
				continue
			}
			report.Invalid++
			continue
		}
		item.ID = id
		item.Attempts++
		if err := writeJSONAtomic(pendingPath, item); err != nil {
			log.Error("[queue] Could not record attempt %d, skipping item: %v", item.Attempts, err)
			errs = append(errs, err)
			continue
		}

		procErr := runProcess(ctx, process, item)
		if procErr != nil && ctx.Err() != nil {
			log.Warn("[queue] %q interrupted by shutdown, left pending: %v", item.Query, procErr)
			report.Interrupted++
			continue
		}

		finished := q.now()
		item.FinishedAt = &finished
		target := models.QueueStatusProcessed
		if procErr != nil {
			target = models.QueueStatusError
			item.Error = procErr.Error()
			log.Error("[queue] %q for %s failed: %v", item.Query, item.Recipient, procErr)
		} else {
			item.Error = ""
		}
		item.Status = target

		if err := q.transition(item, target); err != nil {
			log.Error("[queue] Transition to %s failed, item stays pending: %v", target, err)
			errs = append(errs, err)
			continue
		}

		if target == models.QueueStatusProcessed {
			report.Processed++
		} else {
			report.Failed++
		}
	}

	q.logger.Info("[queue] Drain done — %d processed, %d failed, %d invalid, %d interrupted",
		report.Processed, report.Failed, report.Invalid, report.Interrupted)
	return report, errors.Join(errs...)
}

func runProcess(ctx context.Context, process ProcessFunc, item models.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return process(ctx, item)
}

// transition records the final state inside the pending file, then renames
// it into the target partition, replacing any copy already there. The
// record is in exactly one directory at every point.
func (q *FileQueue) transition(item models.QueueItem, target models.QueueStatus) error {
	src := q.path(models.QueueStatusPending, item.ID)
	if err := writeJSONAtomic(src, item); err != nil {
		return err
	}
	dst := q.path(target, item.ID)
	if err := os.Rename(src, dst); err != nil {
		return &PersistenceError{Op: "rename", Path: src, Err: err}
	}

	other := models.QueueStatusError
	if target == models.QueueStatusError {
		other = models.QueueStatusProcessed
	}
	if err := os.Remove(q.path(other, item.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		q.logger.Warn("[queue] Could not remove stale %s copy of %s: %v", other, item.ID, err)
	}
	return nil
}

// ids lists item ids in one partition, sorted by name.
func (q *FileQueue) ids(s models.QueueStatus) ([]string, error) {
	entries, err := os.ReadDir(q.dir(s))
	if err != nil {
		return nil, &PersistenceError{Op: "list", Path: q.dir(s), Err: err}
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// List returns the decodable items in one partition, oldest first.
func (q *FileQueue) List(s models.QueueStatus) ([]models.QueueItem, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("queue: unknown status %q", s)
	}
	ids, err := q.ids(s)
	if err != nil {
		return nil, err
	}
	items := make([]models.QueueItem, 0, len(ids))
	for _, id := range ids {
		item, err := q.read(s, id)
		if err != nil {
			q.logger.Warn("[queue] Skipping %s/%s: %v", s, id, err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Get finds an item in whichever partition holds it. The partition wins
// over the status field stored in the record.
func (q *FileQueue) Get(id string) (models.QueueItem, error) {
	for _, s := range []models.QueueStatus{models.QueueStatusPending, models.QueueStatusProcessed, models.QueueStatusError} {
		item, err := q.read(s, id)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return item, err
	}
	return models.QueueItem{}, ErrNotFound
}

func (q *FileQueue) read(s models.QueueStatus, id string) (models.QueueItem, error) {
	var item models.QueueItem
	data, err := os.ReadFile(q.path(s, id))
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return item, fmt.Errorf("queue: decode %s: %w", id, err)
	}
	item.ID = id
	item.Status = s
	return item, nil
}

// Counts returns the number of items per partition.
func (q *FileQueue) Counts() (map[models.QueueStatus]int, error) {
	counts := make(map[models.QueueStatus]int, 3)
	for _, s := range []models.QueueStatus{models.QueueStatusPending, models.QueueStatusProcessed, models.QueueStatusError} {
		ids, err := q.ids(s)
		if err != nil {
			return nil, err
		}
		counts[s] = len(ids)
	}
	return counts, nil
}

// Requeue moves a failed item back to pending for manual replay.
func (q *FileQueue) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.read(models.QueueStatusError, id)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	item.Status = models.QueueStatusPending
	item.Error = ""
	item.FinishedAt = nil

	src := q.path(models.QueueStatusError, id)
	if err := writeJSONAtomic(src, item); err != nil {
		return err
	}
	if err := os.Rename(src, q.path(models.QueueStatusPending, id)); err != nil {
		return &PersistenceError{Op: "rename", Path: src, Err: err}
	}
	q.logger.Info("[queue] Requeued %s", id)
	return nil
}
