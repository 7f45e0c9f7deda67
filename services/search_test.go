package services

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-monitor/models"
	"listing-monitor/scraper"
	"listing-monitor/storage"
	"listing-monitor/utils"
)

func newQueueFixture(t *testing.T) (*testEnv, *storage.FileQueue, *SearchProcessor) {
	t.Helper()
	env := newTestEnv(t)
	queue, err := storage.NewFileQueue(filepath.Join(env.dir, "queue"), utils.NewNopLogger())
	require.NoError(t, err)
	history := storage.NewHistoryWriter(filepath.Join(env.dir, "searches"))
	return env, queue, NewSearchProcessor(env.pipeline, history, nil, 5)
}

func historyRecords(t *testing.T, root string) []models.SearchRecord {
	t.Helper()
	var out []models.SearchRecord
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var rec models.SearchRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return out
}

func TestDrainEndToEndIphone13(t *testing.T) {
	env, queue, proc := newQueueFixture(t)
	env.fetcher.pages["iphone 13"] = iphonePage

	id, err := queue.Enqueue(context.Background(), models.QueueItem{Query: "iphone 13", Recipient: "42"})
	require.NoError(t, err)

	report, err := queue.Drain(context.Background(), proc.Process)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	assert.Len(t, env.sender.to("42"), 2)
	for _, listingID := range []string{"a", "b"} {
		has, err := env.seen.Has(context.Background(), listingID)
		require.NoError(t, err)
		assert.True(t, has, listingID)
	}

	records := historyRecords(t, filepath.Join(env.dir, "searches"))
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].ResultsCount)
	assert.Equal(t, "42", records[0].Recipient)
	assert.EqualValues(t, (45000+39990)/2, records[0].AvgPrice)
	assert.Len(t, records[0].Items, 2)

	item, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusProcessed, item.Status)
	pending, err := queue.List(models.QueueStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, []models.CounterEntry{{Key: "iphone 13", Count: 1}}, env.series.TopCounters(5))
}

func TestDrainTransportFailureMovesItemToError(t *testing.T) {
	env, queue, proc := newQueueFixture(t)
	env.fetcher.fail["ps5"] = &scraper.TransportError{Kind: scraper.KindUpstreamRejected, Status: 403}

	id, err := queue.Enqueue(context.Background(), models.QueueItem{Query: "ps5", Recipient: "42"})
	require.NoError(t, err)

	report, err := queue.Drain(context.Background(), proc.Process)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	item, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusError, item.Status)
	assert.Contains(t, item.Error, "403")
	assert.Empty(t, env.sender.to("42"))
	assert.Empty(t, historyRecords(t, filepath.Join(env.dir, "searches")))
}

func TestProcessNothingFoundRepliesAndRecords(t *testing.T) {
	env, _, proc := newQueueFixture(t)
	env.fetcher.pages["диван"] = `<html><body><p>Ничего не нашлось</p></body></html>`

	err := proc.Process(context.Background(), models.QueueItem{ID: "1", Query: "диван", Recipient: "42", Username: "ivan"})
	require.NoError(t, err)

	sent := env.sender.to("42")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "ничего не найдено")

	records := historyRecords(t, filepath.Join(env.dir, "searches"))
	require.Len(t, records, 1)
	assert.Zero(t, records[0].ResultsCount)
	assert.Equal(t, "ivan", records[0].Username)
}

func TestProcessAlreadySeenSendsSummary(t *testing.T) {
	env, _, proc := newQueueFixture(t)
	env.fetcher.pages["iphone 13"] = iphonePage
	for _, id := range []string{"a", "b"} {
		require.NoError(t, env.seen.MarkSeen(context.Background(), id))
	}

	err := proc.Process(context.Background(), models.QueueItem{ID: "1", Query: "iphone 13", Recipient: "42"})
	require.NoError(t, err)

	sent := env.sender.to("42")
	require.Len(t, sent, 1, "one summary instead of per-listing messages")
	assert.Contains(t, sent[0].Text, "iPhone 13 mini")
	assert.Equal(t, 2, env.seen.Size())
}

func TestProcessSeenWriteFailureFailsItem(t *testing.T) {
	env, _, proc := newQueueFixture(t)
	env.fetcher.pages["iphone 13"] = iphonePage
	proc.pipeline.Seen = failingSeenSet{env.seen}

	err := proc.Process(context.Background(), models.QueueItem{ID: "1", Query: "iphone 13", Recipient: "42"})
	var perr *storage.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Len(t, env.sender.to("42"), 1, "the pipeline stops after the failed write")
}

type failingSeenSet struct{ storage.SeenSet }

func (failingSeenSet) MarkSeen(context.Context, string) error {
	return &storage.PersistenceError{Op: "rename", Path: "seen_ads.json", Err: os.ErrPermission}
}
