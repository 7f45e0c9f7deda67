package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-monitor/models"
	"listing-monitor/utils"
)

func TestQueryStoreSubscribeAndSoftDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.json")
	s := OpenQueryStore(path, utils.NewNopLogger())

	a, err := s.Add(models.MonitoredQuery{Query: " iphone 13 ", Recipient: "42"})
	require.NoError(t, err)
	b, err := s.Add(models.MonitoredQuery{Query: "ps5", Recipient: "42"})
	require.NoError(t, err)
	assert.Equal(t, "iphone 13", a.Query)
	assert.True(t, a.Active)

	require.NoError(t, s.Deactivate(a.ID))
	assert.ErrorIs(t, s.Deactivate("nope"), ErrNotFound)

	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	reloaded := OpenQueryStore(path, utils.NewNopLogger())
	assert.Len(t, reloaded.All(), 2, "inactive queries are kept")
	assert.Len(t, reloaded.Active(), 1)
}

func TestQueryStoreMarkCheckedAndRecordRun(t *testing.T) {
	s := OpenQueryStore(filepath.Join(t.TempDir(), "queries.json"), utils.NewNopLogger())
	a, err := s.Add(models.MonitoredQuery{Query: "macbook"})
	require.NoError(t, err)
	b, err := s.Add(models.MonitoredQuery{Query: "диван"})
	require.NoError(t, err)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.MarkChecked(map[string]error{a.ID: errors.New("status 403")}, at))
	require.NoError(t, s.RecordRun(2, 5, 1, at))
	require.NoError(t, s.RecordRun(2, 1, 0, at))

	all := s.All()
	require.NotNil(t, all[0].LastCheckedAt)
	assert.True(t, all[0].LastCheckedAt.Equal(at))
	assert.Equal(t, "status 403", all[0].LastError)
	assert.Nil(t, all[1].LastCheckedAt, "query %s was not checked", b.ID)

	later := at.Add(time.Hour)
	require.NoError(t, s.MarkChecked(map[string]error{a.ID: nil}, later))
	all = s.All()
	assert.True(t, all[0].LastCheckedAt.Equal(later))
	assert.Empty(t, all[0].LastError, "a successful check clears the last error")

	stats := s.Stats()
	assert.Equal(t, int64(4), stats.TotalChecks)
	assert.Equal(t, int64(6), stats.TotalNewAds)
	assert.Equal(t, 0, stats.LastCycleErrors)
}

func TestQueryStoreKeepsStateOnWriteFailure(t *testing.T) {
	s := OpenQueryStore(filepath.Join(t.TempDir(), "queries.json"), utils.NewNopLogger())
	_, err := s.Add(models.MonitoredQuery{Query: "ps5"})
	require.NoError(t, err)

	s.write = func(string, any) error { return errors.New("disk full") }
	_, err = s.Add(models.MonitoredQuery{Query: "xbox"})
	assert.Error(t, err)
	assert.Error(t, s.RecordRun(1, 1, 0, time.Now()))

	assert.Len(t, s.All(), 1)
	assert.Equal(t, int64(0), s.Stats().TotalChecks)
}
