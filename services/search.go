package services

import (
	"context"
	"fmt"

	"listing-monitor/models"
	"listing-monitor/notify"
	"listing-monitor/scraper"
	"listing-monitor/storage"
	"listing-monitor/utils"
)

// SearchProcessor answers one queued ad-hoc search. Process is the queue's
// ProcessFunc.
type SearchProcessor struct {
	pipeline *Pipeline
	history  *storage.HistoryWriter
	searches storage.SearchArchive
	limit    int
	logger   *utils.Logger
}

// NewSearchProcessor creates a processor returning at most limit results.
// searches may be nil.
func NewSearchProcessor(p *Pipeline, history *storage.HistoryWriter, searches storage.SearchArchive, limit int) *SearchProcessor {
	if limit < 1 {
		limit = 5
	}
	return &SearchProcessor{pipeline: p, history: history, searches: searches, limit: limit, logger: p.Logger}
}

// Process fetches and parses the query, notifies the requester about every
// listing not seen before and files a history record. Only a failed fetch
// or seen-set write fails the item; the history record is best-effort.
func (sp *SearchProcessor) Process(ctx context.Context, item models.QueueItem) error {
	log := sp.logger.With("item", item.ID, "query", item.Query, "recipient", item.Recipient)
	log.Info("[search] Searching %q for %s", item.Query, item.Recipient)

	listings, err := sp.pipeline.search(ctx, scraper.SearchRequest{Query: item.Query}, sp.limit)
	if err != nil {
		return fmt.Errorf("search %q: %w", item.Query, err)
	}

	recipients := []string{item.Recipient}
	handled := utils.NewIDSet()
	fresh := 0
	for _, l := range listings {
		ok, err := sp.pipeline.isNew(ctx, l, handled)
		if err != nil {
			return fmt.Errorf("seen-set lookup: %w", err)
		}
		if !ok {
			continue
		}
		delivered, err := sp.pipeline.deliver(context.WithoutCancel(ctx), recipients, l)
		if err != nil {
			return err
		}
		if delivered {
			fresh++
		}
	}

	// Nothing new to push: answer with the plain result list instead.
	if fresh == 0 {
		if err := sp.pipeline.Dispatcher.SendText(ctx, item.Recipient, notify.FormatSearchResults(item.Query, listings)); err != nil {
			log.Warn("[search] Summary reply failed: %v", err)
		}
	}

	if err := sp.pipeline.Series.IncrementCounter(item.Query); err != nil {
		log.Warn("[search] Trend update failed: %v", err)
	}
	sp.record(ctx, item, listings, log)

	log.Info("[search] Completed %q — %d results, %d new", item.Query, len(listings), fresh)
	return nil
}

func (sp *SearchProcessor) record(ctx context.Context, item models.QueueItem, listings []models.Listing, log *utils.Logger) {
	rec := models.NewSearchRecord(item.Query, item.Recipient, item.Username, listings, sp.pipeline.clock())

	if sp.history != nil {
		path, err := sp.history.Write(rec)
		if err != nil {
			log.Warn("[search] History write failed: %v", err)
		} else {
			log.Debug("[search] History saved to %s", path)
		}
	}
	if sp.searches != nil {
		if err := sp.searches.ArchiveSearch(ctx, rec); err != nil {
			log.Warn("[search] Search archive failed: %v", err)
		}
	}
	if sp.pipeline.Events != nil {
		if err := sp.pipeline.Events.PublishSearch(ctx, rec); err != nil {
			log.Warn("[search] Event publish failed: %v", err)
		}
	}
}
