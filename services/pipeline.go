package services

import (
	"context"
	"fmt"
	"time"

	"listing-monitor/events"
	"listing-monitor/metrics"
	"listing-monitor/models"
	"listing-monitor/notify"
	"listing-monitor/scraper"
	"listing-monitor/storage"
	"listing-monitor/utils"
)

// Pipeline bundles the collaborators shared by the scheduler and the
// queue processor. Archive and Events are optional.
type Pipeline struct {
	Fetcher    scraper.Fetcher
	Parser     *scraper.Parser
	Retry      *utils.RetryPolicy
	Seen       storage.SeenSet
	Series     *storage.TimeSeries
	Dispatcher *notify.Dispatcher
	Archive    storage.ListingArchive
	Events     events.Publisher

	// DelayMin and DelayMax bound the random pause before every fetch.
	DelayMin time.Duration
	DelayMax time.Duration

	Logger *utils.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *Pipeline) pause(ctx context.Context) error {
	d := utils.Jitter(p.DelayMin, p.DelayMax)
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	return utils.Sleep(ctx, d)
}

// search waits the politeness delay, fetches with retry and parses at most
// limit listings.
func (p *Pipeline) search(ctx context.Context, req scraper.SearchRequest, limit int) ([]models.Listing, error) {
	if err := p.pause(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := scraper.FetchWithRetry(ctx, p.Fetcher, p.Retry, req, limit)
	metrics.ObserveFetch(start, err)
	if err != nil {
		if status, ok := scraper.UpstreamStatus(err); ok {
			p.Logger.Warn("[pipeline] %q rejected by the source with status %d", req.Query, status)
		} else if scraper.IsTimeout(err) {
			p.Logger.Warn("[pipeline] %q timed out", req.Query)
		}
		return nil, err
	}

	listings, err := p.Parser.Parse(raw, req.Query, limit, p.clock())
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", req.Query, err)
	}
	return listings, nil
}

// isNew reports whether l has neither been notified before nor handled
// earlier in this run. A true result claims the id for this run.
func (p *Pipeline) isNew(ctx context.Context, l models.Listing, handled *utils.IDSet) (bool, error) {
	seen, err := p.Seen.Has(ctx, l.ID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	return handled.Add(l.ID), nil
}

// deliver notifies every recipient about l and records it. The listing is
// marked seen only when at least one send was attempted; a failed seen-set
// write is returned and aborts the caller's pipeline. Price, archive and
// event writes that follow are best-effort.
func (p *Pipeline) deliver(ctx context.Context, recipients []string, l models.Listing) (bool, error) {
	log := p.Logger.With("listing", l.ID, "query", l.Query)

	results := p.Dispatcher.NotifyAll(ctx, recipients, l)
	var reached []string
	for _, r := range results {
		if r.Attempted {
			metrics.DeliveriesTotal.WithLabelValues(metrics.Status(r.Err)).Inc()
		}
		if r.Delivered() {
			reached = append(reached, r.Recipient)
		}
	}
	if !notify.AnyAttempted(results) {
		log.Warn("[pipeline] No delivery attempted for %s, not marking seen", l.ID)
		return false, nil
	}
	log.Debug("[pipeline] %s delivered to %d/%d recipients", l.ID, notify.Succeeded(results), len(recipients))

	if err := p.Seen.MarkSeen(ctx, l.ID); err != nil {
		return true, fmt.Errorf("mark %s seen: %w", l.ID, err)
	}
	metrics.SeenSetSize.Set(float64(p.Seen.Size()))

	if l.HasPrice() {
		if err := p.Series.AppendPrice(l.Query, float64(l.Price)); err != nil {
			log.Warn("[pipeline] Price history write failed: %v", err)
		}
	}
	if p.Archive != nil {
		if err := p.Archive.Archive(ctx, []models.Listing{l}); err != nil {
			log.Warn("[pipeline] Archive write failed: %v", err)
		}
	}
	if p.Events != nil {
		if err := p.Events.PublishListing(ctx, l, reached); err != nil {
			log.Warn("[pipeline] Event publish failed: %v", err)
		}
	}
	return true, nil
}
