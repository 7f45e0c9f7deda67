package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"listing-monitor/metrics"
	"listing-monitor/models"
	"listing-monitor/scraper"
	"listing-monitor/storage"
	"listing-monitor/utils"
)

// QueryState is the step a query check is in.
type QueryState string

const (
	StateIdle             QueryState = "idle"
	StateFetching         QueryState = "fetching"
	StateParsing          QueryState = "parsing"
	StateDeduping         QueryState = "deduping"
	StateNotifying        QueryState = "notifying"
	StateRecordingHistory QueryState = "recording_history"
)

// SchedulerOptions configure one Scheduler.
type SchedulerOptions struct {
	CheckResults   int
	MaxConcurrency int
	TopQueries     int
	DefaultQueries []string
	Admins         []string
	// Lock, when set, is held for the whole cycle.
	Lock *utils.RunLock
}

// QueryResult is the outcome of checking one query.
type QueryResult struct {
	ID       string
	Query    string
	Found    int
	NewAds   int
	FailedAt QueryState
	Err      error
	Skipped  bool
}

// CycleReport summarises one RunCycle.
type CycleReport struct {
	Started  time.Time
	Finished time.Time
	Results  []QueryResult
	Checked  int
	Failed   int
	Skipped  int
	NewAds   int
}

// Scheduler runs the periodic check over every monitored query.
type Scheduler struct {
	pipeline *Pipeline
	queries  *storage.QueryStore
	opts     SchedulerOptions
	logger   *utils.Logger
}

func NewScheduler(p *Pipeline, queries *storage.QueryStore, opts SchedulerOptions) *Scheduler {
	if opts.CheckResults < 1 {
		opts.CheckResults = 3
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Scheduler{pipeline: p, queries: queries, opts: opts, logger: p.Logger}
}

type checkTarget struct {
	id         string
	request    scraper.SearchRequest
	recipients []string
}

// targets returns the active monitored queries, or the most popular ad-hoc
// searches, or the configured defaults, in that order of preference.
func (s *Scheduler) targets() []checkTarget {
	var out []checkTarget
	for _, q := range s.queries.Active() {
		recipients := s.opts.Admins
		if q.Recipient != "" {
			recipients = []string{q.Recipient}
		}
		out = append(out, checkTarget{
			id: q.ID,
			request: scraper.SearchRequest{
				Query:    q.Query,
				Category: q.Category,
				Location: q.Location,
				MinPrice: q.MinPrice,
				MaxPrice: q.MaxPrice,
			},
			recipients: recipients,
		})
	}
	if len(out) > 0 {
		return out
	}

	var texts []string
	for _, c := range s.pipeline.Series.TopCounters(s.opts.TopQueries) {
		texts = append(texts, c.Key)
	}
	if len(texts) == 0 {
		texts = s.opts.DefaultQueries
	}
	for _, t := range texts {
		out = append(out, checkTarget{request: scraper.SearchRequest{Query: t}, recipients: s.opts.Admins})
	}
	return out
}

// RunCycle checks every query once. A failing query is logged and counted;
// it never stops the others. Once ctx is done no further query is started.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{Started: s.pipeline.clock()}

	if s.opts.Lock != nil {
		if err := s.opts.Lock.Acquire(); err != nil {
			return report, err
		}
		defer s.opts.Lock.Release()
	}

	targets := s.targets()
	if len(targets) == 0 {
		s.logger.Warn("[scheduler] Nothing to check")
	}
	if len(s.opts.Admins) == 0 {
		s.logger.Debug("[scheduler] No admin recipients configured")
	}
	s.logger.Info("[scheduler] Cycle started — %d queries", len(targets))

	report.Results = make([]QueryResult, len(targets))
	handled := utils.NewIDSet()
	pool := utils.NewWorkerPool(s.opts.MaxConcurrency, 0)

	for i, t := range targets {
		if ctx.Err() != nil {
			for j := i; j < len(targets); j++ {
				report.Results[j] = QueryResult{ID: targets[j].id, Query: targets[j].request.Query, Skipped: true}
			}
			s.logger.Warn("[scheduler] Cancelled, %d queries not started", len(targets)-i)
			break
		}
		pool.Submit(func() {
			report.Results[i] = s.check(ctx, t, handled)
			if s.opts.Lock != nil {
				s.opts.Lock.Touch()
			}
		})
	}
	pool.Wait()

	err := s.finish(&report)
	metrics.CycleDuration.Observe(report.Finished.Sub(report.Started).Seconds())
	metrics.CyclesTotal.WithLabelValues(metrics.Status(err)).Inc()

	s.logger.Info("[scheduler] Cycle done — %d checked, %d failed, %d skipped, %d new ads",
		report.Checked, report.Failed, report.Skipped, report.NewAds)
	return report, err
}

// finish records trends, check times and run counters for the cycle.
func (s *Scheduler) finish(report *CycleReport) error {
	var errs []error
	checked := make(map[string]error)
	for _, r := range report.Results {
		switch {
		case r.Skipped:
			report.Skipped++
			metrics.QueryChecksTotal.WithLabelValues("skipped").Inc()
			continue
		case r.Err != nil:
			report.Failed++
			metrics.QueryChecksTotal.WithLabelValues("error").Inc()
		default:
			report.Checked++
			metrics.QueryChecksTotal.WithLabelValues("success").Inc()
		}
		if r.ID != "" {
			checked[r.ID] = r.Err
		}
		report.NewAds += r.NewAds

		if err := s.pipeline.Series.IncrementCounter(r.Query); err != nil {
			s.logger.Warn("[scheduler] Trend update for %q failed: %v", r.Query, err)
		}
	}
	metrics.NewListingsTotal.Add(float64(report.NewAds))

	report.Finished = s.pipeline.clock()
	if err := s.queries.MarkChecked(checked, report.Finished); err != nil {
		errs = append(errs, fmt.Errorf("mark checked: %w", err))
	}
	if err := s.queries.RecordRun(report.Checked+report.Failed, report.NewAds, report.Failed, report.Finished); err != nil {
		errs = append(errs, fmt.Errorf("record run: %w", err))
	}
	return errors.Join(errs...)
}

// check runs Fetching → Parsing → Deduping → Notifying → RecordingHistory
// for one query. Once a listing's delivery has started it completes even if
// ctx is cancelled, so nothing is notified without being marked seen.
func (s *Scheduler) check(ctx context.Context, t checkTarget, handled *utils.IDSet) QueryResult {
	res := QueryResult{ID: t.id, Query: t.request.Query}
	log := s.logger.With("query", t.request.Query)
	if t.id != "" {
		log = log.With("query_id", t.id)
	}

	state := StateIdle
	enter := func(next QueryState) {
		log.Debug("[scheduler] %s → %s", state, next)
		state = next
	}
	fail := func(err error) QueryResult {
		res.FailedAt = state
		res.Err = err
		log.Error("[scheduler] %q failed while %s: %v", t.request.Query, state, err)
		enter(StateIdle)
		return res
	}

	enter(StateFetching)
	if err := s.pipeline.pause(ctx); err != nil {
		return fail(err)
	}
	start := time.Now()
	raw, err := scraper.FetchWithRetry(ctx, s.pipeline.Fetcher, s.pipeline.Retry, t.request, s.opts.CheckResults)
	metrics.ObserveFetch(start, err)
	if err != nil {
		return fail(err)
	}

	enter(StateParsing)
	listings, err := s.pipeline.Parser.Parse(raw, t.request.Query, s.opts.CheckResults, s.pipeline.clock())
	if err != nil {
		return fail(err)
	}
	res.Found = len(listings)

	enter(StateDeduping)
	var fresh []models.Listing
	for _, l := range listings {
		ok, err := s.pipeline.isNew(ctx, l, handled)
		if err != nil {
			return fail(err)
		}
		if ok {
			fresh = append(fresh, l)
		}
	}

	enter(StateNotifying)
	if len(fresh) > 0 && len(t.recipients) == 0 {
		log.Warn("[scheduler] %d new listings but no recipients", len(fresh))
	}
	inflight := context.WithoutCancel(ctx)
	for _, l := range fresh {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		delivered, err := s.pipeline.deliver(inflight, t.recipients, l)
		if err != nil {
			return fail(err)
		}
		if delivered {
			res.NewAds++
		}
	}

	enter(StateRecordingHistory)
	log.Info("[scheduler] %q — %d found, %d new", t.request.Query, res.Found, res.NewAds)
	enter(StateIdle)
	return res
}

// Loop runs cycles until ctx is done, sleeping a random interval in
// [minEvery, maxEvery] between them. before, when non-nil, runs ahead of
// every cycle.
func (s *Scheduler) Loop(ctx context.Context, minEvery, maxEvery time.Duration, before func(context.Context)) {
	for {
		if before != nil {
			before(ctx)
		}
		if _, err := s.RunCycle(ctx); err != nil {
			if errors.Is(err, utils.ErrLocked) {
				s.logger.Warn("[scheduler] Another run holds the lock, skipping cycle")
			} else {
				s.logger.Error("[scheduler] Cycle error: %v", err)
			}
		}

		wait := utils.Jitter(minEvery, maxEvery)
		s.logger.Info("[scheduler] Next cycle in %v", wait.Round(time.Second))
		if err := utils.Sleep(ctx, wait); err != nil {
			s.logger.Info("[scheduler] Stopping")
			return
		}
	}
}
