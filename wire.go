package main

import (
	"context"
	"errors"
	"fmt"

	"listing-monitor/config"
	"listing-monitor/events"
	"listing-monitor/notify"
	"listing-monitor/scraper"
	"listing-monitor/services"
	"listing-monitor/storage"
	"listing-monitor/utils"
)

// app holds every wired component for one process.
type app struct {
	cfg    *config.Config
	logger *utils.Logger

	seen     storage.SeenSet
	series   *storage.TimeSeries
	queries  *storage.QueryStore
	queue    *storage.FileQueue
	history  *storage.HistoryWriter
	archive  storage.MultiArchive
	searches storage.SearchArchive
	events   events.Publisher
	lock     *utils.RunLock

	sender   notify.Sender
	pipeline *services.Pipeline

	closers []func()
}

// newStores opens the local stores. It needs no credentials.
func newStores(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	switch cfg.SeenBackend {
	case "redis":
		client, err := storage.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.seen = storage.NewRedisSeenSet(client, cfg.SeenCapacity, logger)
		logger.Info("[main] Seen-set in Redis at %s", cfg.RedisAddr)
	default:
		a.seen = storage.OpenFileSeenSet(cfg.Path("seen_ads.json"), cfg.SeenCapacity, logger)
	}

	a.series = storage.OpenTimeSeries(cfg.Path("prices.json"), cfg.Path("trends.json"), cfg.PriceHistoryLimit, logger)
	a.queries = storage.OpenQueryStore(cfg.Path("queries.json"), logger)
	a.history = storage.NewHistoryWriter(cfg.Path("searches"))
	a.lock = utils.NewRunLock(cfg.Path("monitor.lock"), cfg.LockTTL)

	queue, err := storage.NewFileQueue(cfg.Path("queue"), logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.queue = queue
	return a, nil
}

// newApp opens the stores and every outbound collaborator. Optional sinks
// (CSV, PostgreSQL, NATS) that fail to open are logged and left out.
func newApp(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a, err := newStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	sender, err := newSender(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.sender = sender

	var fetcher scraper.Fetcher
	if cfg.FetchMode == "browser" {
		bf := scraper.NewBrowserFetcher(cfg.SourceBaseURL, cfg.SourceSearchPath, cfg.ChromeBin, cfg.RequestTimeout, logger)
		a.closers = append(a.closers, func() { _ = bf.Close() })
		fetcher = bf
	} else {
		fetcher = scraper.NewHTTPFetcher(nil, cfg.SourceBaseURL, cfg.SourceSearchPath, cfg.RequestTimeout, logger)
	}

	if cfg.CSVExportPath != "" {
		csvWriter, err := storage.NewCSVWriter(cfg.CSVExportPath)
		if err != nil {
			logger.Error("[main] CSV archive disabled: %v", err)
		} else {
			a.archive = append(a.archive, csvWriter)
		}
	}
	if cfg.PostgresDSN != "" {
		pgWriter, err := storage.NewPostgresWriter(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Error("[main] PostgreSQL archive disabled: %v", err)
		} else {
			a.archive = append(a.archive, pgWriter)
			a.searches = pgWriter
		}
	}
	a.closers = append(a.closers, func() { _ = a.archive.Close() })

	a.events = events.NopPublisher{}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("[main] Event publishing disabled: %v", err)
		} else {
			a.events = pub
		}
	}
	a.closers = append(a.closers, a.events.Close)

	parser := scraper.NewParser(cfg.SourceBaseURL, logger)
	parser.MaxResults = cfg.MaxResults

	a.pipeline = &services.Pipeline{
		Fetcher: fetcher,
		Parser:  parser,
		Retry: &utils.RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Logger:      logger,
		},
		Seen:       a.seen,
		Series:     a.series,
		Dispatcher: notify.NewDispatcher(sender, cfg.SendInterval, cfg.RequestTimeout, logger),
		Events:     a.events,
		DelayMin:   cfg.RequestDelayMin,
		DelayMax:   cfg.RequestDelayMax,
		Logger:     logger,
	}
	if len(a.archive) > 0 {
		a.pipeline.Archive = a.archive
	}
	return a, nil
}

func newSender(cfg *config.Config, logger *utils.Logger) (notify.Sender, error) {
	switch cfg.NotifyChannel {
	case "telegram":
		return notify.NewTelegramSender(cfg.TelegramBotToken, cfg.RequestTimeout)
	case "email":
		return notify.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPSender)
	case "log":
		return notify.NewLogSender(logger), nil
	}
	return nil, fmt.Errorf("unknown notification channel %q", cfg.NotifyChannel)
}

func (a *app) scheduler() *services.Scheduler {
	return services.NewScheduler(a.pipeline, a.queries, services.SchedulerOptions{
		CheckResults:   a.cfg.CheckResults,
		MaxConcurrency: a.cfg.MaxConcurrency,
		TopQueries:     a.cfg.TopQueries,
		DefaultQueries: a.cfg.DefaultQueries,
		Admins:         a.cfg.AdminIDs,
		Lock:           a.lock,
	})
}

// errNoInbound is returned when the notification channel cannot receive
// search requests.
var errNoInbound = errors.New("search requests are only received over telegram")

// poller builds the Telegram inbound poller feeding the request queue.
func (a *app) poller() (*notify.TelegramPoller, error) {
	tg, ok := a.sender.(*notify.TelegramSender)
	if !ok {
		return nil, errNoInbound
	}
	offsets := storage.NewOffsetFile(a.cfg.Path("telegram_offset.txt"))
	return notify.NewTelegramPoller(tg, a.queue, offsets, a.cfg.TelegramPollTimeout, a.logger), nil
}

func (a *app) searchProcessor() *services.SearchProcessor {
	return services.NewSearchProcessor(a.pipeline, a.history, a.searches, a.cfg.SearchResults)
}

// drain processes the queue under the run lock.
func (a *app) drain(ctx context.Context) (storage.DrainReport, error) {
	if err := a.lock.Acquire(); err != nil {
		return storage.DrainReport{}, err
	}
	defer a.lock.Release()

	report, err := a.queue.Drain(ctx, a.searchProcessor().Process)
	recordDrain(report)
	return report, err
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
