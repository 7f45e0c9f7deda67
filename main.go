package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"listing-monitor/config"
	"listing-monitor/metrics"
	"listing-monitor/models"
	"listing-monitor/services"
	"listing-monitor/storage"
	"listing-monitor/utils"
)

const usage = `listing-monitor — classifieds listing monitor

Usage:
  listing-monitor check                         run one scheduler cycle
  listing-monitor drain                         process pending ad-hoc searches
  listing-monitor daemon                        poll + drain + check forever
  listing-monitor poll [-once]                  queue search requests sent to the bot
  listing-monitor enqueue [-user name] <recipient> <query...>
  listing-monitor subscribe [-category c] [-location l] [-min n] [-max n] <recipient> <query...>
  listing-monitor unsubscribe <id>
  listing-monitor subscriptions                 list monitored queries
  listing-monitor queue                         show queue partitions
  listing-monitor requeue <id>                  move a failed item back to pending
  listing-monitor report [-send] [-quiet]       build the daily report
`

// pollRetryDelay is the pause after a failed Bot API poll.
const pollRetryDelay = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger := utils.NewLoggerWithOptions(utils.LoggerOptions{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "check":
		err = runCheck(ctx, cfg, logger)
	case "drain":
		err = runDrain(ctx, cfg, logger)
	case "daemon":
		err = runDaemon(ctx, cfg, logger)
	case "poll":
		err = runPoll(ctx, cfg, logger, args)
	case "enqueue":
		err = runEnqueue(ctx, cfg, logger, args)
	case "subscribe":
		err = runSubscribe(ctx, cfg, logger, args)
	case "unsubscribe":
		err = runUnsubscribe(ctx, cfg, logger, args)
	case "subscriptions":
		err = runSubscriptions(ctx, cfg, logger)
	case "queue":
		err = runQueue(ctx, cfg, logger)
	case "requeue":
		err = runRequeue(ctx, cfg, logger, args)
	case "report":
		err = runReport(ctx, cfg, logger, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, config.ErrMissingCredentials) {
			logger.Error("[main] Cannot start without credentials: %v", err)
			os.Exit(1)
		}
		logger.Error("[main] %s failed: %v", cmd, err)
		os.Exit(1)
	}
}

func runCheck(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	_, err = a.scheduler().RunCycle(ctx)
	return err
}

func runDrain(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	_, err = a.drain(ctx)
	return err
}

func runDaemon(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	logger.Info("=== Listing monitor daemon starting ===")
	logger.Info("Config — channel: %s | fetch: %s | seen: %s | every %v–%v | concurrency: %d",
		cfg.NotifyChannel, cfg.FetchMode, cfg.SeenBackend, cfg.DaemonMinInterval, cfg.DaemonMaxInterval, cfg.MaxConcurrency)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("[metrics] Server stopped: %v", err)
			}
		}()
	}

	if cfg.TelegramPoll {
		if p, err := a.poller(); err == nil {
			go p.Run(ctx, pollRetryDelay)
		} else {
			logger.Info("[main] Inbound polling off: %v", err)
		}
	}

	drainFirst := func(ctx context.Context) {
		if _, err := a.drain(ctx); err != nil && !errors.Is(err, utils.ErrLocked) {
			logger.Error("[main] Drain failed: %v", err)
		}
	}
	a.scheduler().Loop(ctx, cfg.DaemonMinInterval, cfg.DaemonMaxInterval, drainFirst)
	logger.Info("=== Listing monitor daemon stopped ===")
	return nil
}

func runPoll(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("poll", flag.ExitOnError)
	once := fs.Bool("once", false, "fetch one batch of updates and exit")
	_ = fs.Parse(args)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.poller()
	if err != nil {
		return err
	}
	if *once {
		n, err := p.PollOnce(ctx)
		logger.Info("[main] Queued %d search requests", n)
		return err
	}
	p.Run(ctx, pollRetryDelay)
	return nil
}

func runEnqueue(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	username := fs.String("user", "", "requester display name")
	_ = fs.Parse(args)
	if fs.NArg() < 2 {
		return errors.New("usage: enqueue [-user name] <recipient> <query...>")
	}

	a, err := newStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	id, err := a.queue.Enqueue(ctx, models.QueueItem{
		Recipient: fs.Arg(0),
		Query:     strings.Join(fs.Args()[1:], " "),
		Username:  *username,
	})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runSubscribe(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("subscribe", flag.ExitOnError)
	category := fs.String("category", "", "source category id")
	location := fs.String("location", "", "source location id")
	minPrice := fs.Int64("min", 0, "minimum price")
	maxPrice := fs.Int64("max", 0, "maximum price")
	_ = fs.Parse(args)
	if fs.NArg() < 2 {
		return errors.New("usage: subscribe [-category c] [-location l] [-min n] [-max n] <recipient> <query...>")
	}

	a, err := newStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	q := models.MonitoredQuery{
		Recipient: fs.Arg(0),
		Query:     strings.Join(fs.Args()[1:], " "),
		Category:  *category,
		Location:  *location,
	}
	if *minPrice > 0 {
		q.MinPrice = minPrice
	}
	if *maxPrice > 0 {
		q.MaxPrice = maxPrice
	}

	saved, err := a.queries.Add(q)
	if err != nil {
		return err
	}
	fmt.Println(saved.ID)
	return nil
}

func runUnsubscribe(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: unsubscribe <id>")
	}
	a, err := newStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.queries.Deactivate(args[0]); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", args[0], err)
	}
	logger.Info("[main] Query %s deactivated", args[0])
	return nil
}

func runSubscriptions(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	a, err := newStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	for _, q := range a.queries.All() {
		state := "active"
		if !q.Active {
			state = "inactive"
		}
		checked := "never"
		if q.LastCheckedAt != nil {
			checked = q.LastCheckedAt.Format(time.DateTime)
		}
		if q.LastError != "" {
			checked += " (failed: " + q.LastError + ")"
		}
		fmt.Printf("%s  %-8s  %-12s  %-30s  last checked: %s\n", q.ID, state, q.Recipient, q.Query, checked)
	}
	return nil
}

func runQueue(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	a, err := newStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	counts, err := a.queue.Counts()
	if err != nil {
		return err
	}
	fmt.Printf("pending: %d | processed: %d | error: %d\n",
		counts[models.QueueStatusPending], counts[models.QueueStatusProcessed], counts[models.QueueStatusError])

	for _, s := range []models.QueueStatus{models.QueueStatusPending, models.QueueStatusError} {
		items, err := a.queue.List(s)
		if err != nil {
			return err
		}
		for _, it := range items {
			fmt.Printf("  [%s] %s  %q → %s (attempts %d) %s\n", s, it.ID, it.Query, it.Recipient, it.Attempts, it.Error)
		}
	}
	return nil
}

func runRequeue(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: requeue <id>")
	}
	a, err := newStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.queue.Requeue(args[0]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no failed item %s", args[0])
		}
		return err
	}
	return nil
}

func runReport(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	send := fs.Bool("send", false, "send the report to the admin recipients")
	quiet := fs.Bool("quiet", false, "do not print the report")
	_ = fs.Parse(args)

	var a *app
	var err error
	if *send {
		a, err = newApp(ctx, cfg, logger)
	} else {
		a, err = newStores(ctx, cfg, logger)
	}
	if err != nil {
		return err
	}
	defer a.close()

	insights := services.NewInsightService(a.series, a.seen, a.queries, logger)
	if src, ok := a.searches.(services.RecentSource); ok {
		insights.WithRecent(src)
	} else if cfg.PostgresDSN != "" {
		pg, err := storage.NewPostgresWriter(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Warn("[main] Recent listings left out of the report: %v", err)
		} else {
			defer pg.Close()
			insights.WithRecent(pg)
		}
	}
	report := insights.Generate(ctx, time.Now())

	if err := insights.Save(report, cfg.Path("daily_reports"), cfg.Path("web", "stats.json")); err != nil {
		logger.Error("[main] Report save failed: %v", err)
	}
	if !*quiet {
		insights.Print(os.Stdout, report)
	}

	if *send {
		text := insights.Text(report)
		sent := 0
		for _, admin := range cfg.AdminIDs {
			if err := a.pipeline.Dispatcher.SendText(ctx, admin, text); err == nil {
				sent++
			}
		}
		logger.Info("[main] Report sent to %d/%d admins", sent, len(cfg.AdminIDs))
	}
	return nil
}

func recordDrain(r storage.DrainReport) {
	metrics.QueueItemsTotal.WithLabelValues(string(models.QueueStatusProcessed)).Add(float64(r.Processed))
	metrics.QueueItemsTotal.WithLabelValues(string(models.QueueStatusError)).Add(float64(r.Failed + r.Invalid))
	metrics.QueueItemsTotal.WithLabelValues("interrupted").Add(float64(r.Interrupted))
}
