package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"listing-monitor/utils"
)

var (
	// Scheduler metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_cycles_total",
			Help: "Total number of scheduler cycles",
		},
		[]string{"status"},
	)

	QueryChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_query_checks_total",
			Help: "Total number of per-query checks by outcome",
		},
		[]string{"status"},
	)

	NewListingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_new_listings_total",
			Help: "Total number of listings seen for the first time",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitor_cycle_duration_seconds",
			Help:    "Scheduler cycle duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Fetch metrics
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitor_fetch_duration_seconds",
			Help:    "Listing fetch duration in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Delivery metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_deliveries_total",
			Help: "Total number of notification sends by outcome",
		},
		[]string{"status"},
	)

	// Queue metrics
	QueueItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_queue_items_total",
			Help: "Total number of drained queue items by final state",
		},
		[]string{"status"},
	)

	SeenSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitor_seen_set_size",
			Help: "Number of listing ids currently in the seen-set",
		},
	)

	// NATS metrics
	NatsMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject", "status"},
	)
)

// Status turns an error into the "success"/"error" label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveFetch records one fetch.
func ObserveFetch(start time.Time, err error) {
	FetchDuration.WithLabelValues(Status(err)).Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *utils.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("[metrics] Listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
