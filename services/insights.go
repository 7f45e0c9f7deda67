package services

import (
	"context"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"listing-monitor/models"
	"listing-monitor/notify"
	"listing-monitor/storage"
	"listing-monitor/utils"
)

const (
	// reportWindow is the number of newest samples per series averaged.
	reportWindow = 24
	reportTop    = 10
	// recentAdsWindow caps the "new today" figure taken from the seen-set tail.
	recentAdsWindow = 50
	maxPriceChanges = 5
	recentAdsShown  = 5
)

// RecentSource lists the newest archived listings.
type RecentSource interface {
	FetchRecent(ctx context.Context, limit int) ([]models.Listing, error)
}

// InsightService builds reports from the stores. It only reads them.
type InsightService struct {
	series  *storage.TimeSeries
	seen    storage.SeenSet
	queries *storage.QueryStore
	recent  RecentSource
	logger  *utils.Logger
}

// NewInsightService creates a report builder; queries may be nil.
func NewInsightService(series *storage.TimeSeries, seen storage.SeenSet, queries *storage.QueryStore, logger *utils.Logger) *InsightService {
	return &InsightService{series: series, seen: seen, queries: queries, logger: logger}
}

// WithRecent adds the newest archived listings to every report.
func (s *InsightService) WithRecent(src RecentSource) *InsightService {
	s.recent = src
	return s
}

func (s *InsightService) Generate(ctx context.Context, now time.Time) *models.InsightReport {
	report := &models.InsightReport{
		Date:          now.Format("2006-01-02"),
		GeneratedAt:   now,
		TotalSearches: s.series.TotalCount(),
		AvgByQuery:    make(map[string]int64),
		TopQueries:    s.series.TopCounters(reportTop),
		PriceChanges:  []models.PriceChange{},
	}
	report.TotalQueries = len(s.series.TopCounters(-1))

	if s.seen != nil {
		report.SeenCount = s.seen.Size()
		report.NewAds = min(report.SeenCount, recentAdsWindow)
	}
	if s.queries != nil {
		report.Stats = s.queries.Stats()
	}

	var all []float64
	for _, key := range s.series.Keys() {
		recent := s.series.RecentPrices(key, reportWindow)
		if len(recent) == 0 {
			continue
		}
		all = append(all, recent...)
		report.AvgByQuery[key] = int64(mean(recent))

		if len(recent) >= 2 {
			prev, cur := recent[len(recent)-2], recent[len(recent)-1]
			if prev > 0 {
				report.PriceChanges = append(report.PriceChanges, models.PriceChange{
					Query:     key,
					Previous:  prev,
					Current:   cur,
					ChangePct: round1((cur - prev) / prev * 100),
				})
			}
		}
	}
	if len(all) > 0 {
		report.AvgPrice = int64(mean(all))
	}

	if s.recent != nil {
		recent, err := s.recent.FetchRecent(ctx, recentAdsShown)
		if err != nil {
			s.logger.Warn("[insights] Recent listings unavailable: %v", err)
		} else {
			report.RecentAds = recent
		}
	}

	// Largest movements first
	sort.SliceStable(report.PriceChanges, func(i, j int) bool {
		return math.Abs(report.PriceChanges[i].ChangePct) > math.Abs(report.PriceChanges[j].ChangePct)
	})
	if len(report.PriceChanges) > maxPriceChanges {
		report.PriceChanges = report.PriceChanges[:maxPriceChanges]
	}

	s.logger.Debug("[insights] Report for %s — %d series, %d searches", report.Date, len(report.AvgByQuery), report.TotalSearches)
	return report
}

// Text renders r as the Markdown message sent to admins.
func (s *InsightService) Text(r *models.InsightReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Ежедневный отчёт*\n📅 %s\n\n", r.Date)
	fmt.Fprintf(&b, "🔍 *Всего поисков:* %d\n", r.TotalSearches)
	fmt.Fprintf(&b, "🆕 *Новых объявлений:* %d\n", r.NewAds)
	fmt.Fprintf(&b, "💰 *Средняя цена:* %s\n", notify.FormatPrice(r.AvgPrice))

	if len(r.TopQueries) > 0 {
		b.WriteString("\n🔥 *Топ-5 запросов:*\n")
		for i, q := range r.TopQueries {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "%d. %s — %d раз\n", i+1, notify.EscapeMarkdown(q.Key), q.Count)
		}
	}

	if len(r.PriceChanges) > 0 {
		b.WriteString("\n📈 *Изменение цен:*\n")
		for i, c := range r.PriceChanges {
			if i == 3 {
				break
			}
			arrow := "📉"
			if c.ChangePct > 0 {
				arrow = "📈"
			}
			fmt.Fprintf(&b, "%s %s: %+.1f%% (%s → %s)\n", arrow, notify.EscapeMarkdown(c.Query), c.ChangePct,
				notify.FormatPrice(int64(c.Previous)), notify.FormatPrice(int64(c.Current)))
		}
	}

	if len(r.RecentAds) > 0 {
		b.WriteString("\n🆕 *Последние объявления:*\n")
		for _, l := range r.RecentAds {
			fmt.Fprintf(&b, "• %s — %s\n", notify.EscapeMarkdown(truncate(l.Title, 40)), notify.FormatPrice(l.Price))
		}
	}
	return b.String()
}

// Save writes the report to dir/report_<date>.json and the dashboard
// summary to dashboard.
func (s *InsightService) Save(r *models.InsightReport, dir, dashboard string) error {
	if err := storage.WriteJSON(filepath.Join(dir, "report_"+r.Date+".json"), r); err != nil {
		return err
	}
	return storage.WriteJSON(dashboard, Dashboard(r))
}

// Dashboard extracts the web summary from a report.
func Dashboard(r *models.InsightReport) models.DashboardStats {
	top := "—"
	if len(r.TopQueries) > 0 {
		top = r.TopQueries[0].Key
	}
	return models.DashboardStats{
		Date:          r.Date,
		TotalSearches: r.TotalSearches,
		NewAds:        r.NewAds,
		AvgPrice:      r.AvgPrice,
		TopQuery:      top,
		LastUpdate:    r.GeneratedAt,
	}
}

// Print writes a terminal rendering of r.
func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 LISTING MONITOR REPORT %s\033[0m\n", r.Date)
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total searches    : \033[1m%d\033[0m\n", r.TotalSearches)
	fmt.Fprintf(w, "  Distinct queries  : \033[1m%d\033[0m\n", r.TotalQueries)
	fmt.Fprintf(w, "  Seen listings     : \033[1m%d\033[0m\n", r.SeenCount)
	fmt.Fprintf(w, "  Scheduler checks  : \033[1m%d\033[0m (%d new ads)\n", r.Stats.TotalChecks, r.Stats.TotalNewAds)
	if r.Stats.LastCheckTimestamp != nil {
		fmt.Fprintf(w, "  Last check        : %s\n", r.Stats.LastCheckTimestamp.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(w)

	// Prices
	fmt.Fprintf(w, "\033[1;33m  Average Price (last %d samples)\033[0m\n", reportWindow)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.AvgByQuery) == 0 {
		fmt.Fprintf(w, "  No price data available\n")
	} else {
		keys := make([]string, 0, len(r.AvgByQuery))
		for k := range r.AvgByQuery {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-30s \033[1;32m%s\033[0m\n", truncate(k, 28), notify.FormatPrice(r.AvgByQuery[k]))
		}
		fmt.Fprintf(w, "  %-30s \033[1;32m%s\033[0m\n", "overall", notify.FormatPrice(r.AvgPrice))
	}
	fmt.Fprintln(w)

	// Top queries
	fmt.Fprintf(w, "\033[1;33m  Top %d Queries\033[0m\n", reportTop)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopQueries) == 0 {
		fmt.Fprintf(w, "  No searches recorded\n")
	} else {
		for i, q := range r.TopQueries {
			bar := strings.Repeat("█", int(min(q.Count, 30)))
			fmt.Fprintf(w, "  \033[1m%2d.\033[0m %-28s %s (%d)\n", i+1, truncate(q.Key, 26), bar, q.Count)
		}
	}

	if len(r.PriceChanges) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "\033[1;33m  Price Changes\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for _, c := range r.PriceChanges {
			fmt.Fprintf(w, "  %-30s %+.1f%%\n", truncate(c.Query, 28), c.ChangePct)
		}
	}

	if len(r.RecentAds) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "\033[1;33m  Recent Listings\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for _, l := range r.RecentAds {
			fmt.Fprintf(w, "  %-40s %s\n", truncate(l.Title, 38), notify.FormatPrice(l.Price))
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func mean(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
