// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reposCrawledTotal      prometheus.Counter
	crawlFailuresTotal     *prometheus.CounterVec
	promotionsTotal        prometheus.Counter
	dispatchesTotal        *prometheus.CounterVec
	notificationsTotal     *prometheus.CounterVec
	pipelineRunsTotal      *prometheus.CounterVec
	pipelineRunSeconds     prometheus.Histogram
	trendScoreDistribution prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		reposCrawledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "trendfeed_repos_crawled_total",
				Help: "Total number of repositories ingested by the crawler.",
			},
		)

		crawlFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendfeed_crawl_failures_total",
				Help: "Total per-item crawl failures, labeled by kind.",
			},
			[]string{"kind"},
		)

		promotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "trendfeed_promotions_total",
				Help: "Total number of repositories promoted to candidate.",
			},
		)

		dispatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendfeed_dispatches_total",
				Help: "Total dispatch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendfeed_notifications_total",
				Help: "Total notification attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendfeed_pipeline_runs_total",
				Help: "Total pipeline runs, labeled by trigger.",
			},
			[]string{"trigger"},
		)

		pipelineRunSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trendfeed_pipeline_run_duration_seconds",
				Help:    "Histogram of full pipeline run durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
		)

		trendScoreDistribution = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trendfeed_trend_score",
				Help:    "Distribution of computed trend scores.",
				Buckets: []float64{1, 5, 10, 20, 40, 60, 80, 95, 100},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRepoCrawled increments the ingest counter.
func ObserveRepoCrawled() {
	reposCrawledTotal.Inc()
}

// ObserveCrawlFailure counts a per-item crawl failure of the given kind.
func ObserveCrawlFailure(kind string) {
	crawlFailuresTotal.WithLabelValues(kind).Inc()
}

// ObservePromotion increments the promotion counter.
func ObservePromotion() {
	promotionsTotal.Inc()
}

// ObserveDispatch counts a dispatch attempt outcome ("sent", "failed",
// "skipped", "lost_claim").
func ObserveDispatch(outcome string) {
	dispatchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveNotification counts a notification attempt outcome ("sent",
// "failed", "pending", "locked").
func ObserveNotification(outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObservePipelineRun records one full pipeline run.
func ObservePipelineRun(trigger string, duration time.Duration) {
	pipelineRunsTotal.WithLabelValues(trigger).Inc()
	pipelineRunSeconds.Observe(duration.Seconds())
}

// ObserveTrendScore records a computed score.
func ObserveTrendScore(score float64) {
	trendScoreDistribution.Observe(score)
}
