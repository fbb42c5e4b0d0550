package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"listing_canon/logging"
)

var (
	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_canon_pages_total",
			Help: "Pages processed by outcome",
		},
		[]string{"source", "outcome"}, // accepted, rejected, fetch_error, error
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_canon_rejections_total",
			Help: "Rejection reasons across rejected pages",
		},
		[]string{"reason"},
	)

	DuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_canon_possible_duplicates_total",
			Help: "Accepted listings flagged as possible cross-source duplicates",
		},
		[]string{"source"},
	)

	PageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listing_canon_page_duration_seconds",
			Help:    "Time spent on one page by stage",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
		},
		[]string{"stage"}, // fetch, process
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_canon_batches_total",
			Help: "Batch runs by final status",
		},
		[]string{"status"},
	)

	BatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "listing_canon_batch_in_flight_pages",
			Help: "Pages currently being fetched or processed",
		},
	)
)

// ObserveStage records how long a stage took since start.
func ObserveStage(stage string, start time.Time) {
	PageDurationSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logging.Infof("Metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
