// Package metrics exposes connector counters on a Prometheus endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	SyncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idm_sync_passes_total",
			Help: "Sync passes by entity and result",
		},
		[]string{"entity", "result"},
	)

	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idm_sync_events_total",
			Help: "Change events delivered to the handler",
		},
		[]string{"entity"},
	)

	PassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idm_sync_pass_duration_seconds",
			Help:    "Wall time of a sync pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	BinlogTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idm_binlog_triggers_total",
			Help: "Row events from the binary log that scheduled a pass",
		},
		[]string{"entity"},
	)
)

var registerOnce sync.Once

// Register adds the connector collectors to the default registry. Calling it
// more than once is harmless.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(SyncPasses, EventsEmitted, PassDuration, BinlogTriggers)
	})
}

// Serve exposes /metrics on port until ctx is cancelled.
func Serve(ctx context.Context, port string, logger *logrus.Logger) error {
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Prometheus metrics available at http://localhost:%s/metrics", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
