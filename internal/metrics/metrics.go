// Package metrics exposes the orchestrator's run counters and
// durations over an optional Prometheus /metrics endpoint.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meta-hybrid/hymount/internal/logger"
)

var (
	MountRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hymount_mount_runs_total",
		Help: "Total number of mount orchestration runs, by outcome.",
	}, []string{"outcome"})

	MountDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "hymount_mount_duration_seconds",
		Help: "Time spent running the full mount orchestration.",
	})

	ModulesOverlayGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hymount_modules_overlay",
		Help: "Number of modules assigned to overlay mount in the last plan.",
	})

	ModulesMagicGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hymount_modules_magic",
		Help: "Number of modules assigned to magic mount in the last plan.",
	})

	ConflictsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hymount_file_conflicts",
		Help: "Number of cross-module file conflicts detected in the last plan.",
	})
)

// Serve starts an HTTP server exposing /metrics at addr, if addr is
// non-empty. It runs until ctx is canceled or the listener errors.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemOrchestrator)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
