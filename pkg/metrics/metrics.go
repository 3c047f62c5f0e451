// Package metrics records run results as Prometheus metrics. Each run gets
// its own registry so several engines can coexist in one process.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/softwarewrighter/ui-test/pkg/results"
)

const Namespace = "uitest"

// Recorder is a results.Recorder backed by a private registry.
type Recorder struct {
	reg *prometheus.Registry

	tests       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	attempts    prometheus.Counter
	fatal       prometheus.Counter
	runDuration prometheus.Gauge
	runTotal    *prometheus.GaugeVec
}

// New returns a recorder whose metrics carry run_id as a constant label.
func New(runID string) *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"run_id": runID}

	return &Recorder{
		reg: reg,
		tests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "tests_total",
			Help:        "Completed tests by status and error kind.",
			ConstLabels: labels,
		}, []string{"status", "kind"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   Namespace,
			Name:        "test_duration_seconds",
			Help:        "Wall-clock duration of each test.",
			ConstLabels: labels,
			Buckets:     []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status"}),
		attempts: f.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "action_attempts_total",
			Help:        "Browser action attempts, retries included.",
			ConstLabels: labels,
		}),
		fatal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "fatal_results_total",
			Help:        "Results that made the automation server unusable.",
			ConstLabels: labels,
		}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "run_duration_seconds",
			Help:        "Wall-clock duration of the finished run.",
			ConstLabels: labels,
		}),
		runTotal: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "run_results",
			Help:        "Final result counts of the run.",
			ConstLabels: labels,
		}, []string{"status"}),
	}
}

// Observe records one result.
func (r *Recorder) Observe(res results.TestResult) {
	kind := string(res.Kind)
	if kind == "" {
		kind = "none"
	}
	r.tests.WithLabelValues(string(res.Status), kind).Inc()
	if res.Status != results.StatusSkipped {
		r.duration.WithLabelValues(string(res.Status)).Observe(res.Duration.Seconds())
	}
	r.attempts.Add(float64(res.Attempts))
	if res.Fatal {
		r.fatal.Inc()
	}
}

// RecordRun records the final statistics.
func (r *Recorder) RecordRun(stats results.RunStats) {
	r.runDuration.Set(stats.Elapsed.Seconds())
	r.runTotal.WithLabelValues("total").Set(float64(stats.Total))
	r.runTotal.WithLabelValues(string(results.StatusPassed)).Set(float64(stats.Passed))
	r.runTotal.WithLabelValues(string(results.StatusFailed)).Set(float64(stats.Failed))
	r.runTotal.WithLabelValues(string(results.StatusSkipped)).Set(float64(stats.Skipped))
	r.runTotal.WithLabelValues(string(results.StatusError)).Set(float64(stats.Error))
}

// WatchPermits exports the scheduler's held and peak permit counts.
func (r *Recorder) WatchPermits(held, peak func() int64) {
	f := promauto.With(r.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "permits_held",
		Help:      "Scheduler permits currently held.",
	}, func() float64 { return float64(held()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "permits_peak",
		Help:      "Most scheduler permits held at once.",
	}, func() float64 { return float64(peak()) })
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *log.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
