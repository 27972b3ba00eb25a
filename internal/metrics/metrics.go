// Package metrics exposes run progress to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"loadtank/internal/aggregator"
	"loadtank/internal/core"
)

// Exporter turns windows and progress reports into metrics. It listens to
// both the aggregator and the control loop.
type Exporter struct {
	Registry *prometheus.Registry

	responses *prometheus.CounterVec
	netCodes  *prometheus.CounterVec
	quantiles *prometheus.GaugeVec
	rps       prometheus.Gauge
	planned   prometheus.Gauge
	workers   prometheus.Gauge
	avg       prometheus.Gauge
	windows   prometheus.Counter
	autostop  *prometheus.GaugeVec
	stopped   prometheus.Gauge

	log *zap.Logger
}

func New(log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Exporter{
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadtank_responses_total",
			Help: "Responses by protocol code.",
		}, []string{"code"}),
		netCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadtank_net_codes_total",
			Help: "Shots by net code, 0 is success.",
		}, []string{"code"}),
		quantiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loadtank_window_response_time_seconds",
			Help: "Response time percentiles of the latest window.",
		}, []string{"quantile"}),
		rps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadtank_window_responses",
			Help: "Responses in the latest window.",
		}),
		planned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadtank_planned_rps",
			Help: "Planned load for the latest window.",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadtank_active_workers",
			Help: "Workers busy with a shot.",
		}),
		avg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadtank_window_avg_response_time_seconds",
			Help: "Average response time of the latest window.",
		}),
		windows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loadtank_windows_total",
			Help: "Emitted windows.",
		}),
		autostop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loadtank_autostop_progress",
			Help: "How close each autostop criterion is to tripping, 0 to 1.",
		}, []string{"criterion"}),
		stopped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadtank_autostop_rc",
			Help: "Reason code of the tripped criterion, 0 while none has.",
		}),
	}
	e.Registry = prometheus.NewRegistry()
	e.log = log.With(zap.String("component", "metrics"))
	e.Registry.MustRegister(
		e.responses, e.netCodes, e.quantiles, e.rps, e.planned,
		e.workers, e.avg, e.windows, e.autostop, e.stopped,
	)
	return e
}

func (e *Exporter) OnWindow(w aggregator.WindowSnapshot) {
	b := w.Overall
	for code, n := range b.ProtoCodes {
		e.responses.WithLabelValues(strconv.Itoa(code)).Add(float64(n))
	}
	for code, n := range b.NetCodes {
		e.netCodes.WithLabelValues(strconv.Itoa(code)).Add(float64(n))
	}
	for q, us := range b.Quantiles {
		e.quantiles.WithLabelValues(strconv.FormatFloat(float64(q)/100, 'f', -1, 64)).Set(float64(us) / 1e6)
	}
	e.rps.Set(float64(b.Count))
	e.planned.Set(float64(b.PlannedCount))
	e.workers.Set(float64(b.ActiveWorkers))
	e.avg.Set(b.AvgLatency / 1e6)
	e.windows.Inc()
}

func (e *Exporter) OnProgress(p core.Progress) {
	for _, s := range p.Criteria {
		e.autostop.WithLabelValues(s.Criterion).Set(s.Progress)
	}
	if p.Live != nil {
		e.workers.Set(float64(p.Live.Active))
	}
	if p.Verdict != nil {
		e.stopped.Set(float64(p.Verdict.RC))
	}
}

// Handler serves the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	e.log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
