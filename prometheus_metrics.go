package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// prometheusMetrics mirrors the teacher's prometheus.go: one struct
// holding every promauto-registered collector, fed by observe() on each
// stats-reporter tick.
type prometheusMetrics struct {
	period     *prometheus.GaugeVec
	duration   *prometheus.GaugeVec
	overflow   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	outoforder *prometheus.CounterVec
	active     *prometheus.GaugeVec

	srv *http.Server
}

func newPrometheusMetrics(listenAddr string) *prometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &prometheusMetrics{
		period: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdr_gadget_period_microseconds",
			Help: "Time between successive DMA buffer readiness events.",
		}, []string{"worker", "stat"}),
		duration: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdr_gadget_duration_microseconds",
			Help: "Time spent in the DMA refill/push operation.",
		}, []string{"worker", "stat"}),
		overflow: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sdr_gadget_overflow_total",
			Help: "Send/push back-pressure events.",
		}, []string{"worker"}),
		dropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sdr_gadget_dropped_total",
			Help: "Stale or too-early TX datagrams dropped.",
		}, []string{"worker"}),
		outoforder: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sdr_gadget_outoforder_total",
			Help: "TX reassembly resets due to mismatched block sequence.",
		}, []string{"worker"}),
		active: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdr_gadget_stream_active",
			Help: "1 if a stream of this kind is currently running.",
		}, []string{"worker"}),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	m.srv = &http.Server{Addr: listenAddr, Handler: mux}
	return m
}

func (m *prometheusMetrics) listenAndServe() error {
	if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("prometheus listener: %w", err)
	}
	return nil
}

func (m *prometheusMetrics) shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// observe folds one streamReport into the registered collectors,
// per the metric list in SPEC_FULL.md §4.10.
func (m *prometheusMetrics) observe(rep streamReport) {
	active := 0.0
	if rep.Active {
		active = 1.0
	}
	m.active.WithLabelValues(rep.Worker).Set(active)

	m.period.WithLabelValues(rep.Worker, "min").Set(float64(rep.PeriodMin))
	m.period.WithLabelValues(rep.Worker, "max").Set(float64(rep.PeriodMax))
	m.period.WithLabelValues(rep.Worker, "avg").Set(float64(rep.PeriodAvg))
	m.period.WithLabelValues(rep.Worker, "stddev").Set(rep.PeriodStd)

	m.duration.WithLabelValues(rep.Worker, "min").Set(float64(rep.DurationMin))
	m.duration.WithLabelValues(rep.Worker, "max").Set(float64(rep.DurationMax))
	m.duration.WithLabelValues(rep.Worker, "avg").Set(float64(rep.DurationAvg))
	m.duration.WithLabelValues(rep.Worker, "stddev").Set(rep.DurationStd)

	m.overflow.WithLabelValues(rep.Worker).Add(float64(rep.Overflow))
	if rep.Worker == "tx" {
		m.dropped.WithLabelValues(rep.Worker).Add(float64(rep.Dropped))
		m.outoforder.WithLabelValues(rep.Worker).Add(float64(rep.OutOfOrder))
	}
}
