package metrics

import (
	"context"
	"fuzzrig/config"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const namespace = "fuzzrig"

// Metrics are kept in a private registry and written to METRICS_TEXTFILE on
// shutdown, for node_exporter's textfile collector. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	builds      *prometheus.CounterVec
	artifacts   *prometheus.CounterVec
	reductions  *prometheus.CounterVec
	corpusSize  *prometheus.GaugeVec
	rawProfiles *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Supervised executions by mode and outcome.",
		}, []string{"target", "mode", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of fuzz runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"target"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Toolchain invocations by result.",
		}, []string{"target", "result"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crash_artifacts_total",
			Help:      "Crash artifacts reported by kind.",
		}, []string{"target", "kind"}),
		reductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tmin_accepted_reductions_total",
			Help:      "Reductions accepted while minimizing crashing inputs.",
		}, []string{"target"}),
		corpusSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corpus_size",
			Help:      "Corpus entries before and after minimization.",
		}, []string{"target", "stage"}),
		rawProfiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_profiles_total",
			Help:      "Raw coverage profiles collected.",
		}, []string{"target"}),
	}
	m.registry.MustRegister(m.runs, m.runDuration, m.builds, m.artifacts, m.reductions, m.corpusSize, m.rawProfiles)
	return m
}

type MetricsParams struct {
	fx.In

	Lc     fx.Lifecycle
	Config *config.AppConfig
	Logger *zap.Logger
}

func NewMetrics(p MetricsParams) *Metrics {
	m := New()
	if p.Config.MetricsTextfile == "" {
		return m
	}
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := m.WriteTextfile(p.Config.MetricsTextfile); err != nil {
				p.Logger.Warn("failed to write metrics textfile", zap.Error(err))
			}
			return nil
		},
	})
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry())
}

func (m *Metrics) ObserveRun(target, mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(target, mode, outcome).Inc()
	if mode == "fuzz" {
		m.runDuration.WithLabelValues(target).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveBuild(target, result string) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(target, result).Inc()
}

func (m *Metrics) ObserveArtifact(target, kind string) {
	if m == nil {
		return
	}
	m.artifacts.WithLabelValues(target, kind).Inc()
}

func (m *Metrics) ObserveReductions(target string, accepted int) {
	if m == nil {
		return
	}
	m.reductions.WithLabelValues(target).Add(float64(accepted))
}

func (m *Metrics) ObserveCorpus(target string, before, after int) {
	if m == nil {
		return
	}
	m.corpusSize.WithLabelValues(target, "before").Set(float64(before))
	m.corpusSize.WithLabelValues(target, "after").Set(float64(after))
}

func (m *Metrics) ObserveRawProfiles(target string, n int) {
	if m == nil {
		return
	}
	m.rawProfiles.WithLabelValues(target).Add(float64(n))
}
