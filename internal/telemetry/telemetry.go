// Package telemetry defines the narrow logging/metrics surface C1–C10
// depend on, and one concrete implementation (zap + Prometheus) that
// cmd/gateway wires at process start. Most packages take a Sink; the
// exceptions are internal/bundles and internal/verify, which take a
// *zap.SugaredLogger, and internal/httpapi, which imports prometheus for
// its /metrics handler.
package telemetry

import (
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
)

// Tag is a label attached to a counter or observation.
type Tag struct {
	Key, Value string
}

// Sink is the logging/metrics capability every core component depends on.
// Kept deliberately small: components log and count, they don't configure
// exporters or choose backends.
type Sink interface {
	Logger() *zap.SugaredLogger
	Counter(name string, tags ...Tag)
	Observe(name string, v float64, tags ...Tag)
}

type sink struct {
	log      *zap.SugaredLogger
	registry *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	hist     map[string]*prometheus.HistogramVec
}

// New builds a Sink backed by a production zap logger and a dedicated
// Prometheus registry. Counter/Observe calls for names not pre-registered
// fall back to lazily registering a vector keyed by the tag names observed
// on first use, mirroring the teacher's pattern of logging first and
// instrumenting incrementally.
func New(logger *zap.Logger, registry *prometheus.Registry) Sink {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &sink{
		log:      logger.Sugar(),
		registry: registry,
		counters: make(map[string]*prometheus.CounterVec),
		hist:     make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying Prometheus registry for the HTTP front
// door's /metrics handler (the Prometheus exporter itself stays out of the
// core's scope; this is the narrow seam it's wired through).
func (s *sink) Registry() *prometheus.Registry { return s.registry }

func (s *sink) Logger() *zap.SugaredLogger { return s.log }

func (s *sink) Counter(name string, tags ...Tag) {
	cv := s.counterVec(name, tags)
	cv.With(labelMap(tags)).Inc()
}

func (s *sink) Observe(name string, v float64, tags ...Tag) {
	hv := s.histVec(name, tags)
	hv.With(labelMap(tags)).Observe(v)
}

func (s *sink) counterVec(name string, tags []Tag) *prometheus.CounterVec {
	if cv, ok := s.counters[name]; ok {
		return cv
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames(tags))
	s.registry.MustRegister(cv)
	s.counters[name] = cv
	return cv
}

func (s *sink) histVec(name string, tags []Tag) *prometheus.HistogramVec {
	if hv, ok := s.hist[name]; ok {
		return hv
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, labelNames(tags))
	s.registry.MustRegister(hv)
	s.hist[name] = hv
	return hv
}

func labelNames(tags []Tag) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Key
	}
	return names
}

func labelMap(tags []Tag) prometheus.Labels {
	m := make(prometheus.Labels, len(tags))
	for _, t := range tags {
		m[t.Key] = t.Value
	}
	return m
}

// Noop is a Sink that discards everything; useful for tests.
func Noop() Sink { return noopSink{} }

type noopSink struct{}

func (noopSink) Logger() *zap.SugaredLogger { return zap.NewNop().Sugar() }
func (noopSink) Counter(string, ...Tag)     {}
func (noopSink) Observe(string, float64, ...Tag) {}
