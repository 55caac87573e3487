package observ

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regMu      sync.Mutex
	registry   = prometheus.NewRegistry()
	counters   = map[string]*prometheus.CounterVec{}
	gauges     = map[string]*prometheus.GaugeVec{}
	histograms = map[string]*prometheus.HistogramVec{}
)

func init() {
	registry.MustRegister(prometheus.NewGoCollector())
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func counterFor(name string, labels map[string]string) *prometheus.CounterVec {
	regMu.Lock()
	defer regMu.Unlock()
	c, ok := counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames(labels))
		registry.MustRegister(c)
		counters[name] = c
	}
	return c
}

func gaugeFor(name string, labels map[string]string) *prometheus.GaugeVec {
	regMu.Lock()
	defer regMu.Unlock()
	g, ok := gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelNames(labels))
		registry.MustRegister(g)
		gauges[name] = g
	}
	return g
}

func histogramFor(name string, labels map[string]string) *prometheus.HistogramVec {
	regMu.Lock()
	defer regMu.Unlock()
	h, ok := histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, labelNames(labels))
		registry.MustRegister(h)
		histograms[name] = h
	}
	return h
}

// IncCounter increments a named counter by 1.
func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

// IncCounterBy increments a named counter by value.
func IncCounterBy(name string, labels map[string]string, value float64) {
	counterFor(name, labels).With(labels).Add(value)
}

// SetGauge sets a named gauge to value.
func SetGauge(name string, value float64, labels map[string]string) {
	gaugeFor(name, labels).With(labels).Set(value)
}

// Observe records a histogram observation.
func Observe(name string, value float64, labels map[string]string) {
	histogramFor(name, labels).With(labels).Observe(value)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// HealthHandler reports process liveness.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
