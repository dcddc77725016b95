// Package promstat implements lrgraph.Statter on top of Prometheus metrics.
package promstat

import (
	"context"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/learningregistry/lrgraph"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Statter maps stat names like "ingest.envelope" onto Prometheus metrics
// named "<namespace>_ingest_envelope_total" and so on. Tags of the form
// "key:value" become labels. The label names of a metric are fixed by the
// first call that uses it: later tags with other keys are dropped and
// missing ones are left empty.
type Statter struct {
	namespace string
	factory   promauto.Factory

	mu         sync.Mutex
	counters   map[string]*vec
	gauges     map[string]*vec
	histograms map[string]*vec
	sets       map[string]map[string]struct{}
}

var _ lrgraph.Statter = &Statter{}

type vec struct {
	labels    []string
	counter   *prometheus.CounterVec
	gauge     *prometheus.GaugeVec
	histogram *prometheus.HistogramVec
}

// New gets a Statter registering its metrics with reg.
func New(namespace string, reg prometheus.Registerer) *Statter {
	return &Statter{
		namespace:  namespace,
		factory:    promauto.With(reg),
		counters:   make(map[string]*vec),
		gauges:     make(map[string]*vec),
		histograms: make(map[string]*vec),
		sets:       make(map[string]map[string]struct{}),
	}
}

// Count implements lrgraph.Statter.
func (s *Statter) Count(name string, value int64, rate float64, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.counters[name]
	if !ok {
		v = &vec{labels: labelNames(tags)}
		v.counter = s.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      metricName(name) + "_total",
			Help:      "Count of " + name + ".",
		}, v.labels)
		s.counters[name] = v
	}
	v.counter.WithLabelValues(v.values(tags)...).Add(float64(value))
}

// Gauge implements lrgraph.Statter.
func (s *Statter) Gauge(name string, value float64, rate float64, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauge(name, tags).Set(value)
}

func (s *Statter) gauge(name string, tags []string) prometheus.Gauge {
	v, ok := s.gauges[name]
	if !ok {
		v = &vec{labels: labelNames(tags)}
		v.gauge = s.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: s.namespace,
			Name:      metricName(name),
			Help:      "Current " + name + ".",
		}, v.labels)
		s.gauges[name] = v
	}
	return v.gauge.WithLabelValues(v.values(tags)...)
}

// Histogram implements lrgraph.Statter.
func (s *Statter) Histogram(name string, value float64, rate float64, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histogram(metricName(name), name, prometheus.DefBuckets, tags).Observe(value)
}

// Set implements lrgraph.Statter. It tracks the number of distinct values
// seen for name as a gauge.
func (s *Statter) Set(name string, value string, rate float64, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen, ok := s.sets[name]
	if !ok {
		seen = make(map[string]struct{})
		s.sets[name] = seen
	}
	seen[value] = struct{}{}
	s.gauge(name+".unique", tags).Set(float64(len(seen)))
}

// Timing implements lrgraph.Statter. Durations are recorded in seconds.
func (s *Statter) Timing(name string, value time.Duration, rate float64, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histogram(metricName(name)+"_seconds", name, prometheus.ExponentialBuckets(0.001, 4, 10), tags).Observe(value.Seconds())
}

func (s *Statter) histogram(metric, name string, buckets []float64, tags []string) prometheus.Observer {
	v, ok := s.histograms[metric]
	if !ok {
		v = &vec{labels: labelNames(tags)}
		v.histogram = s.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      metric,
			Help:      "Distribution of " + name + ".",
			Buckets:   buckets,
		}, v.labels)
		s.histograms[metric] = v
	}
	return v.histogram.WithLabelValues(v.values(tags)...)
}

func (v *vec) values(tags []string) []string {
	vals := make([]string, len(v.labels))
	for _, t := range tags {
		k, val := splitTag(t)
		for i, l := range v.labels {
			if l == k {
				vals[i] = val
			}
		}
	}
	return vals
}

func labelNames(tags []string) []string {
	names := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		k, _ := splitTag(t)
		if !seen[k] {
			seen[k] = true
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func splitTag(tag string) (key, value string) {
	i := strings.Index(tag, ":")
	if i < 0 {
		return metricName(tag), ""
	}
	return metricName(tag[:i]), tag[i+1:]
}

// metricName turns a stat name into a valid Prometheus name.
func metricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// Serve exposes the metrics gathered by g at /metrics on bind until ctx is
// done. It returns the address actually bound.
func Serve(ctx context.Context, bind string, g prometheus.Gatherer, log lrgraph.Logger) (string, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return "", errors.Wrapf(err, "listening on %s", bind)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("serving metrics: %v", err)
		}
	}()
	return ln.Addr().String(), nil
}
