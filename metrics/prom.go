package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

type promMetrics struct {
	host       string
	gauges     map[MetricName]*prometheus.GaugeVec
	counters   map[MetricName]*prometheus.CounterVec
	histograms map[MetricName]*prometheus.HistogramVec
}

func NewMetrics() Metrics {
	host, _ := os.Hostname()
	m := &promMetrics{
		host: host,
		gauges: map[MetricName]*prometheus.GaugeVec{
			MetricEgressHealthGauge: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: string(MetricEgressHealthGauge),
					Help: "Egress health state (0 healthy, 1 degraded, 2 down)",
				},
				[]string{"host", "egress"}),
		},
		counters: map[MetricName]*prometheus.CounterVec{
			MetricResolutionsCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: string(MetricResolutionsCounter),
					Help: "Total number of flow resolutions",
				},
				[]string{"host", "outcome"}),
			MetricFailoversCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: string(MetricFailoversCounter),
					Help: "Total number of failovers to the default egress",
				},
				[]string{"host", "egress"}),
			MetricAppliesCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: string(MetricAppliesCounter),
					Help: "Total number of rule-set applies",
				},
				[]string{"host", "result"}),
		},
		histograms: map[MetricName]*prometheus.HistogramVec{
			MetricResolveDurationObserver: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name: string(MetricResolveDurationObserver),
					Help: "Distribution of resolution latencies",
					Buckets: []float64{
						.000001, .000005, .00001, .00005, .0001, .0005, .001, .005, .01,
					},
				},
				[]string{"host"}),
		},
	}
	for k := range m.gauges {
		prometheus.MustRegister(m.gauges[k])
	}
	for k := range m.counters {
		prometheus.MustRegister(m.counters[k])
	}
	for k := range m.histograms {
		prometheus.MustRegister(m.histograms[k])
	}

	return m
}

func (m *promMetrics) Gauge(name MetricName, labels Labels) Gauge {
	v, ok := m.gauges[name]
	if !ok {
		return nil
	}
	if labels == nil {
		labels = Labels{}
	}
	labels["host"] = m.host
	return v.With(prometheus.Labels(labels))
}

func (m *promMetrics) Counter(name MetricName, labels Labels) Counter {
	v, ok := m.counters[name]
	if !ok {
		return nil
	}
	if labels == nil {
		labels = Labels{}
	}
	labels["host"] = m.host
	return v.With(prometheus.Labels(labels))
}

func (m *promMetrics) Observer(name MetricName, labels Labels) Observer {
	v, ok := m.histograms[name]
	if !ok {
		return nil
	}
	if labels == nil {
		labels = Labels{}
	}
	labels["host"] = m.host
	return v.With(prometheus.Labels(labels))
}
