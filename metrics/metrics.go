package metrics

import (
	"sync/atomic"
)

type MetricName string

type Labels map[string]string

const (
	// Total flow resolutions. Labels: host, outcome (matched/default/failover/error).
	MetricResolutionsCounter MetricName = "policyd_resolutions_total"
	// Resolution duration histogram. Labels: host.
	MetricResolveDurationObserver MetricName = "policyd_resolve_duration_seconds"
	// Total failovers to the default egress. Labels: host, egress.
	MetricFailoversCounter MetricName = "policyd_failovers_total"
	// Egress health state gauge (0 healthy, 1 degraded, 2 down). Labels: host, egress.
	MetricEgressHealthGauge MetricName = "policyd_egress_health_state"
	// Total rule-set applies. Labels: host, result (ok/invalid).
	MetricAppliesCounter MetricName = "policyd_applies_total"
)

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Inc()
	Dec()
	Add(float64)
	Set(float64)
}

type Observer interface {
	Observe(float64)
}

type Metrics interface {
	Counter(name MetricName, labels Labels) Counter
	Gauge(name MetricName, labels Labels) Gauge
	Observer(name MetricName, labels Labels) Observer
}

var (
	defaultMetrics Metrics = NewMetrics()

	enabled atomic.Bool
)

func Enable(b bool) {
	enabled.Store(b)
}

func IsEnabled() bool {
	return enabled.Load()
}

func GetCounter(name MetricName, labels Labels) Counter {
	if IsEnabled() {
		if c := defaultMetrics.Counter(name, labels); c != nil {
			return c
		}
	}
	return noop.Counter(name, labels)
}

func GetGauge(name MetricName, labels Labels) Gauge {
	if IsEnabled() {
		if g := defaultMetrics.Gauge(name, labels); g != nil {
			return g
		}
	}
	return noop.Gauge(name, labels)
}

func GetObserver(name MetricName, labels Labels) Observer {
	if IsEnabled() {
		if o := defaultMetrics.Observer(name, labels); o != nil {
			return o
		}
	}
	return noop.Observer(name, labels)
}
