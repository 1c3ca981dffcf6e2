package metrics

var (
	noop Metrics = &noopMetrics{}
)

type noopMetrics struct{}

func (m *noopMetrics) Counter(name MetricName, labels Labels) Counter {
	return noopCounter{}
}

func (m *noopMetrics) Gauge(name MetricName, labels Labels) Gauge {
	return noopGauge{}
}

func (m *noopMetrics) Observer(name MetricName, labels Labels) Observer {
	return noopObserver{}
}

type noopCounter struct{}

func (noopCounter) Inc()        {}
func (noopCounter) Add(float64) {}

type noopGauge struct{}

func (noopGauge) Inc()        {}
func (noopGauge) Dec()        {}
func (noopGauge) Add(float64) {}
func (noopGauge) Set(float64) {}

type noopObserver struct{}

func (noopObserver) Observe(float64) {}
