package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/metrics"
	"github.com/flowctl/policyd/policy"
	"golang.org/x/time/rate"
)

const (
	DefaultInterval  = 10 * time.Second
	DefaultDownAfter = 3
	DefaultUpAfter   = 2
)

// reliabilityDecay weights the EWMA of probe outcomes.
const reliabilityDecay = 0.8

type options struct {
	prober    Prober
	interval  time.Duration
	timeout   time.Duration
	downAfter int
	upAfter   int
	probeRate rate.Limit
	logger    logger.Logger
}

type Option func(opts *options)

func ProberOption(prober Prober) Option {
	return func(opts *options) {
		opts.prober = prober
	}
}

func IntervalOption(interval time.Duration) Option {
	return func(opts *options) {
		opts.interval = interval
	}
}

func TimeoutOption(timeout time.Duration) Option {
	return func(opts *options) {
		opts.timeout = timeout
	}
}

func DownAfterOption(n int) Option {
	return func(opts *options) {
		opts.downAfter = n
	}
}

func UpAfterOption(n int) Option {
	return func(opts *options) {
		opts.upAfter = n
	}
}

// ProbeRateOption caps the probe rate across all egress points, so large
// catalogs do not burst the uplinks.
func ProbeRateOption(r rate.Limit) Option {
	return func(opts *options) {
		opts.probeRate = r
	}
}

func LoggerOption(logger logger.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

type entry struct {
	state       policy.HealthState
	fails       int
	successes   int
	latency     time.Duration
	reliability float64
}

// Tracker owns the mutable probe state and publishes immutable health maps.
// The egress catalog is consulted on every sweep, so additions and removals
// are picked up without restarting the tracker.
type Tracker struct {
	egresses   func() []*policy.EgressPoint
	current    atomic.Pointer[Map]
	version    atomic.Uint64
	entries    map[string]*entry
	limiter    *rate.Limiter
	cancelFunc context.CancelFunc
	options    options
}

// NewTracker creates a Tracker over the given egress catalog source and
// starts the probe loop.
func NewTracker(egresses func() []*policy.EgressPoint, opts ...Option) *Tracker {
	var options options
	for _, opt := range opts {
		opt(&options)
	}
	if options.prober == nil {
		options.prober = TCPProber(options.timeout)
	}
	if options.interval <= 0 {
		options.interval = DefaultInterval
	}
	if options.downAfter <= 0 {
		options.downAfter = DefaultDownAfter
	}
	if options.upAfter <= 0 {
		options.upAfter = DefaultUpAfter
	}
	if options.logger == nil {
		options.logger = logger.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &Tracker{
		egresses:   egresses,
		entries:    make(map[string]*entry),
		cancelFunc: cancel,
		options:    options,
	}
	if options.probeRate > 0 {
		t.limiter = rate.NewLimiter(options.probeRate, 1)
	}
	t.current.Store(&Map{Statuses: map[string]Status{}})

	go t.run(ctx)

	return t
}

// Current returns the latest published health map.
func (t *Tracker) Current() *Map {
	return t.current.Load()
}

// State implements the Source interface over the latest map.
func (t *Tracker) State(egressID string) policy.HealthState {
	return t.current.Load().State(egressID)
}

func (t *Tracker) Close() error {
	t.cancelFunc()
	return nil
}

func (t *Tracker) run(ctx context.Context) {
	t.sweep(ctx)

	ticker := time.NewTicker(t.options.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweep probes every egress point once and publishes a fresh map. Probe
// state is owned by this goroutine; readers only ever see published maps.
func (t *Tracker) sweep(ctx context.Context) {
	eps := t.egresses()

	seen := make(map[string]struct{}, len(eps))
	for _, ep := range eps {
		seen[ep.ID] = struct{}{}

		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return
			}
		}

		rtt, err := t.options.prober.Probe(ctx, ep)
		t.observe(ep, rtt, err)
	}
	for id := range t.entries {
		if _, ok := seen[id]; !ok {
			delete(t.entries, id)
		}
	}

	t.publish()
}

func (t *Tracker) observe(ep *policy.EgressPoint, rtt time.Duration, err error) {
	e := t.entries[ep.ID]
	if e == nil {
		e = &entry{
			state:       policy.HealthHealthy,
			reliability: 1,
		}
		t.entries[ep.ID] = e
	}

	if err != nil {
		e.fails++
		e.successes = 0
		e.reliability = e.reliability * reliabilityDecay

		switch {
		case e.fails >= t.options.downAfter:
			if e.state != policy.HealthDown {
				t.options.logger.WithFields(map[string]any{
					"kind":   "health",
					"egress": ep.ID,
				}).Warnf("egress down after %d failed probes: %v", e.fails, err)
			}
			e.state = policy.HealthDown
		default:
			if e.state == policy.HealthHealthy {
				t.options.logger.WithFields(map[string]any{
					"kind":   "health",
					"egress": ep.ID,
				}).Debugf("probe failed: %v", err)
			}
			if e.state != policy.HealthDown {
				e.state = policy.HealthDegraded
			}
		}
		return
	}

	e.successes++
	e.fails = 0
	e.latency = rtt
	e.reliability = e.reliability*reliabilityDecay + (1 - reliabilityDecay)

	if e.state != policy.HealthHealthy && e.successes >= t.options.upAfter {
		t.options.logger.WithFields(map[string]any{
			"kind":   "health",
			"egress": ep.ID,
		}).Infof("egress recovered after %d successful probes", e.successes)
		e.state = policy.HealthHealthy
	}
}

func (t *Tracker) publish() {
	statuses := make(map[string]Status, len(t.entries))
	now := time.Now()
	for id, e := range t.entries {
		statuses[id] = Status{
			State:       e.state,
			Latency:     e.latency,
			Reliability: e.reliability,
			CheckedAt:   now,
		}
		metrics.GetGauge(metrics.MetricEgressHealthGauge,
			metrics.Labels{"egress": id}).Set(stateValue(e.state))
	}
	t.current.Store(&Map{
		Version:  t.version.Add(1),
		Statuses: statuses,
	})
}

func stateValue(state policy.HealthState) float64 {
	switch state {
	case policy.HealthDegraded:
		return 1
	case policy.HealthDown:
		return 2
	default:
		return 0
	}
}
