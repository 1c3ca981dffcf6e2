// Package resolver walks a rule-set snapshot and a health map to produce
// exactly one resolution per flow. Resolution is deterministic given its
// inputs; rule ordering is pre-computed by the snapshot, so the scan holds
// no locks and sorts nothing.
package resolver

import (
	"time"

	"github.com/flowctl/policyd/health"
	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/matcher"
	"github.com/flowctl/policyd/metrics"
	"github.com/flowctl/policyd/policy"
	"github.com/flowctl/policyd/selector"
	"github.com/flowctl/policyd/store"
)

// Recorder receives per-flow accounting; the stats aggregator implements it.
type Recorder interface {
	Record(ruleID string, bytes uint64)
}

type options struct {
	recorder Recorder
	logger   logger.Logger
}

type Option func(opts *options)

func RecorderOption(recorder Recorder) Option {
	return func(opts *options) {
		opts.recorder = recorder
	}
}

func LoggerOption(logger logger.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

type Resolver struct {
	options options
}

func NewResolver(opts ...Option) *Resolver {
	var options options
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = logger.Default()
	}

	return &Resolver{
		options: options,
	}
}

// Resolve scans the snapshot's rules in (priority, createdAt) order and
// returns the resolution of the first rule that matches the flow and has a
// usable egress. A matching rule whose egress is down is failed over to the
// default egress when the rule allows it, and skipped otherwise. When no
// rule matches, the default rule resolves the flow. Only a down default
// egress is an error.
func (r *Resolver) Resolve(flow *policy.Flow, snap *store.Snapshot, hs health.Source) (*policy.Resolution, error) {
	start := time.Now()

	res, err := r.resolve(flow, snap, hs)

	if err == nil {
		if r.options.recorder != nil {
			r.options.recorder.Record(res.RuleID, flow.Bytes)
		}
		outcome := "matched"
		if res.FailedOver {
			outcome = "failover"
			metrics.GetCounter(metrics.MetricFailoversCounter,
				metrics.Labels{"egress": res.Egress.ID}).Inc()
		} else if res.RuleID == snap.DefaultRule().ID {
			outcome = "default"
		}
		metrics.GetCounter(metrics.MetricResolutionsCounter,
			metrics.Labels{"outcome": outcome}).Inc()
	} else {
		metrics.GetCounter(metrics.MetricResolutionsCounter,
			metrics.Labels{"outcome": "error"}).Inc()
	}
	metrics.GetObserver(metrics.MetricResolveDurationObserver, nil).
		Observe(time.Since(start).Seconds())

	return res, err
}

func (r *Resolver) resolve(flow *policy.Flow, snap *store.Snapshot, hs health.Source) (*policy.Resolution, error) {
	groups := snap.Memberships(flow)

	sel := selector.NewSelector(
		selector.FIFOStrategy[*policy.EgressPoint](),
		selector.HealthFilter(func(ep *policy.EgressPoint) policy.HealthState {
			return hs.State(ep.ID)
		}),
	)

	def := snap.DefaultEgress()

	for _, rule := range snap.Ordered() {
		if rule.Default {
			continue
		}
		if !matcher.RuleMatches(rule, snap.Matchers(rule.ID), flow, groups) {
			continue
		}

		ep := snap.Egress(rule.Egress)
		if ep == nil {
			// dangling reference slipped past validation, treat as down
			continue
		}

		candidates := []*policy.EgressPoint{ep}
		if rule.Failover && def != nil && def.ID != ep.ID {
			candidates = append(candidates, def)
		}
		picked := sel.Select(candidates...)
		if picked == nil {
			if !rule.Failover {
				// egress down, failover disabled: the rule is skipped outright
				continue
			}
			return nil, policy.ErrNoHealthyEgress
		}

		return &policy.Resolution{
			RuleID:     rule.ID,
			Egress:     picked,
			DNSPolicy:  snap.DNSPolicy(rule.DNSPolicy),
			QoS:        rule.QoS,
			FailedOver: picked.ID != ep.ID,
		}, nil
	}

	return r.resolveDefault(snap, hs, def)
}

func (r *Resolver) resolveDefault(snap *store.Snapshot, hs health.Source, def *policy.EgressPoint) (*policy.Resolution, error) {
	rule := snap.DefaultRule()
	if rule == nil || def == nil {
		return nil, policy.ErrNoHealthyEgress
	}

	ep := snap.Egress(rule.Egress)
	if ep == nil || hs.State(ep.ID) == policy.HealthDown {
		if ep == nil || ep.ID == def.ID || hs.State(def.ID) == policy.HealthDown {
			return nil, policy.ErrNoHealthyEgress
		}
		ep = def
	}

	return &policy.Resolution{
		RuleID:    rule.ID,
		Egress:    ep,
		DNSPolicy: snap.DNSPolicy(rule.DNSPolicy),
		QoS:       rule.QoS,
	}, nil
}
