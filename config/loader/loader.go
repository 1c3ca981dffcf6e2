// Package loader assembles the live engine from a configuration document.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/flowctl/policyd/api"
	api_service "github.com/flowctl/policyd/api/service"
	"github.com/flowctl/policyd/config"
	"github.com/flowctl/policyd/config/parsing"
	"github.com/flowctl/policyd/draft"
	"github.com/flowctl/policyd/health"
	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/metrics"
	metrics_service "github.com/flowctl/policyd/metrics/service"
	"github.com/flowctl/policyd/policy"
	"github.com/flowctl/policyd/registry"
	"github.com/flowctl/policyd/resolver"
	"github.com/flowctl/policyd/stats"
	"github.com/flowctl/policyd/store"
)

// Runtime is the assembled engine: the rule store and its collaborators plus
// the optional API and metrics servers.
type Runtime struct {
	Store      *store.Store
	Controller *draft.Controller
	Resolver   *resolver.Resolver
	Tracker    *health.Tracker
	Stats      *stats.Aggregator

	API     *api_service.Server
	Metrics *metrics_service.Server

	cancelFunc context.CancelFunc
}

// Load builds a Runtime from cfg and registers the catalogs. The probe loop
// starts immediately; the API and metrics servers start on Serve.
func Load(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	config.Set(cfg)

	if log := parsing.ParseLogger(cfg.Log); log != nil {
		logger.SetDefault(log)
	}
	log := logger.Default()
	registry.LoggerRegistry().Unregister("default")
	registry.LoggerRegistry().Register("default", log)

	catalogs := parsing.ParseCatalogs(cfg)
	registerCatalogs(catalogs)

	rules, err := loadRules(cfg)
	if err != nil {
		return nil, err
	}

	st, verrs := store.New(catalogs, rules, store.LoggerOption(log))
	if st == nil {
		return nil, fmt.Errorf("load rules: %w", policy.FirstFatal(verrs))
	}
	registry.StoreRegistry().Unregister("default")
	registry.StoreRegistry().Register("default", st)

	agg := stats.NewAggregator(
		stats.BufferSizeOption(statsBuffer(cfg.Stats)),
		stats.LoggerOption(log),
	)

	probes := make(map[string]string)
	for _, ec := range cfg.Egresses {
		if ec != nil && ec.Probe != "" {
			probes[ec.ID] = ec.Probe
		}
	}
	tracker := parsing.ParseTracker(cfg.Health, probes, func() []*policy.EgressPoint {
		var eps []*policy.EgressPoint
		for _, ep := range st.Catalogs().Egresses {
			eps = append(eps, ep)
		}
		return eps
	}, log)
	registry.TrackerRegistry().Unregister("default")
	registry.TrackerRegistry().Register("default", tracker)

	rsv := resolver.NewResolver(
		resolver.RecorderOption(agg),
		resolver.LoggerOption(log),
	)

	ctrl := draft.NewController(st, draft.LoggerOption(log))

	rt := &Runtime{
		Store:      st,
		Controller: ctrl,
		Resolver:   rsv,
		Tracker:    tracker,
		Stats:      agg,
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancelFunc = cancel

	if cfg.RuleSet != nil && cfg.RuleSet.Reload > 0 {
		go rt.reloadLoop(ctx, cfg.RuleSet, log)
	}

	if cfg.API != nil && cfg.API.Addr != "" {
		s, err := api_service.NewService("tcp", cfg.API.Addr,
			api_service.EngineOption(api.Options{
				Store:      st,
				Controller: ctrl,
				Resolver:   rsv,
				Tracker:    tracker,
				Stats:      agg,
			}),
			api_service.PathPrefixOption(cfg.API.PathPrefix),
			api_service.AccessLogOption(cfg.API.AccessLog),
			api_service.AuthOption(parseAuth(cfg.API.Auth)),
		)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.API = s
	}

	if cfg.Metrics != nil && cfg.Metrics.Addr != "" {
		metrics.Enable(true)
		s, err := metrics_service.NewService("tcp", cfg.Metrics.Addr,
			metrics_service.PathOption(cfg.Metrics.Path),
			metrics_service.AuthOption(parseAuth(cfg.Metrics.Auth)),
		)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Metrics = s
	}

	return rt, nil
}

// Serve runs the API and metrics servers until one fails or Close is called.
func (rt *Runtime) Serve() error {
	errc := make(chan error, 2)
	n := 0
	if rt.API != nil {
		n++
		go func() {
			errc <- rt.API.Serve()
		}()
	}
	if rt.Metrics != nil {
		n++
		go func() {
			errc <- rt.Metrics.Serve()
		}()
	}
	if n == 0 {
		return nil
	}
	return <-errc
}

func (rt *Runtime) Close() error {
	if rt.cancelFunc != nil {
		rt.cancelFunc()
	}
	if rt.API != nil {
		rt.API.Close()
	}
	if rt.Metrics != nil {
		rt.Metrics.Close()
	}
	if rt.Tracker != nil {
		rt.Tracker.Close()
	}
	if rt.Stats != nil {
		rt.Stats.Close()
	}
	return nil
}

// reloadLoop re-reads the external rule set on the configured period and
// commits it. A failed load or a validation error keeps the current snapshot.
func (rt *Runtime) reloadLoop(ctx context.Context, cfg *config.RuleSetConfig, log logger.Logger) {
	ticker := time.NewTicker(cfg.Reload)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rules, err := loadExternalRules(ctx, cfg)
			if err != nil {
				log.Warnf("reload rule set: %v", err)
				continue
			}
			if rules == nil {
				continue
			}
			if snap, verrs := rt.Store.Commit(rules); snap == nil {
				log.Warnf("reload rule set: %v", policy.FirstFatal(verrs))
			} else {
				log.Infof("reloaded rule set, version %d, %d rules", snap.Version(), len(rules))
			}
		case <-ctx.Done():
			return
		}
	}
}

// loadRules merges the inline rules with the external rule set, external
// rules last.
func loadRules(cfg *config.Config) ([]*policy.TrafficRule, error) {
	var rules []*policy.TrafficRule
	for _, rc := range cfg.Rules {
		if rule := parsing.ParseRule(rc); rule != nil {
			rules = append(rules, rule)
		}
	}

	external, err := loadExternalRules(context.Background(), cfg.RuleSet)
	if err != nil {
		return nil, err
	}
	rules = append(rules, external...)

	return rules, nil
}

func loadExternalRules(ctx context.Context, cfg *config.RuleSetConfig) ([]*policy.TrafficRule, error) {
	ldr := parsing.ParseRuleSetLoader(cfg)
	if ldr == nil {
		return nil, nil
	}
	defer ldr.Close()

	r, err := ldr.Load(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := store.ReadRuleSet(r)
	if err != nil {
		return nil, err
	}
	return rs.Rules, nil
}

func registerCatalogs(catalogs *store.Catalogs) {
	for id, g := range catalogs.Groups {
		registry.GroupRegistry().Unregister(id)
		registry.GroupRegistry().Register(id, g)
	}
	for id, ep := range catalogs.Egresses {
		registry.EgressRegistry().Unregister(id)
		registry.EgressRegistry().Register(id, ep)
	}
	for id, p := range catalogs.DNS {
		registry.DNSPolicyRegistry().Unregister(id)
		registry.DNSPolicyRegistry().Register(id, p)
	}
	for id, m := range catalogs.Matchers {
		registry.MatcherRegistry().Unregister(id)
		registry.MatcherRegistry().Register(id, m)
	}
}

func parseAuth(auth *config.AuthConfig) func(username, password string) bool {
	if auth == nil || auth.Username == "" {
		return nil
	}
	username := auth.Username
	password := auth.Password
	return func(u, p string) bool {
		return u == username && p == password
	}
}

func statsBuffer(cfg *config.StatsConfig) int {
	if cfg == nil {
		return 0
	}
	return cfg.Buffer
}
