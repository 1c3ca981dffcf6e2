// Package parsing converts configuration records into live engine objects.
package parsing

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/flowctl/policyd/config"
	"github.com/flowctl/policyd/health"
	"github.com/flowctl/policyd/internal/loader"
	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/policy"
	"github.com/flowctl/policyd/store"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
)

func ParseLogger(cfg *config.LogConfig) logger.Logger {
	if cfg == nil {
		return nil
	}
	opts := []logger.Option{
		logger.FormatOption(logger.LogFormat(cfg.Format)),
		logger.LevelOption(logger.LogLevel(cfg.Level)),
	}

	var out io.Writer = os.Stderr
	switch cfg.Output {
	case "none", "null":
		return logger.Nop()
	case "stdout":
		out = os.Stdout
	case "stderr", "":
		out = os.Stderr
	default:
		if cfg.Rotation != nil {
			out = &lumberjack.Logger{
				Filename:   cfg.Output,
				MaxSize:    cfg.Rotation.MaxSize,
				MaxAge:     cfg.Rotation.MaxAge,
				MaxBackups: cfg.Rotation.MaxBackups,
				LocalTime:  cfg.Rotation.LocalTime,
				Compress:   cfg.Rotation.Compress,
			}
		} else {
			os.MkdirAll(filepath.Dir(cfg.Output), 0755)
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				logger.Default().Warn(err)
			} else {
				out = f
			}
		}
	}
	opts = append(opts, logger.OutputOption(out))

	return logger.NewLogger(opts...)
}

func ParseGroup(cfg *config.ClientGroupConfig) *policy.ClientGroup {
	if cfg == nil {
		return nil
	}
	return &policy.ClientGroup{
		ID:      cfg.ID,
		Name:    cfg.Name,
		Kind:    policy.ClientGroupKind(cfg.Kind),
		Ref:     cfg.Ref,
		Subnets: cfg.Subnets,
		Members: cfg.Members,
	}
}

func ParseEgress(cfg *config.EgressConfig) *policy.EgressPoint {
	if cfg == nil {
		return nil
	}
	return &policy.EgressPoint{
		ID:      cfg.ID,
		Name:    cfg.Name,
		Kind:    policy.EgressKind(cfg.Kind),
		Addr:    cfg.Addr,
		Default: cfg.Default,
		Enabled: cfg.Enabled,
	}
}

func ParseDNSPolicy(cfg *config.DNSPolicyConfig) *policy.DNSPolicy {
	if cfg == nil {
		return nil
	}
	return &policy.DNSPolicy{
		ID:           cfg.ID,
		Name:         cfg.Name,
		Kind:         policy.DNSPolicyKind(cfg.Kind),
		Resolvers:    cfg.Resolvers,
		UseEgressDNS: cfg.UseEgressDNS,
	}
}

func ParseMatcher(cfg *config.MatcherConfig) *policy.TrafficMatcher {
	if cfg == nil {
		return nil
	}
	m := &policy.TrafficMatcher{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Protocols: cfg.Protocols,
		Domains:   cfg.Domains,
		Apps:      cfg.Apps,
	}
	for _, r := range cfg.Ports {
		m.Ports = append(m.Ports, policy.PortRange{Min: r.Min, Max: r.Max})
	}
	return m
}

func ParseRule(cfg *config.RuleConfig) *policy.TrafficRule {
	if cfg == nil {
		return nil
	}
	rule := &policy.TrafficRule{
		ID:           cfg.ID,
		Name:         cfg.Name,
		Priority:     cfg.Priority,
		Enabled:      cfg.Enabled,
		Default:      cfg.Default,
		ClientGroups: cfg.ClientGroups,
		Matchers:     cfg.Matchers,
		Egress:       cfg.Egress,
		DNSPolicy:    cfg.DNSPolicy,
		Failover:     cfg.Failover,
		CreatedAt:    cfg.CreatedAt,
	}
	if cfg.QoS != nil {
		rule.QoS = policy.QoS{
			Enabled:      cfg.QoS.Enabled,
			Class:        policy.QoSClass(cfg.QoS.Class),
			MaxBandwidth: cfg.QoS.MaxBandwidth,
		}
	}
	return rule
}

// ParseCatalogs assembles the catalog maps the store validates against.
func ParseCatalogs(cfg *config.Config) *store.Catalogs {
	catalogs := &store.Catalogs{
		Groups:   make(map[string]*policy.ClientGroup),
		Egresses: make(map[string]*policy.EgressPoint),
		DNS:      make(map[string]*policy.DNSPolicy),
		Matchers: make(map[string]*policy.TrafficMatcher),
	}
	for _, c := range cfg.Groups {
		if g := ParseGroup(c); g != nil {
			catalogs.Groups[g.ID] = g
		}
	}
	for _, c := range cfg.Egresses {
		if ep := ParseEgress(c); ep != nil {
			catalogs.Egresses[ep.ID] = ep
		}
	}
	for _, c := range cfg.DNS {
		if p := ParseDNSPolicy(c); p != nil {
			catalogs.DNS[p.ID] = p
		}
	}
	for _, c := range cfg.Matchers {
		if m := ParseMatcher(c); m != nil {
			catalogs.Matchers[m.ID] = m
		}
	}
	return catalogs
}

// ParseRuleSetLoader builds the external rule-set loader, or nil when no
// source is configured.
func ParseRuleSetLoader(cfg *config.RuleSetConfig) loader.Loader {
	if cfg == nil {
		return nil
	}
	switch {
	case cfg.File != nil:
		return loader.FileLoader(cfg.File.Path)
	case cfg.Redis != nil:
		return loader.RedisStringLoader(cfg.Redis.Addr,
			loader.DBRedisLoaderOption(cfg.Redis.DB),
			loader.UsernameRedisLoaderOption(cfg.Redis.Username),
			loader.PasswordRedisLoaderOption(cfg.Redis.Password),
			loader.KeyRedisLoaderOption(cfg.Redis.Key),
		)
	case cfg.HTTP != nil:
		return loader.HTTPLoader(cfg.HTTP.URL,
			loader.TimeoutHTTPLoaderOption(cfg.HTTP.Timeout),
		)
	}
	return nil
}

// ParseTracker builds the health tracker over the given egress catalog
// source. probes maps egress id to probe kind (tcp/dns); missing entries
// probe over TCP.
func ParseTracker(cfg *config.HealthConfig, probes map[string]string, egresses func() []*policy.EgressPoint, log logger.Logger) *health.Tracker {
	if cfg == nil {
		cfg = &config.HealthConfig{}
	}
	return health.NewTracker(egresses,
		health.ProberOption(&dispatchProber{
			kinds: probes,
			tcp:   health.TCPProber(cfg.Timeout),
			dns:   health.DNSProber(cfg.Timeout, cfg.ProbeName),
		}),
		health.IntervalOption(cfg.Interval),
		health.TimeoutOption(cfg.Timeout),
		health.DownAfterOption(cfg.DownAfter),
		health.UpAfterOption(cfg.UpAfter),
		health.ProbeRateOption(rate.Limit(cfg.ProbeRate)),
		health.LoggerOption(log),
	)
}

type dispatchProber struct {
	kinds map[string]string
	tcp   health.Prober
	dns   health.Prober
}

func (p *dispatchProber) Probe(ctx context.Context, ep *policy.EgressPoint) (time.Duration, error) {
	if p.kinds[ep.ID] == "dns" {
		return p.dns.Probe(ctx, ep)
	}
	return p.tcp.Probe(ctx, ep)
}
