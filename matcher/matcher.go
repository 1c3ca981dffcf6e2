// Package matcher implements the flow classification predicates: whether a
// traffic matcher, and by extension a traffic rule, applies to a given flow.
// All predicates are pure; compiled matchers are immutable after creation.
package matcher

import (
	"net"
	"strings"

	"github.com/flowctl/policyd/internal/matcher"
	"github.com/flowctl/policyd/policy"
)

// FlowMatcher is a compiled form of a policy.TrafficMatcher with domain
// patterns pre-compiled and protocol/app sets indexed.
type FlowMatcher struct {
	id        string
	protocols map[string]struct{}
	ports     []policy.PortRange
	domains   matcher.Matcher
	wildcards matcher.Matcher
	apps      map[string]struct{}
}

// Compile builds a FlowMatcher from its configuration. Patterns containing
// a wildcard are handled by suffix/glob matching, plain names by exact match.
func Compile(m *policy.TrafficMatcher) *FlowMatcher {
	fm := &FlowMatcher{
		id:    m.ID,
		ports: m.Ports,
	}

	if len(m.Protocols) > 0 {
		fm.protocols = make(map[string]struct{})
		for _, proto := range m.Protocols {
			fm.protocols[strings.ToLower(proto)] = struct{}{}
		}
	}
	if len(m.Apps) > 0 {
		fm.apps = make(map[string]struct{})
		for _, app := range m.Apps {
			fm.apps[strings.ToLower(app)] = struct{}{}
		}
	}

	var domains, wildcards []string
	for _, pattern := range m.Domains {
		if strings.ContainsAny(pattern, "*?") {
			wildcards = append(wildcards, pattern)
			continue
		}
		domains = append(domains, pattern)
	}
	if len(domains) > 0 {
		fm.domains = matcher.DomainMatcher(domains)
	}
	if len(wildcards) > 0 {
		fm.wildcards = matcher.WildcardMatcher(wildcards)
	}

	return fm
}

func (fm *FlowMatcher) ID() string {
	return fm.id
}

// Matches reports whether the flow satisfies every non-empty criterion of
// the matcher. An empty criterion is a wildcard.
func (fm *FlowMatcher) Matches(flow *policy.Flow) bool {
	if fm == nil || flow == nil {
		return false
	}

	if len(fm.protocols) > 0 {
		if _, ok := fm.protocols[strings.ToLower(flow.Protocol)]; !ok {
			return false
		}
	}

	if len(fm.ports) > 0 {
		matched := false
		for _, r := range fm.ports {
			if r.Contains(flow.DstPort) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if fm.domains != nil || fm.wildcards != nil {
		if flow.Domain == "" {
			return false
		}
		matched := fm.domains != nil && fm.domains.Match(flow.Domain) ||
			fm.wildcards != nil && fm.wildcards.Match(flow.Domain)
		if !matched {
			return false
		}
	}

	if len(fm.apps) > 0 {
		if _, ok := fm.apps[strings.ToLower(flow.App)]; !ok {
			return false
		}
	}

	return true
}

// GroupResolver maps a flow's source onto client-group memberships.
// A group's subnet list may mix CIDR blocks with single host addresses;
// groups already present on the flow descriptor are kept as-is.
type GroupResolver struct {
	sources map[string][]matcher.Matcher
}

// NewGroupResolver compiles the source lists of the given client groups.
func NewGroupResolver(groups []*policy.ClientGroup) *GroupResolver {
	gr := &GroupResolver{
		sources: make(map[string][]matcher.Matcher),
	}
	for _, group := range groups {
		var inets []*net.IPNet
		var ips []net.IP
		for _, s := range group.Subnets {
			if _, inet, err := net.ParseCIDR(s); err == nil {
				inets = append(inets, inet)
				continue
			}
			if ip := net.ParseIP(s); ip != nil {
				ips = append(ips, ip)
			}
		}

		var ms []matcher.Matcher
		if len(inets) > 0 {
			ms = append(ms, matcher.CIDRMatcher(inets))
		}
		if len(ips) > 0 {
			ms = append(ms, matcher.IPMatcher(ips))
		}
		if len(ms) > 0 {
			gr.sources[group.ID] = ms
		}
	}
	return gr
}

// Memberships returns the flow's group ids, augmented with every group whose
// sources contain the flow's source IP.
func (gr *GroupResolver) Memberships(flow *policy.Flow) []string {
	groups := flow.Groups
	if gr == nil || flow.SrcIP == "" {
		return groups
	}

	seen := make(map[string]struct{}, len(groups))
	for _, id := range groups {
		seen[id] = struct{}{}
	}
	for id, ms := range gr.sources {
		if _, ok := seen[id]; ok {
			continue
		}
		for _, m := range ms {
			if m.Match(flow.SrcIP) {
				groups = append(groups, id)
				break
			}
		}
	}
	return groups
}

// RuleMatches reports whether the rule applies to the flow: the flow's group
// memberships must intersect the rule's client groups, and either the rule
// carries no matchers (catch-all) or at least one matcher matches.
func RuleMatches(rule *policy.TrafficRule, matchers []*FlowMatcher, flow *policy.Flow, groups []string) bool {
	if rule == nil || flow == nil {
		return false
	}

	matched := false
	for _, id := range groups {
		for _, gid := range rule.ClientGroups {
			if id == gid {
				matched = true
				break
			}
		}
		if matched {
			break
		}
	}
	if !matched {
		return false
	}

	if len(matchers) == 0 {
		return true
	}
	for _, fm := range matchers {
		if fm.Matches(flow) {
			return true
		}
	}
	return false
}
