package store

import (
	"sort"

	"github.com/flowctl/policyd/matcher"
	"github.com/flowctl/policyd/policy"
)

// Catalogs are the entity sets the engine consumes from its collaborators.
// A snapshot captures the catalogs it was built against, so resolution is a
// function of the snapshot alone.
type Catalogs struct {
	Groups   map[string]*policy.ClientGroup
	Egresses map[string]*policy.EgressPoint
	DNS      map[string]*policy.DNSPolicy
	Matchers map[string]*policy.TrafficMatcher
}

// DefaultEgress returns the egress point marked default, if any.
func (c *Catalogs) DefaultEgress() *policy.EgressPoint {
	for _, ep := range c.Egresses {
		if ep.Default {
			return ep
		}
	}
	return nil
}

// Snapshot is an immutable view of the rule set. The enabled rules are
// pre-sorted by (priority, createdAt) and each rule's matchers are compiled
// once, so the resolution path does no sorting or compilation per call.
type Snapshot struct {
	version  uint64
	rules    []*policy.TrafficRule
	ordered  []*policy.TrafficRule
	matchers map[string][]*matcher.FlowMatcher
	defRule  *policy.TrafficRule
	catalogs *Catalogs
	groups   *matcher.GroupResolver
}

func newSnapshot(version uint64, rules []*policy.TrafficRule, catalogs *Catalogs) *Snapshot {
	s := &Snapshot{
		version:  version,
		rules:    rules,
		matchers: make(map[string][]*matcher.FlowMatcher),
		catalogs: catalogs,
	}

	for _, rule := range rules {
		if rule.Default {
			s.defRule = rule
		}
		if !rule.Enabled {
			continue
		}
		s.ordered = append(s.ordered, rule)
		for _, id := range rule.Matchers {
			if m := catalogs.Matchers[id]; m != nil {
				s.matchers[rule.ID] = append(s.matchers[rule.ID], matcher.Compile(m))
			}
		}
	}
	sort.SliceStable(s.ordered, func(i, j int) bool {
		a, b := s.ordered[i], s.ordered[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	var groups []*policy.ClientGroup
	for _, g := range catalogs.Groups {
		groups = append(groups, g)
	}
	s.groups = matcher.NewGroupResolver(groups)

	return s
}

func (s *Snapshot) Version() uint64 {
	return s.version
}

// Rules returns a copy of the full rule list, including disabled rules.
func (s *Snapshot) Rules() []*policy.TrafficRule {
	rules := make([]*policy.TrafficRule, len(s.rules))
	copy(rules, s.rules)
	return rules
}

// Ordered returns the enabled rules in evaluation order. The returned slice
// must not be modified.
func (s *Snapshot) Ordered() []*policy.TrafficRule {
	return s.ordered
}

// Matchers returns the compiled matchers of the given rule; empty means the
// rule is a catch-all.
func (s *Snapshot) Matchers(ruleID string) []*matcher.FlowMatcher {
	return s.matchers[ruleID]
}

func (s *Snapshot) DefaultRule() *policy.TrafficRule {
	return s.defRule
}

func (s *Snapshot) Rule(id string) *policy.TrafficRule {
	for _, rule := range s.rules {
		if rule.ID == id {
			return rule
		}
	}
	return nil
}

func (s *Snapshot) Egress(id string) *policy.EgressPoint {
	return s.catalogs.Egresses[id]
}

func (s *Snapshot) DefaultEgress() *policy.EgressPoint {
	return s.catalogs.DefaultEgress()
}

func (s *Snapshot) DNSPolicy(id string) *policy.DNSPolicy {
	return s.catalogs.DNS[id]
}

// Memberships expands the flow's client-group memberships with source-subnet
// lookups against the group catalog.
func (s *Snapshot) Memberships(flow *policy.Flow) []string {
	return s.groups.Memberships(flow)
}
