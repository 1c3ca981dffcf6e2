package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/flowctl/policyd/policy"
)

// Priority bounds for traffic rules; lower value means higher precedence.
const (
	MinPriority = 1
	MaxPriority = 100
)

// Validate checks the structural correctness of a candidate rule set against
// the catalogs. Fatal errors block a commit; warnings are reported but do
// not (see policy.Fatal).
func Validate(rules []*policy.TrafficRule, catalogs *Catalogs) (errs []*policy.ValidationError) {
	var defaults int
	seen := make(map[string]struct{}, len(rules))
	shapes := make(map[string]*policy.TrafficRule)

	for _, rule := range rules {
		if rule.ID == "" {
			errs = append(errs, &policy.ValidationError{
				Kind: policy.ValidationInvalidField,
				Msg:  "rule id is required",
			})
			continue
		}

		// ids address rules in lookups, updates and stats; duplicates would
		// make that addressing ambiguous
		if _, ok := seen[rule.ID]; ok {
			errs = append(errs, &policy.ValidationError{
				Kind:  policy.ValidationInvalidField,
				Rule:  rule.ID,
				Field: "id",
				Msg:   fmt.Sprintf("duplicate rule id %s", rule.ID),
			})
			continue
		}
		seen[rule.ID] = struct{}{}

		if rule.Priority < MinPriority || rule.Priority > MaxPriority {
			errs = append(errs, &policy.ValidationError{
				Kind:  policy.ValidationInvalidPriority,
				Rule:  rule.ID,
				Field: "priority",
				Msg:   fmt.Sprintf("priority %d out of range [%d, %d]", rule.Priority, MinPriority, MaxPriority),
			})
		}

		if len(rule.ClientGroups) == 0 {
			errs = append(errs, &policy.ValidationError{
				Kind:  policy.ValidationMissingGroup,
				Rule:  rule.ID,
				Field: "clientGroups",
				Msg:   "at least one client group is required",
			})
		}
		for _, id := range rule.ClientGroups {
			if catalogs.Groups[id] == nil {
				errs = append(errs, &policy.ValidationError{
					Kind:  policy.ValidationMissingRef,
					Rule:  rule.ID,
					Field: "clientGroups",
					Msg:   fmt.Sprintf("client group %s not found", id),
				})
			}
		}

		for _, id := range rule.Matchers {
			m := catalogs.Matchers[id]
			if m == nil {
				errs = append(errs, &policy.ValidationError{
					Kind:  policy.ValidationMissingRef,
					Rule:  rule.ID,
					Field: "matchers",
					Msg:   fmt.Sprintf("matcher %s not found", id),
				})
				continue
			}
			errs = append(errs, validateMatcher(rule, m)...)
		}

		ep := catalogs.Egresses[rule.Egress]
		if ep == nil {
			errs = append(errs, &policy.ValidationError{
				Kind:  policy.ValidationMissingRef,
				Rule:  rule.ID,
				Field: "egress",
				Msg:   fmt.Sprintf("egress point %s not found", rule.Egress),
			})
		} else if !ep.Enabled {
			errs = append(errs, &policy.ValidationError{
				Kind:  policy.ValidationMissingRef,
				Rule:  rule.ID,
				Field: "egress",
				Msg:   fmt.Sprintf("egress point %s is disabled", rule.Egress),
			})
		}

		if catalogs.DNS[rule.DNSPolicy] == nil {
			errs = append(errs, &policy.ValidationError{
				Kind:  policy.ValidationMissingRef,
				Rule:  rule.ID,
				Field: "dnsPolicy",
				Msg:   fmt.Sprintf("dns policy %s not found", rule.DNSPolicy),
			})
		}

		if rule.Default {
			defaults++
			if !rule.Enabled {
				errs = append(errs, &policy.ValidationError{
					Kind:  policy.ValidationMissingDefault,
					Rule:  rule.ID,
					Field: "enabled",
					Msg:   "default rule must not be disabled",
				})
			}
		}

		// Identical (priority, groups, matchers) triples routing to different
		// egress points are legal; the (priority, createdAt) tie-break decides.
		key := shapeKey(rule)
		if prev, ok := shapes[key]; ok && prev.Egress != rule.Egress {
			errs = append(errs, &policy.ValidationError{
				Kind:    policy.ValidationConflict,
				Rule:    rule.ID,
				Msg:     fmt.Sprintf("shadows rule %s with a different egress; last created wins", prev.ID),
				Warning: true,
			})
		}
		shapes[key] = rule
	}

	if defaults != 1 {
		errs = append(errs, &policy.ValidationError{
			Kind: policy.ValidationMissingDefault,
			Msg:  fmt.Sprintf("exactly one default rule required, found %d", defaults),
		})
	}

	errs = append(errs, validateEgresses(catalogs)...)

	return
}

func validateMatcher(rule *policy.TrafficRule, m *policy.TrafficMatcher) (errs []*policy.ValidationError) {
	for _, r := range m.Ports {
		if r.Min > r.Max {
			errs = append(errs, &policy.ValidationError{
				Kind:  policy.ValidationInvalidField,
				Rule:  rule.ID,
				Field: "ports",
				Msg:   fmt.Sprintf("matcher %s: port range %d-%d is inverted", m.ID, r.Min, r.Max),
			})
		}
	}
	for _, pattern := range m.Domains {
		name := strings.TrimPrefix(pattern, "*.")
		if strings.ContainsAny(name, "*?") {
			// other wildcard shapes go through glob, no syntax check
			continue
		}
		if !govalidator.IsDNSName(name) {
			errs = append(errs, &policy.ValidationError{
				Kind:  policy.ValidationInvalidField,
				Rule:  rule.ID,
				Field: "domains",
				Msg:   fmt.Sprintf("matcher %s: invalid domain pattern %q", m.ID, pattern),
			})
		}
	}
	return
}

func validateEgresses(catalogs *Catalogs) (errs []*policy.ValidationError) {
	var defaults int
	for _, ep := range catalogs.Egresses {
		if !ep.Default {
			continue
		}
		defaults++
		if !ep.Enabled {
			errs = append(errs, &policy.ValidationError{
				Kind:  policy.ValidationMissingDefault,
				Field: "egress",
				Msg:   fmt.Sprintf("default egress %s must not be disabled", ep.ID),
			})
		}
	}
	if defaults != 1 {
		errs = append(errs, &policy.ValidationError{
			Kind:  policy.ValidationMissingDefault,
			Field: "egress",
			Msg:   fmt.Sprintf("exactly one default egress required, found %d", defaults),
		})
	}
	return
}

func shapeKey(rule *policy.TrafficRule) string {
	groups := append([]string(nil), rule.ClientGroups...)
	matchers := append([]string(nil), rule.Matchers...)
	sort.Strings(groups)
	sort.Strings(matchers)
	return fmt.Sprintf("%d|%s|%s", rule.Priority, strings.Join(groups, ","), strings.Join(matchers, ","))
}
