package matcher

import (
	"net"
	"strings"

	"github.com/gobwas/glob"
	"github.com/yl2chen/cidranger"
)

// Matcher is a generic pattern matcher,
// it gives the match result of the given pattern for specific v.
type Matcher interface {
	Match(v string) bool
}

type ipMatcher struct {
	ips map[string]struct{}
}

// IPMatcher creates a Matcher with a list of IP addresses.
func IPMatcher(ips []net.IP) Matcher {
	matcher := &ipMatcher{
		ips: make(map[string]struct{}),
	}
	for _, ip := range ips {
		matcher.ips[ip.String()] = struct{}{}
	}
	return matcher
}

func (m *ipMatcher) Match(ip string) bool {
	if m == nil || len(m.ips) == 0 {
		return false
	}
	_, ok := m.ips[ip]
	return ok
}

type cidrMatcher struct {
	ranger cidranger.Ranger
}

// CIDRMatcher creates a Matcher for a list of CIDR notation IP addresses.
func CIDRMatcher(inets []*net.IPNet) Matcher {
	ranger := cidranger.NewPCTrieRanger()
	for _, inet := range inets {
		ranger.Insert(cidranger.NewBasicRangerEntry(*inet))
	}
	return &cidrMatcher{ranger: ranger}
}

func (m *cidrMatcher) Match(ip string) bool {
	if m == nil || m.ranger == nil {
		return false
	}
	if netIP := net.ParseIP(ip); netIP != nil {
		b, _ := m.ranger.Contains(netIP)
		return b
	}
	return false
}

type domainMatcher struct {
	domains map[string]struct{}
}

// DomainMatcher creates a Matcher for a list of plain domains such as
// 'example.com'. Only exact matches are reported.
func DomainMatcher(domains []string) Matcher {
	matcher := &domainMatcher{
		domains: make(map[string]struct{}),
	}
	for _, domain := range domains {
		matcher.domains[strings.ToLower(domain)] = struct{}{}
	}
	return matcher
}

func (m *domainMatcher) Match(domain string) bool {
	if m == nil || len(m.domains) == 0 {
		return false
	}
	_, ok := m.domains[strings.ToLower(domain)]
	return ok
}

type wildcardMatcherPattern struct {
	suffix string
	glob   glob.Glob
}

type wildcardMatcher struct {
	patterns []wildcardMatcherPattern
}

// WildcardMatcher creates a Matcher for wildcard domain patterns.
// The leading-wildcard form '*.example.com' is matched by suffix comparison
// and also matches the bare apex 'example.com'; any other wildcard pattern
// falls back to glob matching.
func WildcardMatcher(patterns []string) Matcher {
	matcher := &wildcardMatcher{}
	for _, pattern := range patterns {
		pattern = strings.ToLower(pattern)
		p := wildcardMatcherPattern{}
		if rest, ok := strings.CutPrefix(pattern, "*."); ok && !strings.ContainsAny(rest, "*?") {
			p.suffix = rest
		} else {
			g, err := glob.Compile(pattern, '.')
			if err != nil {
				continue
			}
			p.glob = g
		}
		matcher.patterns = append(matcher.patterns, p)
	}
	return matcher
}

func (m *wildcardMatcher) Match(domain string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}

	domain = strings.ToLower(domain)
	for _, p := range m.patterns {
		if p.suffix != "" {
			if domain == p.suffix || strings.HasSuffix(domain, "."+p.suffix) {
				return true
			}
			continue
		}
		if p.glob != nil && p.glob.Match(domain) {
			return true
		}
	}
	return false
}
