package policy

import (
	"time"
)

// ClientGroupKind identifies how a client group is backed.
type ClientGroupKind string

const (
	GroupVLAN   ClientGroupKind = "vlan"
	GroupTunnel ClientGroupKind = "tunnel"
)

// ClientGroup is a set of hosts sharing a VLAN membership or a tunnel-client
// identity, used as a matching dimension for traffic rules. Subnets entries
// are CIDR blocks or single host addresses.
type ClientGroup struct {
	ID      string          `yaml:"id" json:"id"`
	Name    string          `yaml:",omitempty" json:"name,omitempty"`
	Kind    ClientGroupKind `yaml:"kind" json:"kind"`
	Ref     string          `yaml:"ref" json:"ref"`
	Subnets []string        `yaml:",omitempty" json:"subnets,omitempty"`
	Members int             `yaml:",omitempty" json:"members,omitempty"`
}

// PortRange is an inclusive destination port range.
type PortRange struct {
	Min uint16 `yaml:"min" json:"min"`
	Max uint16 `yaml:"max" json:"max"`
}

func (r PortRange) Contains(port uint16) bool {
	return port >= r.Min && port <= r.Max
}

// TrafficMatcher classifies a flow by protocol, destination port, destination
// domain and application tag. An empty field is a wildcard; all non-empty
// fields must be satisfied.
type TrafficMatcher struct {
	ID        string      `yaml:"id" json:"id"`
	Name      string      `yaml:",omitempty" json:"name,omitempty"`
	Protocols []string    `yaml:",omitempty" json:"protocols,omitempty"`
	Ports     []PortRange `yaml:",omitempty" json:"ports,omitempty"`
	Domains   []string    `yaml:",omitempty" json:"domains,omitempty"`
	Apps      []string    `yaml:",omitempty" json:"apps,omitempty"`
}

// EgressKind identifies the path a flow takes out of the local network.
type EgressKind string

const (
	EgressLocal  EgressKind = "local_internet"
	EgressTunnel EgressKind = "tunnel"
)

// HealthState is the liveness classification of an egress point.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
)

// EgressPoint is a named path by which a flow leaves the local network,
// either the ISP uplink or a tunnel endpoint.
type EgressPoint struct {
	ID      string     `yaml:"id" json:"id"`
	Name    string     `yaml:",omitempty" json:"name,omitempty"`
	Kind    EgressKind `yaml:"kind" json:"kind"`
	Addr    string     `yaml:",omitempty" json:"addr,omitempty"`
	Default bool       `yaml:",omitempty" json:"default,omitempty"`
	Enabled bool       `yaml:"enabled" json:"enabled"`
}

// DNSPolicyKind selects how names are resolved for matched traffic.
type DNSPolicyKind string

const (
	DNSFiltered DNSPolicyKind = "filtered"
	DNSBypass   DNSPolicyKind = "bypass"
	DNSCustom   DNSPolicyKind = "custom_resolvers"
)

// DNSPolicy describes the DNS treatment applied to matched traffic.
type DNSPolicy struct {
	ID           string        `yaml:"id" json:"id"`
	Name         string        `yaml:",omitempty" json:"name,omitempty"`
	Kind         DNSPolicyKind `yaml:"kind" json:"kind"`
	Resolvers    []string      `yaml:",omitempty" json:"resolvers,omitempty"`
	UseEgressDNS bool          `yaml:"useEgressDNS,omitempty" json:"useEgressDNS,omitempty"`
}

// QoSClass is a priority treatment applied to matched traffic.
type QoSClass string

const (
	QoSRealtime QoSClass = "realtime"
	QoSHigh     QoSClass = "high"
	QoSNormal   QoSClass = "normal"
	QoSLow      QoSClass = "low"
)

// QoS is the priority/bandwidth treatment attached to a rule.
type QoS struct {
	Enabled bool     `yaml:",omitempty" json:"enabled,omitempty"`
	Class   QoSClass `yaml:",omitempty" json:"class,omitempty"`
	// MaxBandwidth limits matched traffic, in bits per second. Zero is unlimited.
	MaxBandwidth int64 `yaml:"maxBandwidth,omitempty" json:"maxBandwidth,omitempty"`
}

// TrafficRule binds client groups and matchers to an egress point and a DNS
// policy. Lower priority value means higher precedence; rules with equal
// priority are ordered by creation time.
type TrafficRule struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:",omitempty" json:"name,omitempty"`
	Priority int    `yaml:"priority" json:"priority"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Default  bool   `yaml:",omitempty" json:"default,omitempty"`

	// ClientGroups is the non-empty set of group ids the rule applies to (OR).
	ClientGroups []string `yaml:"clientGroups" json:"clientGroups"`
	// Matchers is the set of matcher ids (OR among them); empty is catch-all.
	Matchers []string `yaml:",omitempty" json:"matchers,omitempty"`

	Egress    string `yaml:"egress" json:"egress"`
	DNSPolicy string `yaml:"dnsPolicy" json:"dnsPolicy"`
	QoS       QoS    `yaml:",omitempty" json:"qos,omitempty"`

	Failover  bool      `yaml:",omitempty" json:"failover,omitempty"`
	CreatedAt time.Time `yaml:"createdAt" json:"createdAt"`
}

// Flow is the descriptor of one network flow to be resolved.
type Flow struct {
	// Groups is the set of client-group ids the source belongs to.
	Groups   []string `json:"groups,omitempty"`
	SrcIP    string   `json:"srcIP,omitempty"`
	Protocol string   `json:"protocol,omitempty"`
	DstPort  uint16   `json:"dstPort,omitempty"`
	Domain   string   `json:"domain,omitempty"`
	App      string   `json:"app,omitempty"`
	Bytes    uint64   `json:"bytes,omitempty"`
}

// Resolution is the outcome of evaluating one flow: the egress to take, the
// DNS policy and QoS to apply, and the rule that produced it.
type Resolution struct {
	RuleID    string       `json:"ruleID"`
	Egress    *EgressPoint `json:"egress"`
	DNSPolicy *DNSPolicy   `json:"dnsPolicy,omitempty"`
	QoS       QoS          `json:"qos,omitempty"`
	// FailedOver reports that the rule's own egress was down and the default
	// egress was substituted.
	FailedOver bool `json:"failedOver,omitempty"`
}

// DraftAction is the kind of a staged mutation.
type DraftAction string

const (
	DraftCreate DraftAction = "create"
	DraftUpdate DraftAction = "update"
	DraftDelete DraftAction = "delete"
)

// DraftChange is one staged mutation of the rule set. Staged changes never
// affect live resolution until applied.
type DraftChange struct {
	ID        string       `json:"id"`
	Action    DraftAction  `json:"action"`
	RuleID    string       `json:"ruleID,omitempty"`
	Rule      *TrafficRule `json:"rule,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Stats is the per-rule accounting snapshot.
type Stats struct {
	Matches uint64 `json:"matches"`
	Bytes   uint64 `json:"bytes"`
}
