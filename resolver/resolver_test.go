package resolver

import (
	"testing"
	"time"

	"github.com/flowctl/policyd/health"
	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/policy"
	"github.com/flowctl/policyd/store"
)

var testBase = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testSnapshot(t *testing.T) *store.Snapshot {
	t.Helper()

	catalogs := &store.Catalogs{
		Groups: map[string]*policy.ClientGroup{
			"g-lan":    {ID: "g-lan", Kind: policy.GroupVLAN, Subnets: []string{"10.0.0.0/16"}},
			"g-gaming": {ID: "g-gaming", Kind: policy.GroupVLAN, Subnets: []string{"10.0.2.0/24"}},
			"g-guest":  {ID: "g-guest", Kind: policy.GroupVLAN, Subnets: []string{"10.0.9.0/24"}},
		},
		Egresses: map[string]*policy.EgressPoint{
			"wan": {ID: "wan", Kind: policy.EgressLocal, Default: true, Enabled: true},
			"vpn": {ID: "vpn", Kind: policy.EgressTunnel, Addr: "vpn.example.com:51820", Enabled: true},
		},
		DNS: map[string]*policy.DNSPolicy{
			"dns-filtered": {ID: "dns-filtered", Kind: policy.DNSFiltered},
			"dns-bypass":   {ID: "dns-bypass", Kind: policy.DNSBypass},
		},
		Matchers: map[string]*policy.TrafficMatcher{
			"m-game": {
				ID:        "m-game",
				Protocols: []string{"udp"},
				Ports:     []policy.PortRange{{Min: 3074, Max: 3074}},
			},
			"m-stream": {
				ID:      "m-stream",
				Domains: []string{"*.netflix.com"},
			},
		},
	}

	rules := []*policy.TrafficRule{
		{
			ID:           "r-game",
			Priority:     10,
			Enabled:      true,
			ClientGroups: []string{"g-gaming"},
			Matchers:     []string{"m-game"},
			Egress:       "vpn",
			DNSPolicy:    "dns-bypass",
			QoS:          policy.QoS{Enabled: true, Class: policy.QoSRealtime},
			Failover:     true,
			CreatedAt:    testBase,
		},
		{
			ID:           "r-stream",
			Priority:     20,
			Enabled:      true,
			ClientGroups: []string{"g-guest"},
			Matchers:     []string{"m-stream"},
			Egress:       "vpn",
			DNSPolicy:    "dns-filtered",
			CreatedAt:    testBase,
		},
		{
			ID:           "r-default",
			Priority:     100,
			Enabled:      true,
			Default:      true,
			ClientGroups: []string{"g-lan"},
			Egress:       "wan",
			DNSPolicy:    "dns-filtered",
			CreatedAt:    testBase,
		},
	}

	st, errs := store.New(catalogs, rules, store.LoggerOption(logger.Nop()))
	if errs != nil {
		t.Fatalf("invalid fixture rules: %v", errs)
	}
	return st.Snapshot()
}

func allHealthy() health.Source {
	return health.Static(nil)
}

func TestResolveMatchedRule(t *testing.T) {
	r := NewResolver(LoggerOption(logger.Nop()))
	snap := testSnapshot(t)

	flow := &policy.Flow{SrcIP: "10.0.2.15", Protocol: "udp", DstPort: 3074}

	res, err := r.Resolve(flow, snap, allHealthy())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.RuleID != "r-game" {
		t.Errorf("RuleID = %s, want r-game", res.RuleID)
	}
	if res.Egress.ID != "vpn" {
		t.Errorf("Egress = %s, want vpn", res.Egress.ID)
	}
	if res.DNSPolicy.ID != "dns-bypass" {
		t.Errorf("DNSPolicy = %s, want dns-bypass", res.DNSPolicy.ID)
	}
	if res.QoS.Class != policy.QoSRealtime {
		t.Errorf("QoS class = %s, want realtime", res.QoS.Class)
	}
	if res.FailedOver {
		t.Error("FailedOver = true on a healthy egress")
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := NewResolver(LoggerOption(logger.Nop()))
	snap := testSnapshot(t)
	hs := allHealthy()

	flow := &policy.Flow{SrcIP: "10.0.9.8", Protocol: "tcp", DstPort: 443, Domain: "www.netflix.com"}

	first, err := r.Resolve(flow, snap, hs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		res, err := r.Resolve(flow, snap, hs)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if res.RuleID != first.RuleID || res.Egress.ID != first.Egress.ID {
			t.Fatalf("resolution changed: %v then %v", first, res)
		}
	}
	if first.RuleID != "r-stream" {
		t.Errorf("RuleID = %s, want r-stream", first.RuleID)
	}
}

func TestResolveUnmatchedFlowUsesDefaultRule(t *testing.T) {
	r := NewResolver(LoggerOption(logger.Nop()))
	snap := testSnapshot(t)

	flow := &policy.Flow{SrcIP: "10.0.0.50", Protocol: "tcp", DstPort: 22}

	res, err := r.Resolve(flow, snap, allHealthy())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.RuleID != "r-default" {
		t.Errorf("RuleID = %s, want r-default", res.RuleID)
	}
	if res.Egress.ID != "wan" {
		t.Errorf("Egress = %s, want wan", res.Egress.ID)
	}
}

func TestResolveFailoverKeepsRulePolicies(t *testing.T) {
	r := NewResolver(LoggerOption(logger.Nop()))
	snap := testSnapshot(t)
	hs := health.Static(map[string]policy.HealthState{
		"vpn": policy.HealthDown,
	})

	flow := &policy.Flow{SrcIP: "10.0.2.15", Protocol: "udp", DstPort: 3074}

	res, err := r.Resolve(flow, snap, hs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.RuleID != "r-game" {
		t.Errorf("RuleID = %s, want r-game", res.RuleID)
	}
	if res.Egress.ID != "wan" {
		t.Errorf("Egress = %s, want the default egress", res.Egress.ID)
	}
	if !res.FailedOver {
		t.Error("FailedOver = false after substituting the default egress")
	}
	// the rule's own DNS policy and QoS still apply on the substituted egress
	if res.DNSPolicy.ID != "dns-bypass" {
		t.Errorf("DNSPolicy = %s, want dns-bypass", res.DNSPolicy.ID)
	}
	if res.QoS.Class != policy.QoSRealtime {
		t.Errorf("QoS class = %s, want realtime", res.QoS.Class)
	}
}

func TestResolveDegradedEgressStillUsed(t *testing.T) {
	r := NewResolver(LoggerOption(logger.Nop()))
	snap := testSnapshot(t)
	hs := health.Static(map[string]policy.HealthState{
		"vpn": policy.HealthDegraded,
	})

	flow := &policy.Flow{SrcIP: "10.0.2.15", Protocol: "udp", DstPort: 3074}

	res, err := r.Resolve(flow, snap, hs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Egress.ID != "vpn" {
		t.Errorf("Egress = %s, want vpn", res.Egress.ID)
	}
	if res.FailedOver {
		t.Error("degraded egress must not trigger failover")
	}
}

func TestResolveDownEgressWithoutFailoverSkipsRule(t *testing.T) {
	r := NewResolver(LoggerOption(logger.Nop()))
	snap := testSnapshot(t)
	hs := health.Static(map[string]policy.HealthState{
		"vpn": policy.HealthDown,
	})

	// r-stream has failover disabled; its vpn egress being down drops the
	// flow through to the default rule
	flow := &policy.Flow{SrcIP: "10.0.9.8", Protocol: "tcp", DstPort: 443, Domain: "www.netflix.com"}

	res, err := r.Resolve(flow, snap, hs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.RuleID != "r-default" {
		t.Errorf("RuleID = %s, want r-default", res.RuleID)
	}
	if res.FailedOver {
		t.Error("FailedOver = true on a skipped rule")
	}
}

func TestResolveNoHealthyEgress(t *testing.T) {
	r := NewResolver(LoggerOption(logger.Nop()))
	snap := testSnapshot(t)
	hs := health.Static(map[string]policy.HealthState{
		"vpn": policy.HealthDown,
		"wan": policy.HealthDown,
	})

	flow := &policy.Flow{SrcIP: "10.0.2.15", Protocol: "udp", DstPort: 3074}

	if _, err := r.Resolve(flow, snap, hs); err != policy.ErrNoHealthyEgress {
		t.Errorf("Resolve() error = %v, want ErrNoHealthyEgress", err)
	}

	// the default path is just as dead
	flow = &policy.Flow{SrcIP: "10.0.0.50", Protocol: "tcp", DstPort: 22}
	if _, err := r.Resolve(flow, snap, hs); err != policy.ErrNoHealthyEgress {
		t.Errorf("Resolve() error = %v, want ErrNoHealthyEgress", err)
	}
}

type fakeRecorder struct {
	ruleID string
	bytes  uint64
	calls  int
}

func (r *fakeRecorder) Record(ruleID string, bytes uint64) {
	r.ruleID = ruleID
	r.bytes = bytes
	r.calls++
}

func TestResolveRecordsStats(t *testing.T) {
	rec := &fakeRecorder{}
	r := NewResolver(RecorderOption(rec), LoggerOption(logger.Nop()))
	snap := testSnapshot(t)

	flow := &policy.Flow{SrcIP: "10.0.2.15", Protocol: "udp", DstPort: 3074, Bytes: 1500}

	if _, err := r.Resolve(flow, snap, allHealthy()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.calls != 1 || rec.ruleID != "r-game" || rec.bytes != 1500 {
		t.Errorf("Record(%s, %d) called %d times, want Record(r-game, 1500) once", rec.ruleID, rec.bytes, rec.calls)
	}
}
