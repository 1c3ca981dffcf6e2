package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/policy"
)

type fakeProber struct {
	fail bool
	rtt  time.Duration
}

func (p *fakeProber) Probe(ctx context.Context, ep *policy.EgressPoint) (time.Duration, error) {
	if p.fail {
		return 0, errors.New("connection refused")
	}
	return p.rtt, nil
}

func testTracker(eps *[]*policy.EgressPoint, p Prober) *Tracker {
	return &Tracker{
		egresses: func() []*policy.EgressPoint {
			return *eps
		},
		entries: make(map[string]*entry),
		options: options{
			prober:    p,
			downAfter: DefaultDownAfter,
			upAfter:   DefaultUpAfter,
			logger:    logger.Nop(),
		},
	}
}

func TestTrackerFlapTransitions(t *testing.T) {
	eps := []*policy.EgressPoint{
		{ID: "vpn", Kind: policy.EgressTunnel, Addr: "vpn.example.com:51820", Enabled: true},
	}
	p := &fakeProber{rtt: 20 * time.Millisecond}
	tr := testTracker(&eps, p)
	ctx := context.Background()

	tr.sweep(ctx)
	if got := tr.State("vpn"); got != policy.HealthHealthy {
		t.Fatalf("state after first success = %s, want healthy", got)
	}

	// one failed probe degrades, it takes downAfter consecutive failures to
	// mark the egress down
	p.fail = true
	tr.sweep(ctx)
	if got := tr.State("vpn"); got != policy.HealthDegraded {
		t.Fatalf("state after 1 failure = %s, want degraded", got)
	}
	tr.sweep(ctx)
	if got := tr.State("vpn"); got != policy.HealthDegraded {
		t.Fatalf("state after 2 failures = %s, want degraded", got)
	}
	tr.sweep(ctx)
	if got := tr.State("vpn"); got != policy.HealthDown {
		t.Fatalf("state after 3 failures = %s, want down", got)
	}

	// recovery needs upAfter consecutive successes
	p.fail = false
	tr.sweep(ctx)
	if got := tr.State("vpn"); got != policy.HealthDown {
		t.Fatalf("state after 1 success = %s, want down", got)
	}
	tr.sweep(ctx)
	if got := tr.State("vpn"); got != policy.HealthHealthy {
		t.Fatalf("state after 2 successes = %s, want healthy", got)
	}
}

func TestTrackerSuccessResetsFailureStreak(t *testing.T) {
	eps := []*policy.EgressPoint{
		{ID: "vpn", Kind: policy.EgressTunnel, Enabled: true},
	}
	p := &fakeProber{}
	tr := testTracker(&eps, p)
	ctx := context.Background()

	// two failures, a success, two more failures: never three in a row
	p.fail = true
	tr.sweep(ctx)
	tr.sweep(ctx)
	p.fail = false
	tr.sweep(ctx)
	p.fail = true
	tr.sweep(ctx)
	tr.sweep(ctx)

	if got := tr.State("vpn"); got != policy.HealthDegraded {
		t.Fatalf("state = %s, want degraded without 3 consecutive failures", got)
	}
	tr.sweep(ctx)
	if got := tr.State("vpn"); got != policy.HealthDown {
		t.Fatalf("state = %s, want down after the streak completes", got)
	}
}

func TestTrackerPublishesStatus(t *testing.T) {
	eps := []*policy.EgressPoint{
		{ID: "vpn", Kind: policy.EgressTunnel, Enabled: true},
	}
	p := &fakeProber{rtt: 42 * time.Millisecond}
	tr := testTracker(&eps, p)

	tr.sweep(context.Background())

	m := tr.Current()
	if m.Version == 0 {
		t.Error("published map must carry a version")
	}
	st, ok := m.Statuses["vpn"]
	if !ok {
		t.Fatal("vpn missing from the published map")
	}
	if st.Latency != 42*time.Millisecond {
		t.Errorf("latency = %v, want 42ms", st.Latency)
	}
	if st.Reliability <= 0 || st.Reliability > 1 {
		t.Errorf("reliability = %v, want (0, 1]", st.Reliability)
	}
	if st.CheckedAt.IsZero() {
		t.Error("checkedAt not set")
	}

	v := m.Version
	tr.sweep(context.Background())
	if tr.Current().Version <= v {
		t.Error("version must grow with every published map")
	}
}

func TestTrackerPrunesRemovedEgresses(t *testing.T) {
	eps := []*policy.EgressPoint{
		{ID: "vpn", Kind: policy.EgressTunnel, Enabled: true},
		{ID: "vpn2", Kind: policy.EgressTunnel, Enabled: true},
	}
	p := &fakeProber{fail: true}
	tr := testTracker(&eps, p)
	ctx := context.Background()

	tr.sweep(ctx)
	tr.sweep(ctx)
	tr.sweep(ctx)
	if got := tr.State("vpn2"); got != policy.HealthDown {
		t.Fatalf("state = %s, want down", got)
	}

	eps = eps[:1]
	tr.sweep(ctx)

	if _, ok := tr.Current().Statuses["vpn2"]; ok {
		t.Error("removed egress still present in the published map")
	}
	// unknown egresses read as healthy until their first probe
	if got := tr.State("vpn2"); got != policy.HealthHealthy {
		t.Errorf("state of unknown egress = %s, want healthy", got)
	}
}

func TestMapStateDefaults(t *testing.T) {
	var m *Map
	if got := m.State("any"); got != policy.HealthHealthy {
		t.Errorf("nil map state = %s, want healthy", got)
	}

	s := Static(map[string]policy.HealthState{"vpn": policy.HealthDown})
	if got := s.State("vpn"); got != policy.HealthDown {
		t.Errorf("state = %s, want down", got)
	}
	if got := s.State("wan"); got != policy.HealthHealthy {
		t.Errorf("unknown state = %s, want healthy", got)
	}
}
