package health

import (
	"context"
	"net"
	"time"

	"github.com/flowctl/policyd/policy"
	"github.com/miekg/dns"
)

// DefaultProbeTimeout bounds a single probe; a probe that exceeds it counts
// as a failure for flap-detection purposes.
const DefaultProbeTimeout = 2 * time.Second

// Prober checks reachability of one egress point and reports the observed
// round-trip time.
type Prober interface {
	Probe(ctx context.Context, ep *policy.EgressPoint) (time.Duration, error)
}

type tcpProber struct {
	timeout time.Duration
}

// TCPProber probes by TCP connect against the egress point's address.
func TCPProber(timeout time.Duration) Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &tcpProber{
		timeout: timeout,
	}
}

func (p *tcpProber) Probe(ctx context.Context, ep *policy.EgressPoint) (time.Duration, error) {
	addr := ep.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "443")
	}

	d := net.Dialer{
		Timeout: p.timeout,
	}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	conn.Close()
	return time.Since(start), nil
}

type dnsProber struct {
	timeout time.Duration
	name    string
}

// DNSProber probes by resolving a name against the egress point's address,
// for egress points that front a resolver.
func DNSProber(timeout time.Duration, name string) Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if name == "" {
		name = "www.example.com."
	}
	return &dnsProber{
		timeout: timeout,
		name:    dns.Fqdn(name),
	}
}

func (p *dnsProber) Probe(ctx context.Context, ep *policy.EgressPoint) (time.Duration, error) {
	addr := ep.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "53")
	}

	m := &dns.Msg{}
	m.SetQuestion(p.name, dns.TypeA)

	client := &dns.Client{
		Timeout: p.timeout,
	}
	_, rtt, err := client.ExchangeContext(ctx, m, addr)
	if err != nil {
		return 0, err
	}
	return rtt, nil
}
