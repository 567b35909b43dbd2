package relay

import (
	"net"

	"github.com/miekg/dns"
	"github.com/samber/oops"
)

// resolveUpstream turns a host:port upstream spec into a dialable address.
// Literal IPs pass through untouched. Hostnames are resolved through the
// configured DNS server when one is set, otherwise left to the dialer's
// system resolver.
func resolveUpstream(upstream, resolver string) (string, error) {
	host, port, err := net.SplitHostPort(upstream)
	if err != nil {
		return "", oops.Errorf("bad upstream address %q: %w", upstream, err)
	}
	if net.ParseIP(host) != nil || resolver == "" {
		return upstream, nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	c := new(dns.Client)
	resp, _, err := c.Exchange(m, resolver)
	if err != nil {
		return "", oops.Errorf("dns query for %s via %s failed: %w", host, resolver, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", oops.Errorf("dns query for %s returned %s", host, dns.RcodeToString[resp.Rcode])
	}
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			return net.JoinHostPort(a.A.String(), port), nil
		}
	}
	return "", oops.Errorf("no A records for %s", host)
}
