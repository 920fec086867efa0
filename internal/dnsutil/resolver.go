// Package dnsutil resolves the gateway hostname against an explicitly
// configured DNS server, bypassing the system resolver when the caller
// needs a trusted bootstrap path.
package dnsutil

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Resolver answers A/AAAA lookups against a fixed server. A nil Resolver
// or an empty Server falls back to the system resolver.
type Resolver struct {
	// Server is "host:port"; a bare host gets port 53.
	Server string

	// Timeout bounds a single exchange. Zero means 5 seconds.
	Timeout time.Duration
}

// LookupHost returns one IP address for host. Literal IPs pass through
// untouched.
func (r *Resolver) LookupHost(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}
	if r == nil || r.Server == "" {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return "", err
		}
		if len(addrs) == 0 {
			return "", fmt.Errorf("no addresses for %s", host)
		}
		return addrs[0].IP.String(), nil
	}

	server := r.Server
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &dns.Client{Timeout: timeout}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true
		in, _, err := c.ExchangeContext(ctx, m, server)
		if err != nil {
			return "", fmt.Errorf("dns exchange with %s: %w", server, err)
		}
		if in.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, rr := range in.Answer {
			switch a := rr.(type) {
			case *dns.A:
				return a.A.String(), nil
			case *dns.AAAA:
				return a.AAAA.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no A/AAAA records for %s from %s", host, server)
}
