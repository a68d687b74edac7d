package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

const DefaultResolver = "127.0.0.53:53"

// ResolveRelayers looks up SRV records for domain and returns relayer base URLs
// ordered by priority, then by descending weight.
func ResolveRelayers(ctx context.Context, domain, resolver, scheme string) ([]string, error) {
	if resolver == "" {
		resolver = DefaultResolver
	}
	if scheme == "" {
		scheme = "http"
	}

	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{Name: dns.Fqdn(domain), Qtype: dns.TypeSRV, Qclass: dns.ClassINET}}

	c := new(dns.Client)
	in, _, err := c.ExchangeContext(ctx, m, resolver)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup for %s: %w", domain, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("SRV lookup for %s: %s", domain, dns.RcodeToString[in.Rcode])
	}

	return srvEndpoints(in.Answer, scheme)
}

func srvEndpoints(answers []dns.RR, scheme string) ([]string, error) {
	records := make([]*dns.SRV, 0, len(answers))
	for _, answer := range answers {
		if srv, ok := answer.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return nil, errors.New("no SRV records found")
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	endpoints := make([]string, len(records))
	for i, srv := range records {
		endpoints[i] = fmt.Sprintf("%s://%s:%d", scheme, strings.TrimSuffix(srv.Target, "."), srv.Port)
	}
	return endpoints, nil
}
