// Package dnscache resolves mesh addresses back to node names for error
// labeling, caching results so repeated failures don't re-query the mesh DNS.
package dnscache

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const dnsTimeout = 5 * time.Second

// Resolver performs reverse lookups against the local node's DNS server.
type Resolver struct {
	resolver *net.Resolver
	cache    *cache.Cache
}

// New creates a Resolver using the given DNS server address. The mesh's own
// DNS (usually the local node) is the only server that knows node names.
func New(dnsServer string, ttl time.Duration) *Resolver {
	server := net.JoinHostPort(dnsServer, "53")
	return &Resolver{
		resolver: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				dialer := net.Dialer{Timeout: dnsTimeout}
				return dialer.DialContext(ctx, network, server)
			},
		},
		cache: cache.New(ttl, ttl),
	}
}

// ReverseLookup returns the node name for an address, or "" when the address
// does not resolve. Results (including misses) are cached.
func (r *Resolver) ReverseLookup(ctx context.Context, ipAddress string) string {
	if name, ok := r.cache.Get(ipAddress); ok {
		return name.(string)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	name := ""
	if names, err := r.resolver.LookupAddr(lookupCtx, ipAddress); err == nil && len(names) > 0 {
		name = normalizeName(names[0])
	}
	r.cache.SetDefault(ipAddress, name)
	return name
}

func normalizeName(host string) string {
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimSuffix(host, ".local.mesh")
	return strings.ToLower(host)
}
