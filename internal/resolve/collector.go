package resolve

import (
	"net/netip"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/irr-filter/internal/irr"
	"github.com/DrC0ns0le/irr-filter/internal/metrics"
)

type inflightRoutes struct {
	asn     uint32
	family  irr.Family
	pending *irr.Pending
}

// CollectRoutes queries the routes originated by each AS for the given
// families and returns the deduplicated prefixes per family. One query
// per (AS, family) pair, pipelined the same way set expansion is. An AS
// with no registered routes for a family contributes nothing; that is
// not an error.
func (r *Resolver) CollectRoutes(asns map[uint32]struct{}, families []irr.Family) (map[irr.Family][]netip.Prefix, error) {
	if len(asns) == 0 || len(families) == 0 {
		return map[irr.Family][]netip.Prefix{}, nil
	}

	ordered := make([]uint32, 0, len(asns))
	for asn := range asns {
		ordered = append(ordered, asn)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	out := make(map[irr.Family][]netip.Prefix, len(families))
	seen := make(map[netip.Prefix]struct{})

	add := func(family irr.Family, prefixes []netip.Prefix) {
		for _, p := range prefixes {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out[family] = append(out[family], p)
		}
	}

	var inflight []inflightRoutes
	i := 0
	for i < len(ordered)*len(families) || len(inflight) > 0 {
		for i < len(ordered)*len(families) && len(inflight) < r.Client.Window() {
			asn := ordered[i/len(families)]
			family := families[i%len(families)]
			i++

			if prefixes, ok := r.Cache.routes(asn, family); ok {
				metrics.CacheHits.Inc()
				add(family, prefixes)
				continue
			}
			p, err := r.Client.Submit(irr.RoutesByOrigin(asn, family))
			if err != nil {
				return nil, err
			}
			inflight = append(inflight, inflightRoutes{asn: asn, family: family, pending: p})
		}

		if len(inflight) == 0 {
			continue
		}
		head := inflight[0]
		inflight = inflight[1:]
		resp := r.Client.Collect(head.pending)
		if resp.Err != nil {
			if errors.Is(resp.Err, irr.ErrNotFound) {
				r.Cache.storeRoutes(head.asn, head.family, nil)
				continue
			}
			return nil, errors.Wrapf(resp.Err, "routes for AS%d %s", head.asn, head.family)
		}
		metrics.ObjectsDownloaded.Inc()

		prefixes, err := parseRoutes(resp.Payload, head.family)
		if err != nil {
			return nil, errors.Wrapf(err, "routes for AS%d %s", head.asn, head.family)
		}
		r.Cache.storeRoutes(head.asn, head.family, prefixes)
		add(head.family, prefixes)
	}

	return out, nil
}

func parseRoutes(payload []byte, family irr.Family) ([]netip.Prefix, error) {
	fields := strings.Fields(string(payload))
	prefixes := make([]netip.Prefix, 0, len(fields))
	for _, token := range fields {
		p, err := irr.ParsePrefix(token)
		if err != nil {
			return nil, err
		}
		if (family == irr.FamilyIPv4) != p.Addr().Is4() {
			return nil, errors.Errorf("prefix %s in %s route reply", p, family)
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}
