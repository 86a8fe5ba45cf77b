// Package resolve turns configured filter names into leaf AS numbers and
// concrete prefixes by driving pipelined queries against an IRR server.
package resolve

import (
	"flag"
	"net/netip"
	"strings"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/irr-filter/internal/irr"
	"github.com/DrC0ns0le/irr-filter/internal/metrics"
	"github.com/DrC0ns0le/irr-filter/pkg/logging"
)

var maxVisited = flag.Int("resolve.maxvisited", 100000, "Maximum set names expanded per resolution pass")

// Resolver expands set names and collects originated routes over one
// client connection. It is owned by a single resolution pass; only the
// optional Cache may be shared with concurrent passes.
type Resolver struct {
	Client *irr.Client
	Cache  *Cache
	Logger logging.Logger
}

// Expansion is the flattened result of expanding a group of root names.
type Expansion struct {
	// ASNs are the leaf AS numbers, reserved ranges already dropped.
	ASNs map[uint32]struct{}
	// Declared are prefixes listed directly as set members, per family.
	Declared map[irr.Family][]netip.Prefix

	declaredSeen map[netip.Prefix]struct{}
}

func newExpansion() *Expansion {
	return &Expansion{
		ASNs:         make(map[uint32]struct{}),
		Declared:     make(map[irr.Family][]netip.Prefix),
		declaredSeen: make(map[netip.Prefix]struct{}),
	}
}

func (e *Expansion) addASN(asn uint32) {
	if irr.ReservedASN(asn) {
		return
	}
	e.ASNs[asn] = struct{}{}
}

func (e *Expansion) addDeclared(p netip.Prefix) {
	if _, ok := e.declaredSeen[p]; ok {
		return
	}
	e.declaredSeen[p] = struct{}{}
	family := irr.FamilyIPv4
	if !p.Addr().Is4() {
		family = irr.FamilyIPv6
	}
	e.Declared[family] = append(e.Declared[family], p)
}

type inflightSet struct {
	name    string
	pending *irr.Pending
}

// Expand resolves root filters into leaf AS numbers and directly declared
// prefixes. Expansion is breadth-first over an explicit work queue with a
// visited set, so reference cycles and diamonds terminate with each name
// queried at most once. Member queries for a whole batch of names are
// pipelined before their responses are drained.
func (r *Resolver) Expand(roots []irr.Filter) (*Expansion, error) {
	result := newExpansion()
	visited := make(map[string]struct{})
	var queue []string

	for _, root := range roots {
		if root.Kind == irr.FilterAutNum {
			result.addASN(root.ASN)
			continue
		}
		queue = append(queue, root.Name)
	}

	var inflight []inflightSet
	for len(queue) > 0 || len(inflight) > 0 {
		// keep the window full before draining anything
		for len(queue) > 0 && len(inflight) < r.Client.Window() {
			name := queue[0]
			queue = queue[1:]
			key := strings.ToUpper(name)
			if _, ok := visited[key]; ok {
				continue
			}
			visited[key] = struct{}{}
			if len(visited) > *maxVisited {
				return nil, errors.Wrapf(irr.ErrExpansionLimit, "expanding %s", name)
			}

			if members, ok := r.Cache.members(name); ok {
				metrics.CacheHits.Inc()
				queue = r.classifyMembers(name, members, result, queue)
				continue
			}
			p, err := r.Client.Submit(irr.ExpandSet(name))
			if err != nil {
				return nil, err
			}
			inflight = append(inflight, inflightSet{name: name, pending: p})
		}

		if len(inflight) == 0 {
			continue
		}
		head := inflight[0]
		inflight = inflight[1:]
		resp := r.Client.Collect(head.pending)
		if resp.Err != nil {
			if errors.Is(resp.Err, irr.ErrNotFound) {
				// stale references are common in the registries
				r.Logger.Debugf("set %s not found, skipping", head.name)
				r.Cache.storeMembers(head.name, nil)
				continue
			}
			return nil, errors.Wrapf(resp.Err, "expanding %s", head.name)
		}
		metrics.ObjectsDownloaded.Inc()
		members := strings.Fields(string(resp.Payload))
		r.Cache.storeMembers(head.name, members)
		queue = r.classifyMembers(head.name, members, result, queue)
	}

	return result, nil
}

// classifyMembers sorts each member token into a leaf AS number, a
// literal prefix, or a nested set name to be expanded in turn.
func (r *Resolver) classifyMembers(name string, members []string, result *Expansion, queue []string) []string {
	for _, member := range members {
		if asn, err := irr.ParseASN(member); err == nil {
			result.addASN(asn)
			continue
		}
		if strings.Contains(member, "/") {
			p, err := irr.ParsePrefix(member)
			if err != nil {
				r.Logger.Debugf("ignoring malformed member %q of %s", member, name)
				continue
			}
			result.addDeclared(p)
			continue
		}
		queue = append(queue, member)
	}
	return queue
}
