package resolve

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrC0ns0le/irr-filter/internal/irr"
	"github.com/DrC0ns0le/irr-filter/pkg/logging"
)

// fakeIRR answers query lines from the objects map; anything absent gets
// a not-found reply. It counts the queries it served.
func fakeIRR(t *testing.T, conn net.Conn, objects map[string]string) *atomic.Int64 {
	t.Helper()
	queries := new(atomic.Int64)
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			queries.Add(1)
			payload, ok := objects[scanner.Text()]
			var reply string
			if !ok {
				reply = "D\n"
			} else {
				reply = fmt.Sprintf("A%d\n%sC\n", len(payload), payload)
			}
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}()
	return queries
}

func newTestResolver(t *testing.T, objects map[string]string, cache *Cache) (*Resolver, *atomic.Int64) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	queries := fakeIRR(t, serverConn, objects)
	client := irr.NewClient(clientConn, logging.NewDefaultLogger())
	t.Cleanup(func() { client.Close() })
	return &Resolver{Client: client, Cache: cache, Logger: logging.NewDefaultLogger()}, queries
}

func asSet(name string) irr.Filter {
	return irr.Filter{Kind: irr.FilterAsSet, Name: name}
}

func sortedASNs(e *Expansion) []uint32 {
	out := make([]uint32, 0, len(e.ASNs))
	for asn := range e.ASNs {
		out = append(out, asn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestExpandFlattensNestedSets(t *testing.T) {
	r, _ := newTestResolver(t, map[string]string{
		"!iAS-EXAMPLE,1":   "AS65536 AS-CUSTOMERS\n",
		"!iAS-CUSTOMERS,1": "AS65537 AS65538\n",
	}, nil)

	exp, err := r.Expand([]irr.Filter{asSet("AS-EXAMPLE")})
	require.NoError(t, err)
	assert.Equal(t, []uint32{65536, 65537, 65538}, sortedASNs(exp))
	assert.Empty(t, exp.Declared)
}

func TestExpandCycleTerminates(t *testing.T) {
	r, queries := newTestResolver(t, map[string]string{
		"!iAS-A,1": "AS65536 AS-B\n",
		"!iAS-B,1": "AS65537 AS-A\n",
	}, nil)

	exp, err := r.Expand([]irr.Filter{asSet("AS-A")})
	require.NoError(t, err)
	assert.Equal(t, []uint32{65536, 65537}, sortedASNs(exp))
	// each name queried exactly once despite the cycle
	assert.Equal(t, int64(2), queries.Load())
}

func TestExpandDiamondQueriedOnce(t *testing.T) {
	r, queries := newTestResolver(t, map[string]string{
		"!iAS-ROOT,1":   "AS-LEFT AS-RIGHT\n",
		"!iAS-LEFT,1":   "AS-SHARED\n",
		"!iAS-RIGHT,1":  "AS-SHARED\n",
		"!iAS-SHARED,1": "AS65546\n",
	}, nil)

	exp, err := r.Expand([]irr.Filter{asSet("AS-ROOT")})
	require.NoError(t, err)
	assert.Equal(t, []uint32{65546}, sortedASNs(exp))
	assert.Equal(t, int64(4), queries.Load())
}

func TestExpandNotFoundSkipped(t *testing.T) {
	r, _ := newTestResolver(t, map[string]string{
		"!iAS-EXAMPLE,1": "AS65536 AS-GONE\n",
	}, nil)

	exp, err := r.Expand([]irr.Filter{asSet("AS-EXAMPLE")})
	require.NoError(t, err)
	assert.Equal(t, []uint32{65536}, sortedASNs(exp))
}

func TestExpandRootNotFoundYieldsEmpty(t *testing.T) {
	r, _ := newTestResolver(t, map[string]string{}, nil)

	exp, err := r.Expand([]irr.Filter{asSet("AS-MISSING")})
	require.NoError(t, err)
	assert.Empty(t, exp.ASNs)
	assert.Empty(t, exp.Declared)
}

func TestExpandFiltersReservedASNs(t *testing.T) {
	r, _ := newTestResolver(t, map[string]string{
		"!iAS-EXAMPLE,1": "AS65536 AS0 AS23456 AS64496 AS65535 AS4200000000\n",
	}, nil)

	exp, err := r.Expand([]irr.Filter{asSet("AS-EXAMPLE")})
	require.NoError(t, err)
	assert.Equal(t, []uint32{65536}, sortedASNs(exp))
}

func TestExpandRouteSetDeclaredPrefixes(t *testing.T) {
	r, _ := newTestResolver(t, map[string]string{
		"!iRS-CUSTOMERS,1": "192.0.2.0/24 2001:db8::/32 AS65536\n",
	}, nil)

	exp, err := r.Expand([]irr.Filter{{Kind: irr.FilterRouteSet, Name: "RS-CUSTOMERS"}})
	require.NoError(t, err)
	assert.Equal(t, []uint32{65536}, sortedASNs(exp))
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}, exp.Declared[irr.FamilyIPv4])
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("2001:db8::/32")}, exp.Declared[irr.FamilyIPv6])
}

func TestExpandAutNumRootNeedsNoQuery(t *testing.T) {
	r, queries := newTestResolver(t, nil, nil)

	exp, err := r.Expand([]irr.Filter{{Kind: irr.FilterAutNum, Name: "AS65536", ASN: 65536}})
	require.NoError(t, err)
	assert.Equal(t, []uint32{65536}, sortedASNs(exp))
	assert.Equal(t, int64(0), queries.Load())
}

func TestCollectRoutes(t *testing.T) {
	r, _ := newTestResolver(t, map[string]string{
		"!gas65536": "192.0.2.0/24\n",
		"!gas65537": "192.0.3.0/24 192.0.2.0/24\n",
		"!6as65536": "2001:db8::/32\n",
	}, nil)

	asns := map[uint32]struct{}{65536: {}, 65537: {}}
	routes, err := r.CollectRoutes(asns, []irr.Family{irr.FamilyIPv4, irr.FamilyIPv6})
	require.NoError(t, err)

	// duplicate across origins removed; AS with no v6 routes is not an error
	assert.ElementsMatch(t,
		[]netip.Prefix{netip.MustParsePrefix("192.0.2.0/24"), netip.MustParsePrefix("192.0.3.0/24")},
		routes[irr.FamilyIPv4])
	assert.Equal(t,
		[]netip.Prefix{netip.MustParsePrefix("2001:db8::/32")},
		routes[irr.FamilyIPv6])
}

func TestCacheAvoidsRepeatQueries(t *testing.T) {
	objects := map[string]string{
		"!iAS-EXAMPLE,1": "AS65536\n",
		"!gas65536":      "192.0.2.0/24\n",
		"!6as65536":      "",
	}
	cache := NewCache()

	first, queries1 := newTestResolver(t, objects, cache)
	exp, err := first.Expand([]irr.Filter{asSet("AS-EXAMPLE")})
	require.NoError(t, err)
	_, err = first.CollectRoutes(exp.ASNs, []irr.Family{irr.FamilyIPv4, irr.FamilyIPv6})
	require.NoError(t, err)
	assert.Equal(t, int64(3), queries1.Load())

	// a second pass over the same cache never touches its server
	second, queries2 := newTestResolver(t, objects, cache)
	exp2, err := second.Expand([]irr.Filter{asSet("AS-EXAMPLE")})
	require.NoError(t, err)
	routes, err := second.CollectRoutes(exp2.ASNs, []irr.Family{irr.FamilyIPv4, irr.FamilyIPv6})
	require.NoError(t, err)
	assert.Equal(t, int64(0), queries2.Load())
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}, routes[irr.FamilyIPv4])
}

func TestExpandLimit(t *testing.T) {
	// a chain longer than the cap must abort, not spin
	objects := make(map[string]string)
	for i := 0; i < 10; i++ {
		objects[fmt.Sprintf("!iAS-CHAIN%d,1", i)] = fmt.Sprintf("AS-CHAIN%d\n", i+1)
	}
	r, _ := newTestResolver(t, objects, nil)

	old := *maxVisited
	*maxVisited = 5
	defer func() { *maxVisited = old }()

	_, err := r.Expand([]irr.Filter{asSet("AS-CHAIN0")})
	require.Error(t, err)
	assert.ErrorIs(t, err, irr.ErrExpansionLimit)
}
