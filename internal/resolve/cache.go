package resolve

import (
	"net/netip"
	"strconv"
	"strings"

	cache "github.com/patrickmn/go-cache"

	"github.com/DrC0ns0le/irr-filter/internal/irr"
)

// Cache is a per-run result cache shared across router resolutions. The
// same as-set is commonly referenced by several routers; answering from
// the cache avoids repeating the round-trip. go-cache is internally
// locked, so concurrent router passes may share one instance. Entries
// never expire: the cache lives only for one run.
type Cache struct {
	c *cache.Cache
}

func NewCache() *Cache {
	return &Cache{c: cache.New(cache.NoExpiration, 0)}
}

func setKey(name string) string {
	return "set:" + strings.ToUpper(name)
}

func routesKey(asn uint32, family irr.Family) string {
	return "routes:" + family.String() + ":" + strconv.FormatUint(uint64(asn), 10)
}

func (c *Cache) members(name string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.c.Get(setKey(name))
	if !ok {
		return nil, false
	}
	return v.([]string), true
}

func (c *Cache) storeMembers(name string, members []string) {
	if c == nil {
		return
	}
	c.c.Set(setKey(name), members, cache.NoExpiration)
}

func (c *Cache) routes(asn uint32, family irr.Family) ([]netip.Prefix, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.c.Get(routesKey(asn, family))
	if !ok {
		return nil, false
	}
	return v.([]netip.Prefix), true
}

func (c *Cache) storeRoutes(asn uint32, family irr.Family, prefixes []netip.Prefix) {
	if c == nil {
		return
	}
	c.c.Set(routesKey(asn, family), prefixes, cache.NoExpiration)
}
