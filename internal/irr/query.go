package irr

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Family is an address family selector for queries and prefix sets.
type Family int

const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

func (f Family) String() string {
	if f == FamilyIPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// QueryKind enumerates the fixed IRRd command vocabulary.
type QueryKind int

const (
	// QueryExpandSet asks for the members of an as-set or route-set.
	QueryExpandSet QueryKind = iota
	// QueryRoutes4 asks for IPv4 routes originated by an AS.
	QueryRoutes4
	// QueryRoutes6 asks for IPv6 routes originated by an AS.
	QueryRoutes6
	// QueryIdentify announces the client name and version.
	QueryIdentify
	// QuerySelectSources restricts following queries to the given
	// comma-separated registry sources.
	QuerySelectSources
	// QueryQuit asks the server to close the session.
	QueryQuit
)

// Query is a single request token. Immutable once submitted; its identity
// on the wire is its submission order, the protocol carries no request IDs.
type Query struct {
	Kind QueryKind
	Arg  string
}

func ExpandSet(name string) Query {
	return Query{Kind: QueryExpandSet, Arg: name}
}

func RoutesByOrigin(asn uint32, family Family) Query {
	kind := QueryRoutes4
	if family == FamilyIPv6 {
		kind = QueryRoutes6
	}
	return Query{Kind: kind, Arg: strconv.FormatUint(uint64(asn), 10)}
}

func Identify(client string) Query {
	return Query{Kind: QueryIdentify, Arg: client}
}

func SelectSources(sources []string) Query {
	return Query{Kind: QuerySelectSources, Arg: strings.Join(sources, ",")}
}

// Encode renders the query into its wire form. Pure function of the
// command kind and argument.
func (q Query) Encode() []byte {
	switch q.Kind {
	case QueryExpandSet:
		return []byte("!i" + q.Arg + ",1\n")
	case QueryRoutes4:
		return []byte("!gas" + q.Arg + "\n")
	case QueryRoutes6:
		return []byte("!6as" + q.Arg + "\n")
	case QueryIdentify:
		return []byte("!n" + q.Arg + "\n")
	case QuerySelectSources:
		return []byte("!s" + q.Arg + "\n")
	case QueryQuit:
		return []byte("!q\n")
	}
	panic(fmt.Sprintf("irr: unknown query kind %d", q.Kind))
}

func (q Query) String() string {
	return strings.TrimSuffix(string(q.Encode()), "\n")
}

// Family returns the address family a routes query targets.
func (q Query) Family() Family {
	if q.Kind == QueryRoutes6 {
		return FamilyIPv6
	}
	return FamilyIPv4
}

// ParseASN parses an "AS<number>" token, case-insensitively.
func ParseASN(token string) (uint32, error) {
	if len(token) < 3 || !strings.EqualFold(token[:2], "AS") {
		return 0, errors.Errorf("invalid AS number %q", token)
	}
	n, err := strconv.ParseUint(token[2:], 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid AS number %q", token)
	}
	return uint32(n), nil
}

// ReservedASN reports whether an AS number is private or otherwise not
// routable on the public internet, and therefore dropped from expansions.
func ReservedASN(asn uint32) bool {
	switch {
	case asn == 0:
		return true
	case asn == 23456: // AS_TRANS
		return true
	case asn >= 64496 && asn <= 65535:
		return true
	case asn >= 4200000000 && asn <= 4294967294:
		return true
	}
	return false
}

// ParsePrefix parses a "network/len" token into a canonical prefix with
// host bits zeroed.
func ParsePrefix(token string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(token)
	if err != nil {
		return netip.Prefix{}, errors.Wrapf(err, "invalid prefix %q", token)
	}
	return p.Masked(), nil
}
