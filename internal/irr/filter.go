package irr

import (
	"strings"

	"github.com/pkg/errors"
)

// FilterKind classifies a configured filter name.
type FilterKind int

const (
	FilterAsSet FilterKind = iota
	FilterRouteSet
	FilterAutNum
)

// Filter is a parsed filter name from a router configuration.
type Filter struct {
	Kind FilterKind
	Name string
	ASN  uint32 // set for FilterAutNum only
}

// ClassifyFilter parses a filter name into its RPSL object class.
//
// From RFC 2622: set names can be hierarchical, a sequence of set names
// and AS numbers separated by colons, where at least one component must
// be an actual set name. All set name components must be of the same
// type, so the first set-typed component decides the class.
func ClassifyFilter(name string) (Filter, error) {
	if strings.Contains(name, ":") {
		for _, elem := range strings.Split(name, ":") {
			f, err := classifyComponent(elem)
			if err != nil || f.Kind == FilterAutNum {
				continue
			}
			return Filter{Kind: f.Kind, Name: name}, nil
		}
		return Filter{}, errors.Errorf("invalid filter name %q", name)
	}
	return classifyComponent(name)
}

func classifyComponent(name string) (Filter, error) {
	switch {
	case len(name) >= 3 && strings.EqualFold(name[:3], "as-"):
		return Filter{Kind: FilterAsSet, Name: name}, nil
	case len(name) >= 3 && strings.EqualFold(name[:3], "rs-"):
		return Filter{Kind: FilterRouteSet, Name: name}, nil
	case len(name) > 2 && strings.EqualFold(name[:2], "as"):
		asn, err := ParseASN(name)
		if err != nil {
			return Filter{}, errors.Errorf("invalid filter name %q", name)
		}
		return Filter{Kind: FilterAutNum, Name: name, ASN: asn}, nil
	}
	return Filter{}, errors.Errorf("invalid filter name %q", name)
}
