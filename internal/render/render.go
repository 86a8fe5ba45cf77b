// Package render turns aggregated prefix entries into router filter text.
package render

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/irr-filter/internal/aggregate"
)

// Style selects the router output syntax.
type Style string

const (
	// StylePrefixList is classic IOS ip/ipv6 prefix-list syntax.
	StylePrefixList Style = "prefix-list"
	// StylePrefixSet is IOS-XR prefix-set syntax.
	StylePrefixSet Style = "prefix-set"
)

func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case StylePrefixList, StylePrefixSet:
		return Style(s), nil
	}
	return "", errors.Errorf("unknown output style %q", s)
}

// Entry renders one prefix with its ge/le range, emitted only when the
// bound differs from the prefix's own length.
func Entry(e aggregate.Entry) string {
	var b strings.Builder
	b.WriteString(e.Prefix.String())
	if int(e.Min) != e.Prefix.Bits() {
		fmt.Fprintf(&b, " ge %d", e.Min)
	}
	if int(e.Max) != e.Prefix.Bits() {
		fmt.Fprintf(&b, " le %d", e.Max)
	}
	return b.String()
}

// Build renders one filter object in the given style.
func Build(style Style, name, comment string, entries []aggregate.Entry) (string, error) {
	switch style {
	case StylePrefixSet:
		return buildPrefixSet(name, comment, entries), nil
	case StylePrefixList:
		return buildPrefixList(name, comment, entries), nil
	}
	return "", errors.Errorf("unknown output style %q", style)
}

func buildPrefixSet(name, comment string, entries []aggregate.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "no prefix-set %s\n", name)
	fmt.Fprintf(&b, "prefix-set %s\n # %s\n", name, comment)
	for i, e := range entries {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString(" " + Entry(e))
	}
	b.WriteString("\nend-set\n")
	return b.String()
}

func buildPrefixList(name, comment string, entries []aggregate.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "no ip prefix-list %s\n", name)
	fmt.Fprintf(&b, "ip prefix-list %s description %s\n", name, comment)
	fmt.Fprintf(&b, "no ipv6 prefix-list %s\n", name)
	fmt.Fprintf(&b, "ipv6 prefix-list %s description %s\n", name, comment)
	for _, e := range entries {
		family := "ip"
		if !e.Prefix.Addr().Is4() {
			family = "ipv6"
		}
		fmt.Fprintf(&b, "%s prefix-list %s permit %s\n", family, name, Entry(e))
	}
	return b.String()
}
