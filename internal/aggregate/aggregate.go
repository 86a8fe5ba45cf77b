// Package aggregate collapses prefix collections into the smallest
// equivalent covering set. The output covers exactly the addresses the
// input covers: a supernet is only emitted when every address beneath it
// was already present.
package aggregate

import (
	"math/big"
	"net/netip"
	"sort"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/irr-filter/internal/irr"
)

// ErrInvariant reports that an aggregation pass produced output whose
// address coverage differs from its input. This is a programming defect;
// callers must abort rather than ship the filter.
var ErrInvariant = errors.New("aggregate: output coverage differs from input")

// Entry is one output prefix annotated with the minimum and maximum
// original prefix length among the inputs it subsumes. Router filter
// syntax expresses ranges (ge/le), not just exact prefixes.
type Entry struct {
	Prefix netip.Prefix
	Min    uint8
	Max    uint8
}

// node is one binary trie node, stored in the arena slice. Index 0 is the
// root, so 0 doubles as the nil child sentinel.
type node struct {
	children [2]int32
	covered  bool
	min, max uint8
}

type trie struct {
	nodes []node
	bits  int
}

func newTrie(family irr.Family, hint int) *trie {
	bits := 32
	if family == irr.FamilyIPv6 {
		bits = 128
	}
	t := &trie{bits: bits, nodes: make([]node, 1, 1+hint*8)}
	return t
}

func bit(addr []byte, i int) int {
	return int(addr[i/8]>>(7-i%8)) & 1
}

func setBit(addr []byte, i int) {
	addr[i/8] |= 1 << (7 - i%8)
}

func clearBit(addr []byte, i int) {
	addr[i/8] &^= 1 << (7 - i%8)
}

func (t *trie) insert(addr []byte, plen int) {
	idx := int32(0)
	for d := 0; d < plen; d++ {
		b := bit(addr, d)
		child := t.nodes[idx].children[b]
		if child == 0 {
			t.nodes = append(t.nodes, node{})
			child = int32(len(t.nodes) - 1)
			t.nodes[idx].children[b] = child
		}
		idx = child
	}
	n := &t.nodes[idx]
	if !n.covered {
		n.covered = true
		n.min = uint8(plen)
		n.max = uint8(plen)
	}
}

// fold walks bottom-up, collapsing a node whose two subtrees are both
// fully covered into a single covering marker, provided the resulting
// length does not cross the configured floor. It returns whether the
// subtree at idx is fully covered, along with the min/max original
// lengths observed among covering markers beneath it.
func (t *trie) fold(idx int32, depth, floor int) (full bool, cmin, cmax uint8) {
	n := &t.nodes[idx]
	cmin, cmax = 255, 0
	lf, rf := false, false
	if l := n.children[0]; l != 0 {
		f, mn, mx := t.fold(l, depth+1, floor)
		lf = f
		if mn <= mx {
			cmin = minU8(cmin, mn)
			cmax = maxU8(cmax, mx)
		}
	}
	if r := n.children[1]; r != 0 {
		f, mn, mx := t.fold(r, depth+1, floor)
		rf = f
		if mn <= mx {
			cmin = minU8(cmin, mn)
			cmax = maxU8(cmax, mx)
		}
	}
	if n.covered {
		// more-specific markers beneath an explicit covering marker are
		// redundant; their lengths fold into the range
		cmin = minU8(cmin, n.min)
		cmax = maxU8(cmax, n.max)
		n.min, n.max = cmin, cmax
		return true, cmin, cmax
	}
	if lf && rf && n.children[0] != 0 && n.children[1] != 0 && depth >= floor {
		n.covered = true
		n.min, n.max = cmin, cmax
		return true, cmin, cmax
	}
	return false, cmin, cmax
}

// weight accumulates the number of addresses covered by the topmost
// covering markers at or below idx, in units of 2^(bits-depth).
func (t *trie) weight(idx int32, depth int, w *big.Int) {
	n := t.nodes[idx]
	if n.covered {
		var block big.Int
		block.Lsh(big.NewInt(1), uint(t.bits-depth))
		w.Add(w, &block)
		return
	}
	if l := n.children[0]; l != 0 {
		t.weight(l, depth+1, w)
	}
	if r := n.children[1]; r != 0 {
		t.weight(r, depth+1, w)
	}
}

// emit collects topmost covering markers depth-first. Branch 0 before
// branch 1 yields numeric address order.
func (t *trie) emit(idx int32, depth int, addr []byte, out *[]Entry) {
	n := t.nodes[idx]
	if n.covered {
		var a netip.Addr
		if t.bits == 32 {
			a = netip.AddrFrom4([4]byte(addr[:4]))
		} else {
			a = netip.AddrFrom16([16]byte(addr[:16]))
		}
		*out = append(*out, Entry{
			Prefix: netip.PrefixFrom(a, depth),
			Min:    n.min,
			Max:    n.max,
		})
		return
	}
	if l := n.children[0]; l != 0 {
		t.emit(l, depth+1, addr, out)
	}
	if r := n.children[1]; r != 0 {
		setBit(addr, depth)
		t.emit(r, depth+1, addr, out)
		clearBit(addr, depth)
	}
}

func minU8(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

func maxU8(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}

// Aggregate collapses prefixes of one address family into the minimal
// covering set. floor bounds how short a collapsed prefix may become;
// 0 disables the bound. The trie lives only for this call.
func Aggregate(prefixes []netip.Prefix, family irr.Family, floor uint8) ([]Entry, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}

	t := newTrie(family, len(prefixes))
	var scratch [16]byte
	for _, p := range prefixes {
		if err := checkFamily(p, family); err != nil {
			return nil, err
		}
		p = p.Masked()
		if family == irr.FamilyIPv4 {
			a4 := p.Addr().As4()
			copy(scratch[:4], a4[:])
		} else {
			a16 := p.Addr().As16()
			copy(scratch[:], a16[:])
		}
		t.insert(scratch[:t.bits/8], p.Bits())
	}

	var before big.Int
	t.weight(0, 0, &before)

	t.fold(0, 0, int(floor))

	out := make([]Entry, 0, len(prefixes))
	addr := make([]byte, t.bits/8)
	t.emit(0, 0, addr, &out)

	var after big.Int
	for _, e := range out {
		var block big.Int
		block.Lsh(big.NewInt(1), uint(t.bits-e.Prefix.Bits()))
		after.Add(&after, &block)
	}
	if before.Cmp(&after) != 0 {
		return nil, errors.Wrapf(ErrInvariant, "input covers %s addresses, output %s", before.String(), after.String())
	}
	return out, nil
}

// Passthrough is the aggregation-disabled path: deduplicated input in
// numeric address order, each entry with min=max=its own length.
func Passthrough(prefixes []netip.Prefix) []Entry {
	seen := make(map[netip.Prefix]struct{}, len(prefixes))
	out := make([]Entry, 0, len(prefixes))
	for _, p := range prefixes {
		p = p.Masked()
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, Entry{Prefix: p, Min: uint8(p.Bits()), Max: uint8(p.Bits())})
	}
	SortEntries(out)
	return out
}

// SortEntries orders entries by numeric address, shorter prefix first on
// a tie, which is the deterministic order the filter builders render in.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].Prefix.Addr().Compare(entries[j].Prefix.Addr()); c != 0 {
			return c < 0
		}
		return entries[i].Prefix.Bits() < entries[j].Prefix.Bits()
	})
}

func checkFamily(p netip.Prefix, family irr.Family) error {
	if family == irr.FamilyIPv4 && !p.Addr().Is4() {
		return errors.Errorf("aggregate: %s is not an IPv4 prefix", p)
	}
	if family == irr.FamilyIPv6 && p.Addr().Is4() {
		return errors.Errorf("aggregate: %s is not an IPv6 prefix", p)
	}
	return nil
}
