package session

import (
	"sort"

	"github.com/go-delve/memview/pkg/backend"
)

// addrRange is an inclusive range of addresses.
type addrRange struct {
	start, end backend.Address
}

// rangeSet is a sorted list of disjoint inclusive address ranges.
type rangeSet []addrRange

// newRangeSet returns the set of addresses [base, base+size] of every
// module. Overlapping and adjacent ranges are merged.
func newRangeSet(mods []backend.ModuleInfo) rangeSet {
	rs := make(rangeSet, 0, len(mods))
	for _, m := range mods {
		rs = append(rs, addrRange{m.Base, m.End()})
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].start < rs[j].start })

	merged := rs[:0]
	for _, r := range rs {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if r.start <= last.end || r.start-1 == last.end {
				if r.end > last.end {
					last.end = r.end
				}
				continue
			}
		}
		merged = append(merged, r)
	}
	return merged
}

// contains reports whether addr is in one of the ranges.
func (rs rangeSet) contains(addr backend.Address) bool {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].end >= addr })
	return i < len(rs) && rs[i].start <= addr
}
