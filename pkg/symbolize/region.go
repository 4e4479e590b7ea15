package symbolize

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vietanhduong/symbolize-trace/pkg/trace"
	"golang.org/x/exp/slices"
)

// ErrOverlap marks two distinct memory regions claiming the same
// address range. That only happens on corrupt input, so building the
// index fails instead of guessing which mapping to trust.
var ErrOverlap = errors.New("overlapping memory regions")

// Region is a contiguous mapped range backed by one binary file.
type Region struct {
	Start uint64
	Size  uint64
	File  string
}

// End returns the first address past the region.
func (r Region) End() uint64 { return r.Start + r.Size }

func (r Region) String() string {
	return fmt.Sprintf("%s 0x%x-0x%x", r.File, r.Start, r.End())
}

// RegionIndex answers point-containment queries over a validated,
// sorted, non-overlapping set of regions. Read-only once built.
type RegionIndex struct {
	regions []Region
}

// BuildRegionIndex validates and indexes one process's vm_regions
// snapshot. Exact duplicate records collapse to a single entry;
// regions that merely touch (prev end == next start) are accepted.
func BuildRegionIndex(raw []trace.VMRegion) (*RegionIndex, error) {
	regions := make([]Region, len(raw))
	for i, r := range raw {
		regions[i] = Region{Start: r.Start, Size: r.Size, File: r.File}
	}
	slices.SortStableFunc(regions, func(a, b Region) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	kept := regions[:0]
	for _, r := range regions {
		if len(kept) > 0 {
			prev := kept[len(kept)-1]
			if r == prev {
				continue
			}
			if r.Start < prev.End() {
				return nil, fmt.Errorf("%w: %s intersects %s", ErrOverlap, r, prev)
			}
		}
		kept = append(kept, r)
	}
	return &RegionIndex{regions: kept}, nil
}

// Len returns the number of distinct regions in the index.
func (x *RegionIndex) Len() int { return len(x.regions) }

// Lookup returns the region covering addr, if any.
func (x *RegionIndex) Lookup(addr uint64) (Region, bool) {
	// Rightmost region starting at or below addr.
	i := sort.Search(len(x.regions), func(i int) bool { return x.regions[i].Start > addr })
	if i == 0 {
		return Region{}, false
	}
	if r := x.regions[i-1]; addr < r.End() {
		return r, true
	}
	return Region{}, false
}
