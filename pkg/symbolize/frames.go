package symbolize

import (
	"strings"

	"github.com/vietanhduong/symbolize-trace/pkg/trace"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Unresolved frame names look like "pc:0x7f32c411" (the 0x may be
// omitted). Anything else is either already resolved or unrelated
// metadata and is left alone.
const placeholderPrefix = "pc:"

// FrameAddr pairs a frame id with the raw address its placeholder
// name encodes.
type FrameAddr struct {
	ID   string
	Addr uint64
}

// StackFrameTable wraps one process's captured backtrace frames and
// rewrites resolved names in place.
type StackFrameTable struct {
	proc *trace.Process
}

func NewStackFrameTable(p *trace.Process) *StackFrameTable {
	return &StackFrameTable{proc: p}
}

// Pending recomputes, from current frame state, every frame still
// holding an address placeholder. Frames resolved by a previous
// ApplySymbols no longer appear. Order is by frame id, so repeated
// calls over unchanged state agree.
func (t *StackFrameTable) Pending() []FrameAddr {
	ids := maps.Keys(t.proc.Frames)
	slices.Sort(ids)
	var ret []FrameAddr
	for _, id := range ids {
		if addr, ok := parsePlaceholder(t.proc.Frames[id].Name); ok {
			ret = append(ret, FrameAddr{ID: id, Addr: addr})
		}
	}
	return ret
}

// ApplySymbols overwrites the name of every pending frame whose
// address has an entry in names, leaving all other frame data
// untouched, and reports whether anything changed.
func (t *StackFrameTable) ApplySymbols(names map[uint64]string) bool {
	if len(names) == 0 {
		return false
	}
	var changed bool
	for _, fa := range t.Pending() {
		sym, ok := names[fa.Addr]
		if !ok {
			continue
		}
		t.proc.Frames[fa.ID].Name = sym
		changed = true
	}
	if changed {
		t.proc.MarkDirty()
	}
	return changed
}

func parsePlaceholder(name string) (uint64, bool) {
	hex, ok := strings.CutPrefix(name, placeholderPrefix)
	if !ok {
		return 0, false
	}
	addr, err := trace.ParseAddress(hex)
	if err != nil {
		return 0, false
	}
	return addr, true
}
