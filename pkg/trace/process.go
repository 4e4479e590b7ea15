package trace

import (
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
)

// Process accumulates everything the scanner learns about one pid.
// Frames and Regions are nil until the corresponding event is seen;
// symbolization needs both.
type Process struct {
	Pid     int64
	Name    string
	Frames  map[string]*StackFrame
	Regions []VMRegion

	frameEvent int
	dirty      bool
}

// Symbolizable reports whether the process carries both a memory map
// and a stack frame table. Processes missing either are excluded from
// symbolization entirely; that is not an error condition.
func (p *Process) Symbolizable() bool { return p.Frames != nil && p.Regions != nil }

// MarkDirty records that at least one frame name was rewritten, so the
// owning stackFrames event must be re-encoded on save.
func (p *Process) MarkDirty() { p.dirty = true }

func (t *Trace) process(pid int64) *Process {
	p, ok := t.procs[pid]
	if !ok {
		p = &Process{Pid: pid, frameEvent: -1}
		t.procs[pid] = p
	}
	return p
}

func (t *Trace) scanEvent(idx int, raw json.RawMessage) error {
	var ev envelope
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("%w: event %d: %v", ErrMalformed, idx, err)
	}
	switch {
	case ev.Ph == phaseMetadata && ev.Name == eventProcessName:
		var args struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(ev.Args, &args); err != nil {
			return fmt.Errorf("%w: event %d (process_name): %v", ErrMalformed, idx, err)
		}
		t.process(ev.Pid).Name = args.Name

	case ev.Ph == phaseMetadata && ev.Name == eventStackFrames:
		var args struct {
			StackFrames map[string]*StackFrame `json:"stackFrames"`
		}
		if err := json.Unmarshal(ev.Args, &args); err != nil {
			return fmt.Errorf("%w: event %d (stackFrames): %v", ErrMalformed, idx, err)
		}
		if args.StackFrames == nil {
			glog.Warningf("Event %d: stackFrames metadata without a frame table", idx)
			return nil
		}
		p := t.process(ev.Pid)
		p.Frames = args.StackFrames
		p.frameEvent = idx

	case ev.Ph == phaseMemoryDump:
		var args struct {
			Dumps struct {
				ProcessMmaps struct {
					VMRegions *[]VMRegion `json:"vm_regions"`
				} `json:"process_mmaps"`
			} `json:"dumps"`
		}
		if err := json.Unmarshal(ev.Args, &args); err != nil {
			return fmt.Errorf("%w: event %d (memory dump): %v", ErrMalformed, idx, err)
		}
		// The most recent snapshot carrying vm_regions wins. Dumps
		// without one leave the previous snapshot in place.
		if regions := args.Dumps.ProcessMmaps.VMRegions; regions != nil {
			t.process(ev.Pid).Regions = *regions
		}
	}
	return nil
}
