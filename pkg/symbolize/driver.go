package symbolize

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/samber/lo"
	"github.com/vietanhduong/symbolize-trace/pkg/resolver"
	"github.com/vietanhduong/symbolize-trace/pkg/trace"
)

// Driver runs symbolization over a loaded trace, one process at a
// time. Processes missing either a memory map or a frame table are
// skipped; a region overlap aborts the whole run.
type Driver struct {
	client resolver.Client
}

func NewDriver(client resolver.Client) *Driver {
	return &Driver{client: client}
}

// Run symbolizes every eligible process in ascending pid order and
// reports whether any frame was rewritten.
func (d *Driver) Run(tr *trace.Trace) (bool, error) {
	var mutated bool
	for _, p := range tr.Processes() {
		if !p.Symbolizable() {
			glog.V(1).Infof("pid %d (%s): missing memory map or stack frames, skipping", p.Pid, p.Name)
			continue
		}
		changed, err := d.runProcess(p)
		if err != nil {
			return mutated, fmt.Errorf("pid %d (%s): %w", p.Pid, p.Name, err)
		}
		mutated = mutated || changed
	}
	return mutated, nil
}

func (d *Driver) runProcess(p *trace.Process) (bool, error) {
	index, err := BuildRegionIndex(p.Regions)
	if err != nil {
		return false, err
	}

	table := NewStackFrameTable(p)
	pending := table.Pending()
	if len(pending) == 0 {
		glog.V(1).Infof("pid %d (%s): no unresolved frames", p.Pid, p.Name)
		return false, nil
	}

	addrs := lo.Map(pending, func(fa FrameAddr, _ int) uint64 { return fa.Addr })
	res := NewCoordinator(d.client, index).Run(addrs)
	changed := table.ApplySymbols(res.Resolved)

	glog.Infof("pid %d (%s): %d frames pending, %d resolved, %d failed, %d outside mapped regions",
		p.Pid, p.Name, len(pending), len(res.Resolved), len(res.Failed), res.Unmapped)
	for _, fs := range res.Files {
		if fs.Skipped {
			glog.Infof("  %s: skipped, %d addresses unresolved", fs.Path, fs.Failed)
			continue
		}
		glog.V(1).Infof("  %s: %d resolved, %d failed", fs.Path, fs.Resolved, fs.Failed)
	}
	return changed, nil
}
