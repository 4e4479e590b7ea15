package trace

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// BackupSuffix is appended to the original file name before an
// in-place rewrite.
const BackupSuffix = ".BACKUP"

// Trace holds one loaded trace container. Top-level fields and events
// outside the consumed schema are retained as raw JSON and written
// back byte-for-byte.
type Trace struct {
	path   string
	root   map[string]json.RawMessage
	events []json.RawMessage
	procs  map[int64]*Process
}

// Load reads and scans a trace container. Files ending in .gz are
// transparently decompressed.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if compressed(path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip trace %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	this := &Trace{path: path, procs: make(map[int64]*Process)}
	if err := json.NewDecoder(r).Decode(&this.root); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformed, path, err)
	}
	raw, ok := this.root["traceEvents"]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no traceEvents", ErrMalformed, path)
	}
	if err := json.Unmarshal(raw, &this.events); err != nil {
		return nil, fmt.Errorf("%w: traceEvents is not an array: %v", ErrMalformed, err)
	}
	for i, ev := range this.events {
		if err := this.scanEvent(i, ev); err != nil {
			return nil, err
		}
	}
	glog.V(1).Infof("Loaded %s: %d events, %d processes", path, len(this.events), len(this.procs))
	return this, nil
}

// Path returns the file the trace was loaded from.
func (t *Trace) Path() string { return t.path }

// Processes returns every process seen in the trace, ascending pid.
func (t *Trace) Processes() []*Process {
	pids := maps.Keys(t.procs)
	slices.Sort(pids)
	ret := make([]*Process, len(pids))
	for i, pid := range pids {
		ret[i] = t.procs[pid]
	}
	return ret
}

// Save rewrites the trace in place, re-encoding only the stackFrames
// events whose frame table was mutated. With backup set, the original
// is first renamed to path+BackupSuffix. Compression follows the file
// extension, so it is preserved across a rewrite.
func (t *Trace) Save(backup bool) error {
	for _, p := range t.procs {
		if !p.dirty || p.frameEvent < 0 {
			continue
		}
		if err := t.encodeFrameEvent(p); err != nil {
			return fmt.Errorf("re-encode frames of pid %d: %w", p.Pid, err)
		}
	}
	events, err := json.Marshal(t.events)
	if err != nil {
		return fmt.Errorf("encode traceEvents: %w", err)
	}
	t.root["traceEvents"] = events

	if backup {
		if err := os.Rename(t.path, t.path+BackupSuffix); err != nil {
			return fmt.Errorf("back up trace: %w", err)
		}
		glog.Infof("Backed up original trace to %s%s", t.path, BackupSuffix)
	}

	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	if compressed(t.path) {
		gz := gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}
	if err := json.NewEncoder(w).Encode(t.root); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

func (t *Trace) encodeFrameEvent(p *Process) error {
	var ev map[string]json.RawMessage
	if err := json.Unmarshal(t.events[p.frameEvent], &ev); err != nil {
		return err
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(ev["args"], &args); err != nil {
		return err
	}
	frames, err := json.Marshal(p.Frames)
	if err != nil {
		return err
	}
	args["stackFrames"] = frames
	if ev["args"], err = json.Marshal(args); err != nil {
		return err
	}
	out, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	t.events[p.frameEvent] = out
	return nil
}

func compressed(path string) bool { return strings.HasSuffix(path, ".gz") }
