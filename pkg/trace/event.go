package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed marks trace input that cannot be mapped onto the
// consumed schema. Everything the scanner does not consume passes
// through untouched, so hitting this means the fields we do need are
// broken.
var ErrMalformed = errors.New("malformed trace")

const (
	phaseMetadata   = "M"
	phaseMemoryDump = "v"

	eventProcessName = "process_name"
	eventStackFrames = "stackFrames"
)

// envelope is the minimal per-event view used while scanning. The full
// event stays around as raw bytes so unknown fields survive a rewrite.
type envelope struct {
	Pid  int64           `json:"pid"`
	Ph   string          `json:"ph"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// StackFrame is one captured backtrace entry. Only the name field is
// interpreted; every other field is kept as raw JSON and re-emitted
// verbatim when the frame table is rewritten.
type StackFrame struct {
	Name string

	extra map[string]json.RawMessage
}

func (f *StackFrame) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["name"]; ok {
		if err := json.Unmarshal(raw, &f.Name); err != nil {
			return fmt.Errorf("frame name: %w", err)
		}
		delete(fields, "name")
	}
	f.extra = fields
	return nil
}

func (f *StackFrame) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(f.extra)+1)
	for k, v := range f.extra {
		fields[k] = v
	}
	name, err := json.Marshal(f.Name)
	if err != nil {
		return nil, err
	}
	fields["name"] = name
	return json.Marshal(fields)
}

// VMRegion is one mapped range from a process_mmaps snapshot. The
// container encodes addresses as hex strings.
type VMRegion struct {
	Start uint64
	Size  uint64
	File  string
}

func (r *VMRegion) UnmarshalJSON(data []byte) error {
	var raw struct {
		Sa string `json:"sa"`
		Sz string `json:"sz"`
		Mf string `json:"mf"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if r.Start, err = ParseAddress(raw.Sa); err != nil {
		return fmt.Errorf("%w: vm_region start %q: %v", ErrMalformed, raw.Sa, err)
	}
	if r.Size, err = ParseAddress(raw.Sz); err != nil {
		return fmt.Errorf("%w: vm_region size %q: %v", ErrMalformed, raw.Sz, err)
	}
	r.File = raw.Mf
	return nil
}

// ParseAddress converts a hex string in either 0xabc123 or bare abc123
// form into an integer.
func ParseAddress(addr string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(addr, "0x"), 16, 64)
}
