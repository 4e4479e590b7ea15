package resolver

import (
	"bufio"
	"fmt"
	"os/exec"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// DefaultBinary is looked up on PATH when no explicit symbolizer path
// is configured.
const DefaultBinary = "addr2line"

// Locate returns the symbolizer binary to use. An explicit path must
// exist and be executable; with none given, DefaultBinary is searched
// on PATH. Failure here is fatal for the run.
func Locate(explicit string) (string, error) {
	if explicit != "" {
		if err := unix.Access(explicit, unix.X_OK); err != nil {
			return "", fmt.Errorf("symbolizer binary %s: %w", explicit, err)
		}
		return explicit, nil
	}
	path, err := exec.LookPath(DefaultBinary)
	if err != nil {
		return "", fmt.Errorf("locate %s: %w", DefaultBinary, err)
	}
	return path, nil
}

// Addr2Line drives an addr2line-compatible helper: one subprocess per
// session, a hex address per stdin line, two stdout lines per answer
// (function name, then file:line).
type Addr2Line struct {
	path     string
	demangle func(string) string
}

func New(path string, dt DemangleType) *Addr2Line {
	return &Addr2Line{path: path, demangle: dt.filter()}
}

func (c *Addr2Line) OpenSession(binary string, handler Handler) (Session, error) {
	cmd := exec.Command(c.path, "-f", "-e", binary)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.path, err)
	}
	glog.V(2).Infof("Opened resolver session for %s", binary)

	this := newSession(handler, c.demangle, stdin, bufio.NewReader(stdout))
	this.shutdown = func() {
		stdin.Close()
		if err := cmd.Wait(); err != nil {
			glog.Warningf("Resolver for %s exited: %v", binary, err)
		}
	}
	return this, nil
}
