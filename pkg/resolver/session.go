package resolver

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/glog"
)

const unknownSymbol = "??"

type request struct {
	offset uint64
	token  uint64
}

// session funnels submissions through a single worker goroutine that
// owns the helper's stdin/stdout, so replies are matched to requests
// by order without any shared mutable state. The WaitGroup is the join
// barrier: Done is only called after the handler returns, so Join
// cannot observe a half-delivered completion.
type session struct {
	handler  Handler
	demangle func(string) string

	stdin  io.Writer
	stdout *bufio.Reader

	reqs     chan request
	wg       sync.WaitGroup
	once     sync.Once
	shutdown func()

	broken bool
}

func newSession(handler Handler, dm func(string) string, stdin io.Writer, stdout *bufio.Reader) *session {
	if dm == nil {
		dm = func(name string) string { return name }
	}
	this := &session{
		handler:  handler,
		demangle: dm,
		stdin:    stdin,
		stdout:   stdout,
		reqs:     make(chan request, 128),
	}
	go this.worker()
	return this
}

func (s *session) SubmitAsync(offset, token uint64) {
	s.wg.Add(1)
	s.reqs <- request{offset: offset, token: token}
}

func (s *session) Join() {
	s.wg.Wait()
	s.once.Do(func() {
		close(s.reqs)
		if s.shutdown != nil {
			s.shutdown()
		}
	})
}

func (s *session) worker() {
	for req := range s.reqs {
		s.resolve(req)
		s.wg.Done()
	}
}

func (s *session) resolve(req request) {
	name, err := s.query(req.offset)
	if err != nil {
		// The helper is gone; fail this and every remaining
		// submission instead of blocking the join.
		if !s.broken {
			glog.Warningf("Resolver pipe broke: %v", err)
			s.broken = true
		}
		s.handler("", false, req.token)
		return
	}
	if name == "" || name == unknownSymbol {
		s.handler("", false, req.token)
		return
	}
	s.handler(s.demangle(name), true, req.token)
}

func (s *session) query(offset uint64) (string, error) {
	if s.broken {
		return "", fmt.Errorf("resolver unavailable")
	}
	if _, err := fmt.Fprintf(s.stdin, "0x%x\n", offset); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}
	name, err := s.readLine() // function name
	if err != nil {
		return "", fmt.Errorf("read symbol: %w", err)
	}
	if _, err := s.readLine(); err != nil { // file:line, unused
		return "", fmt.Errorf("read location: %w", err)
	}
	return name, nil
}

func (s *session) readLine() (string, error) {
	line, err := s.stdout.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
