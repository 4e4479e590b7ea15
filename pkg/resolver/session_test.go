package resolver

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

type captured struct {
	mu       sync.Mutex
	resolved map[uint64]string
	failed   map[uint64]bool
}

func capture() (*captured, Handler) {
	c := &captured{resolved: make(map[uint64]string), failed: make(map[uint64]bool)}
	return c, func(name string, ok bool, token uint64) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ok {
			c.resolved[token] = name
		} else {
			c.failed[token] = true
		}
	}
}

// fakeHelper speaks the addr2line protocol over pipes: one request
// line in, a symbol line and a location line out.
func fakeHelper(t *testing.T, replies map[string]string) (io.Writer, *bufio.Reader) {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		defer respW.Close()
		sc := bufio.NewScanner(reqR)
		for sc.Scan() {
			name, ok := replies[sc.Text()]
			if !ok {
				name = "??"
			}
			fmt.Fprintf(respW, "%s\n??:0\n", name)
		}
	}()
	return reqW, bufio.NewReader(respR)
}

func TestSessionResolve(t *testing.T) {
	stdin, stdout := fakeHelper(t, map[string]string{
		"0x500": "_Z3foov",
		"0x600": "bar",
	})
	got, handler := capture()

	s := newSession(handler, DemangleFull.filter(), stdin, stdout)
	s.SubmitAsync(0x500, 0x1500)
	s.SubmitAsync(0x600, 0x1600)
	s.SubmitAsync(0x700, 0x1700) // helper has no symbol
	s.Join()

	want := map[uint64]string{0x1500: "foo()", 0x1600: "bar"}
	if diff := cmp.Diff(want, got.resolved); diff != "" {
		t.Errorf("resolved mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[uint64]bool{0x1700: true}, got.failed)
}

func TestSessionNoDemangle(t *testing.T) {
	stdin, stdout := fakeHelper(t, map[string]string{"0x500": "_Z3foov"})
	got, handler := capture()

	s := newSession(handler, DemangleNone.filter(), stdin, stdout)
	s.SubmitAsync(0x500, 0x1500)
	s.Join()

	assert.Equal(t, map[uint64]string{0x1500: "_Z3foov"}, got.resolved)
}

func TestSessionBrokenPipeFailsRemaining(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		sc := bufio.NewScanner(reqR)
		first := true
		for sc.Scan() {
			if first {
				fmt.Fprint(respW, "foo\n/a.c:1\n")
				first = false
				respW.Close()
			}
		}
	}()

	got, handler := capture()
	s := newSession(handler, nil, reqW, bufio.NewReader(respR))
	s.SubmitAsync(0x100, 0x1100)
	s.SubmitAsync(0x200, 0x1200)
	s.SubmitAsync(0x300, 0x1300)
	s.Join()

	assert.Equal(t, map[uint64]string{0x1100: "foo"}, got.resolved)
	assert.Equal(t, map[uint64]bool{0x1200: true, 0x1300: true}, got.failed,
		"submissions after a pipe failure must still complete as failed")
}

func TestSessionJoinBarrier(t *testing.T) {
	stdin, stdout := fakeHelper(t, map[string]string{"0x500": "foo"})
	got, handler := capture()

	s := newSession(handler, nil, stdin, stdout)
	const n = 64
	for i := uint64(0); i < n; i++ {
		s.SubmitAsync(0x500, i)
	}
	s.Join()

	// Every callback has fired by the time Join returns; no lock is
	// needed to observe the full result set.
	assert.Len(t, got.resolved, n)
}
