package resolver

import (
	"github.com/ianlancetaylor/demangle"
)

// Handler receives the outcome of one submitted address. ok is false
// when the resolver has no symbol for the address; token is the
// correlation token the submission carried.
type Handler func(name string, ok bool, token uint64)

// Session is one bounded set of asynchronous resolution requests
// against a single binary.
type Session interface {
	// SubmitAsync queues a module-relative address for resolution and
	// returns immediately. The session handler is invoked exactly once
	// per submission, in an unspecified order.
	SubmitAsync(offset, token uint64)
	// Join blocks until the handler has fired for every submission.
	// After Join returns no further handler invocation occurs and the
	// session must be discarded.
	Join()
}

// Client opens resolution sessions bound to binary files.
type Client interface {
	OpenSession(binary string, handler Handler) (Session, error)
}

type DemangleType string

const (
	DemangleNone       DemangleType = "NONE"
	DemangleSimplified DemangleType = "SIMPLIFIED"
	DemangleTemplates  DemangleType = "TEMPLATES"
	DemangleFull       DemangleType = "FULL"
)

func (dt DemangleType) ToOptions() []demangle.Option {
	switch dt {
	case DemangleNone:
		return nil
	case DemangleSimplified:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams}
	case DemangleTemplates:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams}
	default:
		return []demangle.Option{demangle.NoClones}
	}
}

func (dt DemangleType) filter() func(string) string {
	if dt == DemangleNone {
		return func(name string) string { return name }
	}
	opts := dt.ToOptions()
	return func(name string) string { return demangle.Filter(name, opts...) }
}
