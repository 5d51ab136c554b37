// Package errors defines the error handling used across the RRDP cache.
package errors

import (
	"bytes"
	"fmt"
	"strings"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// Server is the notification URI of the publication point the error
	// concerns, if any.
	Server string
	// Op is the operation being performed, usually the name of the method
	// being invoked (Update, LoadFile, ...). It should not contain a colon.
	Op string
	// Kind is the class of error, or Other if its class is unknown or
	// irrelevant.
	Kind Kind
	// Err is the underlying error that triggered this one, if any.
	Err error
}

var (
	_       error = (*Error)(nil)
	zeroErr Error
)

// Separator is the string used to separate nested errors.
var Separator = ":\n\t"

// Kind defines the kind of error this is.
type Kind uint8

// Kinds of errors, per the core's error taxonomy.
const (
	Other             Kind = iota // Unclassified error; not printed if set.
	Transport                     // The fetcher returned a failure.
	DigestMismatch                // Local tree digest does not match the expected hash.
	DeltaInapplicable             // Session change, gap, overflow, or missing final delta.
	StateIO                       // State file read/write/format error.
	FsIO                          // Filesystem error during digest, staging, or rename.
	Unusable                      // The server is broken; callers must stop using it.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "unclassified error"
	case Transport:
		return "transport error"
	case DigestMismatch:
		return "digest mismatch"
	case DeltaInapplicable:
		return "delta update not applicable"
	case StateIO:
		return "state file error"
	case FsIO:
		return "filesystem error"
	case Unusable:
		return "server is unusable"
	}
	return "unknown error kind"
}

// E builds an error value from its arguments.
//
// The type of each argument determines its meaning. If more than one
// argument of a given type is presented, only the last one is recorded.
//
// The types are:
//
//	string
//		The first string is the operation being performed. Any
//		subsequent string is the server's notification URI.
//	errors.Kind
//		The class of error, such as a digest mismatch.
//	error
//		The underlying error that triggered this one.
//
// If Kind is not specified or Other, it is set to the Kind of the
// underlying error, if any.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	sawOp := false
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			if !sawOp {
				e.Op = arg
				sawOp = true
			} else {
				e.Server = arg
			}
		case Kind:
			e.Kind = arg
		case *Error:
			cp := *arg
			e.Err = &cp
		case error:
			e.Err = arg
		default:
			return Errorf("errors.E: bad call, unknown type %T, value %v", arg, arg)
		}
	}
	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	// The previous error was also one of ours. Suppress duplication so
	// the message won't contain the same server or kind twice.
	if prev.Server == e.Server {
		prev.Server = ""
	}
	if prev.Kind == e.Kind {
		prev.Kind = Other
	}
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}
	return e
}

// GetKind extracts the Kind of err, or Other if err is not an *Error.
func GetKind(err error) Kind {
	e, ok := err.(*Error)
	if !ok {
		return Other
	}
	return e.Kind
}

// pad appends str to the buffer if the buffer already has some data.
func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Server != "" {
		b.WriteString(e.Server)
	}
	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(e.Op)
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if prevErr, ok := e.Err.(*Error); ok {
			if *prevErr != zeroErr {
				pad(b, Separator)
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Str returns an error that formats as the given text. It is intended to be
// used as the error-typed argument to E.
func Str(text string) error {
	return &errorString{text}
}

type errorString struct {
	s string
}

func (e *errorString) Error() string {
	return e.s
}

// Errorf is equivalent to fmt.Errorf, but allows callers to import only
// this package for all error handling.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}

// Is reports whether err, or any error it wraps, has the given Kind.
func Is(kind Kind, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind == kind {
		return true
	}
	return Is(kind, e.Err)
}

// Match reports whether template's set fields match err's. It is meant for
// use in tests.
func Match(template, err error) bool {
	t, ok := template.(*Error)
	if !ok {
		return strings.Contains(err.Error(), template.Error())
	}
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if t.Server != "" && t.Server != e.Server {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	if t.Kind != Other && t.Kind != e.Kind {
		return false
	}
	if t.Err != nil {
		if e.Err == nil {
			return false
		}
		return Match(t.Err, e.Err)
	}
	return true
}
