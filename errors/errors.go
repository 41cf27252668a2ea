// Package errors defines the error handling used by all of this
// module's packages: a composable Error type carrying the operation,
// the actor, and a classified Kind callers can branch on without
// string matching.
package errors

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"

	"veilnet.io/log"
)

// Error is the type implementing the error interface for this module.
// Any field may be left at its zero value.
type Error struct {
	// ShareID is the share the operation concerned, if any.
	ShareID string
	// UserID is the user attempting the operation, if any.
	UserID string
	// Op is the operation being performed, usually a "pkg.Func" label.
	Op string
	// Kind classifies the error for programmatic handling.
	Kind Kind
	// Err is the underlying error that triggered this one, if any.
	Err error
}

var zeroErr Error

// Separator divides nested errors when printed.
var Separator = ":\n\t"

// Kind classifies an error so callers can branch on its category
// without string matching.
type Kind uint8

const (
	Other Kind = iota

	// Input errors: returned to the caller, never retried.
	InvalidPath
	PathEscapesRoot
	FolderNotOwned
	UnknownShareID
	BadPassword

	// Integrity errors: the specific segment/article is discarded;
	// retrieval fails over to redundancy copies.
	HashMismatch
	GCMTagFailure
	SignatureInvalid
	ReconstructionFailure

	// Transient network errors: retried with backoff.
	PoolExhausted
	ConnectTimeout
	ReadTimeout
	NNTPTempFailure

	// Permanent network errors: no retry.
	NNTPPermFailure
	AuthRejected

	// Resource errors: operation aborts, state is recoverable.
	DiskFull
	OutOfMemory

	// Identity/key management errors.
	NoSuchUser
	NoSuchFolder
	KeyWrapFailure
	PermissionDenied
	AuthFailure
	Unreachable

	// Segment processor errors.
	SegmentOversize
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case InvalidPath:
		return "invalid path"
	case PathEscapesRoot:
		return "path escapes root"
	case FolderNotOwned:
		return "folder not owned by user"
	case UnknownShareID:
		return "unknown share id"
	case BadPassword:
		return "bad password"
	case HashMismatch:
		return "content hash mismatch"
	case GCMTagFailure:
		return "gcm tag verification failed"
	case SignatureInvalid:
		return "signature invalid"
	case ReconstructionFailure:
		return "reconstruction failed"
	case PoolExhausted:
		return "connection pool exhausted"
	case ConnectTimeout:
		return "connect timeout"
	case ReadTimeout:
		return "read timeout"
	case NNTPTempFailure:
		return "nntp temporary failure"
	case NNTPPermFailure:
		return "nntp permanent failure"
	case AuthRejected:
		return "authentication rejected"
	case DiskFull:
		return "disk full"
	case OutOfMemory:
		return "out of memory"
	case NoSuchUser:
		return "no such user"
	case NoSuchFolder:
		return "no such folder"
	case KeyWrapFailure:
		return "key wrap failure"
	case PermissionDenied:
		return "permission denied"
	case AuthFailure:
		return "authentication failure"
	case Unreachable:
		return "service unreachable"
	case SegmentOversize:
		return "segment oversize"
	}
	return "unknown error kind"
}

// Transient reports whether a Kind is in the class of errors that
// should be retried with backoff rather than surfaced to the caller.
func (k Kind) Transient() bool {
	switch k {
	case PoolExhausted, ConnectTimeout, ReadTimeout, NNTPTempFailure:
		return true
	}
	return false
}

// E builds an error value from its arguments. The type of each argument
// determines its meaning:
//
//	string      the operation being performed ("pkg.Func")
//	Kind        the class of error
//	error       the underlying error that triggered this one
//
// Two string-typed conveniences are recognized by prefix so callers
// don't need dedicated types for every identifier: "user:<id>" and
// "share:<id>" set UserID/ShareID respectively.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			switch {
			case strings.HasPrefix(arg, "user:"):
				e.UserID = strings.TrimPrefix(arg, "user:")
			case strings.HasPrefix(arg, "share:"):
				e.ShareID = strings.TrimPrefix(arg, "share:")
			default:
				e.Op = arg
			}
		case Kind:
			e.Kind = arg
		case *Error:
			cp := *arg
			e.Err = &cp
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.L().Errorf("errors.E: bad call from %s:%d: %v", file, line, args)
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}
	if prev.ShareID == e.ShareID {
		prev.ShareID = ""
	}
	if prev.UserID == e.UserID {
		prev.UserID = ""
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

func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.ShareID != "" {
		b.WriteString("share ")
		b.WriteString(e.ShareID)
	}
	if e.UserID != "" {
		pad(b, ", ")
		b.WriteString("user ")
		b.WriteString(e.UserID)
	}
	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(e.Op)
	}
	if e.Kind != 0 {
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

// Unwrap allows errors.Is/As to traverse into the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err's Kind (or any wrapped *Error's Kind) matches k.
func Is(k Kind, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind == k {
		return true
	}
	return Is(k, e.Err)
}

// errorString is a trivial error implementation for Str/Errorf.
type errorString struct{ s string }

func (e *errorString) Error() string { return e.s }

// Str returns an error that formats as the given text, suitable as the
// error-typed argument to E.
func Str(text string) error {
	return &errorString{text}
}

// Errorf is equivalent to fmt.Errorf but returns a value usable
// directly as an argument to E.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}
