// Package errors defines the typed failures produced while enumerating,
// injecting into and calling into other processes.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindProcessNotFound
	KindAccessDenied
	KindSymbolNotFound
	KindInjectionFailed
	KindRemoteCallFailed
	KindAttributeQueryFailed
	KindAttributeRejected
	KindUnsupported
)

// String returns a string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindProcessNotFound:
		return "PROCESS_NOT_FOUND"
	case KindAccessDenied:
		return "ACCESS_DENIED"
	case KindSymbolNotFound:
		return "SYMBOL_NOT_FOUND"
	case KindInjectionFailed:
		return "INJECTION_FAILED"
	case KindRemoteCallFailed:
		return "REMOTE_CALL_FAILED"
	case KindAttributeQueryFailed:
		return "ATTRIBUTE_QUERY_FAILED"
	case KindAttributeRejected:
		return "ATTRIBUTE_REJECTED"
	case KindUnsupported:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified failure with the operation and target it concerns.
type Error struct {
	Op      string            // operation name
	Kind    Kind              // failure classification
	PID     uint32            // target process, zero when not applicable
	Handle  uintptr           // target window, zero when not applicable
	Context map[string]string // additional context information
	Err     error             // underlying error
}

func (e *Error) Error() string {
	if e == nil {
		return "invisiwind error"
	}

	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Kind != KindUnknown {
		parts = append(parts, "kind="+e.Kind.String())
	}
	if e.PID != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.PID))
	}
	if e.Handle != 0 {
		parts = append(parts, fmt.Sprintf("hwnd=%#x", e.Handle))
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Context[k]))
		}
	}

	suffix := ""
	if len(parts) > 0 {
		suffix = " [" + strings.Join(parts, " ") + "]"
	}
	if e.Err != nil {
		return e.Err.Error() + suffix
	}
	return strings.ToLower(strings.ReplaceAll(e.Kind.String(), "_", " ")) + suffix
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind. It lets callers
// match against the sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext returns a copy of e carrying an extra key/value pair.
func (e *Error) WithContext(key, value string) *Error {
	ctx := make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	cp := *e
	cp.Context = ctx
	return &cp
}

// Sentinels for errors.Is.
var (
	ErrProcessNotFound      = &Error{Kind: KindProcessNotFound}
	ErrAccessDenied         = &Error{Kind: KindAccessDenied}
	ErrSymbolNotFound       = &Error{Kind: KindSymbolNotFound}
	ErrInjectionFailed      = &Error{Kind: KindInjectionFailed}
	ErrRemoteCallFailed     = &Error{Kind: KindRemoteCallFailed}
	ErrAttributeQueryFailed = &Error{Kind: KindAttributeQueryFailed}
	ErrAttributeRejected    = &Error{Kind: KindAttributeRejected}
	ErrUnsupported          = &Error{Kind: KindUnsupported, Err: errors.ErrUnsupported}
)

// New creates a classified error.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// ForProcess creates a classified error concerning process pid.
func ForProcess(op string, kind Kind, pid uint32, err error) *Error {
	return &Error{Op: op, Kind: kind, PID: pid, Err: err}
}

// ForWindow creates a classified error concerning window handle in process pid.
func ForWindow(op string, kind Kind, pid uint32, handle uintptr, err error) *Error {
	return &Error{Op: op, Kind: kind, PID: pid, Handle: handle, Err: err}
}

// Unsupported reports that op has no implementation on this platform.
func Unsupported(op string) *Error {
	return &Error{Op: op, Kind: KindUnsupported, Err: errors.ErrUnsupported}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsProcessNotFound reports whether err means the target process is gone.
func IsProcessNotFound(err error) bool { return KindOf(err) == KindProcessNotFound }

// IsAccessDenied reports whether err is an access denial.
func IsAccessDenied(err error) bool { return KindOf(err) == KindAccessDenied }

// IsSymbolNotFound reports whether err is a missing payload export.
func IsSymbolNotFound(err error) bool { return KindOf(err) == KindSymbolNotFound }

// IsConfiguration reports whether err points at a broken installation rather
// than at the target: a missing or mismatched payload.
func IsConfiguration(err error) bool {
	switch KindOf(err) {
	case KindSymbolNotFound, KindUnsupported:
		return true
	}
	return false
}
