package runtime

import (
	"fmt"
	"strings"

	"github.com/browserbase/functions/internal/domain"
)

// Fallbacks used when a failure value carries no usable message or type.
const (
	unknownErrorMessage = "An unknown error occurred"
	unknownErrorType    = "UnknownError"
)

// Error is a handler failure with an explicit type and stack. Handlers may
// return one directly to control the shape reported to the caller; anything
// else is normalized with defaults.
type Error struct {
	Message string
	Type    string
	Stack   []string
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Normalize converts an arbitrary failure value — an error, a recovered
// panic value, a string, anything — into the wire RuntimeError shape with
// all three fields present.
//
// Rules: a usable message is taken from the value (Error(), the string
// itself, or fmt.Sprint), falling back to a documented default; the type is
// the *Error type, the concrete Go error type name, or "UnknownError"; the
// stack is taken only from values that carry one.
func Normalize(v any) domain.RuntimeError {
	switch val := v.(type) {
	case nil:
		return domain.RuntimeError{
			ErrorMessage: unknownErrorMessage,
			ErrorType:    unknownErrorType,
			StackTrace:   []string{},
		}
	case *Error:
		out := domain.RuntimeError{
			ErrorMessage: val.Message,
			ErrorType:    val.Type,
			StackTrace:   val.Stack,
		}
		if out.ErrorMessage == "" {
			out.ErrorMessage = unknownErrorMessage
		}
		if out.ErrorType == "" {
			out.ErrorType = unknownErrorType
		}
		if out.StackTrace == nil {
			out.StackTrace = []string{}
		}
		return out
	case error:
		msg := val.Error()
		if msg == "" {
			msg = unknownErrorMessage
		}
		return domain.RuntimeError{
			ErrorMessage: msg,
			ErrorType:    typeName(val),
			StackTrace:   []string{},
		}
	case string:
		if val == "" {
			val = unknownErrorMessage
		}
		return domain.RuntimeError{
			ErrorMessage: val,
			ErrorType:    unknownErrorType,
			StackTrace:   []string{},
		}
	default:
		return domain.RuntimeError{
			ErrorMessage: fmt.Sprint(val),
			ErrorType:    unknownErrorType,
			StackTrace:   []string{},
		}
	}
}

// typeName derives an error type tag from a concrete Go type, stripping the
// pointer marker and package path: *fs.PathError becomes "PathError".
func typeName(err error) string {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "errorString" || name == "wrapError" || name == "" {
		return "Error"
	}
	return name
}

// splitStack splits a raw stack dump into lines for the wire format. The
// split is on "\n" and is lossy when the original stack had no newlines —
// such a stack becomes a single-element slice.
func splitStack(raw string) []string {
	raw = strings.TrimRight(raw, "\n")
	if raw == "" {
		return []string{}
	}
	return strings.Split(raw, "\n")
}
