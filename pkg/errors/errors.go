// Package errors provides structured error handling for tracelane.
// It implements coded errors with context and stack traces.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Error codes for programmatic handling
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound     Code = "E101"
	CodeFilePermission   Code = "E102"
	CodeInvalidFormat    Code = "E103"
	CodeMissingField     Code = "E104"
	CodeInvalidTimestamp Code = "E105"

	// Analysis errors (2xx)
	CodeEmptyLog             Code = "E201"
	CodeInconsistentWorkflow Code = "E202"
	CodeUnknownJob           Code = "E203"

	// Output errors (3xx)
	CodeWriteFailed  Code = "E301"
	CodeRenderFailed Code = "E302"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeTimeout         Code = "E402"

	// Unknown
	CodeUnknown Code = "E999"
)

// TraceError is the base error type for all tracelane errors.
type TraceError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
// Context keys are printed in sorted order so messages are stable.
func (e *TraceError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *TraceError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *TraceError) Is(target error) bool {
	if t, ok := target.(*TraceError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *TraceError) WithContext(key string, value interface{}) *TraceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new TraceError.
func New(code Code, message string) *TraceError {
	return &TraceError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *TraceError {
	if err == nil {
		return nil
	}

	return &TraceError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *TraceError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *TraceError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *TraceError {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// MissingField creates an error for a required JSON field that is absent.
func MissingField(field string, line int64) *TraceError {
	return New(CodeMissingField, "required field not found").
		WithContext("field", field).
		WithContext("line", line)
}

// InvalidTimestamp creates a timestamp parsing error.
func InvalidTimestamp(value string, line int64) *TraceError {
	return New(CodeInvalidTimestamp, "failed to parse timestamp").
		WithContext("value", value).
		WithContext("line", line)
}

// EmptyLog reports a trace without any timestamped event.
func EmptyLog(source string) *TraceError {
	return New(CodeEmptyLog, "no timestamped events, time origin undefined").
		WithContext("source", source)
}

// InconsistentWorkflow reports a descriptor field that is not constant
// across the trace.
func InconsistentWorkflow(key string, values []string) *TraceError {
	return New(CodeInconsistentWorkflow, "inconsistent workflow descriptor values").
		WithContext("key", key).
		WithContext("values", values)
}

// UnknownJob reports an event row whose job has no descriptor.
func UnknownJob(jobID, event string) *TraceError {
	return New(CodeUnknownJob, "event references a job without descriptor").
		WithContext("job", jobID).
		WithContext("event", event)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *TraceError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var tErr *TraceError
	if errors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var tErr *TraceError
	if errors.As(err, &tErr) {
		return tErr.Code
	}
	return CodeUnknown
}

// IsFatal returns true if the error aborts an analysis run.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeEmptyLog, CodeInconsistentWorkflow, CodeUnknownJob, CodeInvalidTimestamp:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
