// Package errors provides enhanced error handling for the camera HAL.
// It wraps standard errors with component, category and key-value
// context so that log output and metrics can tell a validation failure
// apart from a device fault without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCategory classifies where in the HAL an error originated.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryDevice        ErrorCategory = "device"
	CategoryBuffer        ErrorCategory = "buffer"
	CategorySession       ErrorCategory = "session"
	CategoryPipeline      ErrorCategory = "pipeline"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryState         ErrorCategory = "state"
	CategoryGeneric       ErrorCategory = "generic"
)

// Result kinds. These are the sentinel values handlers return through
// reply slots and callers match with errors.Is.
var (
	// ErrInvalidOperation reports an operation that is not legal in the
	// current session state.
	ErrInvalidOperation = stderrors.New("invalid operation in current state")

	// ErrBadValue reports a rejected parameter or argument.
	ErrBadValue = stderrors.New("bad value")

	// ErrStaleBuffer reports a buffer whose session tag no longer
	// matches the pool's current session. Expected during teardown
	// races, never escalated.
	ErrStaleBuffer = stderrors.New("stale buffer")

	// ErrDevice reports a capture device ioctl or I/O failure.
	ErrDevice = stderrors.New("device error")

	// ErrNoMemory reports a failed buffer memory acquisition.
	ErrNoMemory = stderrors.New("out of memory")

	// ErrAlreadyAllocated reports an Allocate on a pool that already
	// holds buffers.
	ErrAlreadyAllocated = stderrors.New("buffers already allocated")

	// ErrNotAllocated reports buffer access before allocation.
	ErrNotAllocated = stderrors.New("buffers not allocated")

	// ErrCancelled resolves the reply slot of a command that was
	// removed from the queue before the consumer saw it.
	ErrCancelled = stderrors.New("cancelled")

	// ErrInvalidUsage reports a message-channel contract violation,
	// such as a blocking send on a kind with no reply slot.
	ErrInvalidUsage = stderrors.New("invalid usage")

	// ErrDeadObject reports a handle that refers to memory the HAL no
	// longer owns.
	ErrDeadObject = stderrors.New("dead object")
)

// EnhancedError carries an underlying error plus HAL metadata.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Timestamp time.Time

	component string
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// Is lets errors.Is match both wrapped sentinels and other enhanced
// errors of the same category.
func (e *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return e.Category == other.Category
	}
	return stderrors.Is(e.Err, target)
}

// Component returns the component recorded at build time, or "unknown".
func (e *EnhancedError) Component() string {
	if e.component == "" {
		return "unknown"
	}
	return e.component
}

// Context returns a copy of the key-value context.
func (e *EnhancedError) Context() map[string]any {
	if e.context == nil {
		return nil
	}
	out := make(map[string]any, len(e.context))
	for k, v := range e.context {
		out[k] = v
	}
	return out
}

// LogFields flattens the error into slog-friendly key-value pairs.
func (e *EnhancedError) LogFields() []any {
	fields := []any{
		"component", e.Component(),
		"category", string(e.Category),
	}
	for k, v := range e.context {
		fields = append(fields, k, v)
	}
	return fields
}

// ErrorBuilder assembles an EnhancedError fluently:
//
//	errors.New(err).Component("device").Category(errors.CategoryDevice).
//		Context("fd", fd).Build()
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts building from an existing error. Passing an already
// enhanced error returns a builder seeded with its metadata so that
// re-wrapping does not lose context.
func New(err error) *ErrorBuilder {
	if ee, ok := err.(*EnhancedError); ok {
		return &ErrorBuilder{
			err:       ee.Err,
			component: ee.component,
			category:  ee.Category,
			context:   ee.Context(),
		}
	}
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf starts building from a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component records the reporting component.
func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.component = name
	return b
}

// Category classifies the error.
func (b *ErrorBuilder) Category(c ErrorCategory) *ErrorBuilder {
	b.category = c
	return b
}

// Context adds one key-value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the enhanced error. A missing component is filled in
// from the caller's package path.
func (b *ErrorBuilder) Build() error {
	component := b.component
	if component == "" {
		component = callerComponent()
	}
	return &EnhancedError{
		Err:       b.err,
		Category:  b.category,
		Timestamp: time.Now(),
		component: component,
		context:   b.context,
	}
}

// callerComponent walks a few frames up and extracts the internal
// package name of the first caller outside this package.
func callerComponent() string {
	pcs := make([]uintptr, 8)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		fn := frame.Function
		if fn != "" && !strings.Contains(fn, "/internal/errors.") {
			if idx := strings.Index(fn, "/internal/"); idx >= 0 {
				rest := fn[idx+len("/internal/"):]
				if dot := strings.IndexByte(rest, '.'); dot > 0 {
					return rest[:dot]
				}
			}
			return "unknown"
		}
		if !more {
			return "unknown"
		}
	}
}

// Standard library pass-throughs so callers need a single import.

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
