// Package errors defines the engine's error taxonomy (ConfigError, IOError,
// ProtocolError) on top of github.com/pkg/errors, matching the wrapping
// idiom the rest of this codebase uses.
package errors

import (
	"github.com/pkg/errors"
)

// re-exported so callers only need to import this package for both
// construction (errors.Errorf, errors.Wrapf) and classification
// (errors.Is, errors.Cause).
var (
	New    = errors.New
	Errorf = errors.Errorf
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Is     = errors.Is
	Cause  = errors.Cause
)

// ConfigError reports an invalid partition count, a missing index, or a
// header mismatch. Surfaced at construction; there is no recovery.
type ConfigError struct {
	cause error
}

// NewConfigError wraps cause as a ConfigError.
func NewConfigError(cause error) error {
	return &ConfigError{cause: cause}
}

func (e *ConfigError) Error() string { return "config error: " + e.cause.Error() }
func (e *ConfigError) Unwrap() error { return e.cause }

// IOError reports a read failure on the graph file. Fatal: the engine
// aborts after flushing logs because a missing adjacency corrupts
// semantics.
type IOError struct {
	cause error
}

// NewIOError wraps cause as an IOError.
func NewIOError(cause error) error {
	return &IOError{cause: cause}
}

func (e *IOError) Error() string { return "io error: " + e.cause.Error() }
func (e *IOError) Unwrap() error { return e.cause }

// ProtocolError reports a vertex program returning an illegal transition,
// e.g. HasRequiredVertices returned true but GetNextRequest yielded
// nothing (§7). In strict mode it propagates out of the owning worker and
// aborts the engine run via the supervised goroutine tree; otherwise the
// worker logs it and skips the offending vertex.
type ProtocolError struct {
	cause error
}

// NewProtocolError wraps cause as a ProtocolError.
func NewProtocolError(cause error) error {
	return &ProtocolError{cause: cause}
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.cause.Error() }
func (e *ProtocolError) Unwrap() error { return e.cause }

// IsConfigError reports whether err (or one it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsIOError reports whether err (or one it wraps) is an IOError.
func IsIOError(err error) bool {
	var target *IOError
	return errors.As(err, &target)
}

// IsProtocolError reports whether err (or one it wraps) is a ProtocolError.
func IsProtocolError(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}
