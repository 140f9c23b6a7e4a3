package milter

import (
	"errors"
	"fmt"
)

var (
	// ErrCommunication matches transport faults: short reads and writes,
	// timeouts, malformed or oversized frames, replies that make no sense
	// for the current event.
	ErrCommunication = errors.New("milter: communication error")

	// ErrConfiguration matches contract mismatches: bad protocol settings,
	// incompatible negotiation replies, malformed reply codes or edits.
	ErrConfiguration = errors.New("milter: configuration error")
)

// ErrorKind classifies an Error.
type ErrorKind int

const (
	KindCommunication ErrorKind = iota + 1
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindCommunication:
		return "communication"
	case KindConfiguration:
		return "configuration"
	}
	return "unknown"
}

// Error is recorded by a ClientSession when it gives up on a filter.
type Error struct {
	Kind ErrorKind
	// Op is the protocol step that failed, e.g. "negotiate" or "SMFIC_RCPT".
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("milter: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an Error against ErrCommunication and
// ErrConfiguration.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrCommunication:
		return e.Kind == KindCommunication
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	}
	return false
}

func commError(op string, err error) *Error {
	return &Error{Kind: KindCommunication, Op: op, Err: err}
}

func confError(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

func commErrorf(op, format string, args ...interface{}) *Error {
	return commError(op, fmt.Errorf(format, args...))
}

func confErrorf(op, format string, args ...interface{}) *Error {
	return confError(op, fmt.Errorf(format, args...))
}
