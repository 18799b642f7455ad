package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind tells the gateway whether a failure is worth retrying.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindTerminal
)

func (k ErrorKind) String() string {
	if k == KindTerminal {
		return "terminal"
	}
	return "transient"
}

var (
	// ErrMalformedOutput is returned when a successful run prints something
	// that is not the expected JSON payload.
	ErrMalformedOutput = errors.New("malformed executor output")
	// ErrScriptNotFound is returned when the compiled operation script is missing.
	ErrScriptNotFound = errors.New("executor script not found")
)

// Substrings that mark a failure as permanent. Matched case-insensitively.
var terminalMarkers = []string{
	"usage:",
	"invalid",
	"no liquidity",
	"simulation failed",
}

// ClassifyMessage maps a failure message to an ErrorKind.
func ClassifyMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	for _, marker := range terminalMarkers {
		if strings.Contains(lower, marker) {
			return KindTerminal
		}
	}
	return KindTransient
}

// OperationError describes a failed external operation.
type OperationError struct {
	Operation string
	Kind      ErrorKind
	Message   string
	Stderr    string
	Attempts  int
	Err       error
}

func (e *OperationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %s (after %d attempts)", e.Operation, msg, e.Attempts)
	}
	return fmt.Sprintf("%s: %s", e.Operation, msg)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as not retryable regardless of its message.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// Classify returns the kind of an arbitrary error. Errors marked with
// Terminal always win. Typed errors keep their kind, timeouts are transient
// and anything else is classified by message.
func Classify(err error) ErrorKind {
	var term *terminalError
	if errors.As(err, &term) {
		return KindTerminal
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	if errors.Is(err, ErrMalformedOutput) || errors.Is(err, ErrScriptNotFound) {
		return KindTerminal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return ClassifyMessage(err.Error())
}

// IsTerminal reports whether err should not be retried.
func IsTerminal(err error) bool {
	return err != nil && Classify(err) == KindTerminal
}
