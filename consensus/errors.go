package consensus

import (
	"errors"
	"fmt"
)

// ErrorKind is one of the error kinds named below. It is a taxonomy for
// callers to branch on (log-and-continue vs. fatal), not a Go error type.
type ErrorKind string

const (
	ErrNetwork            ErrorKind = "Network"
	ErrSerialization      ErrorKind = "Serialization"
	ErrInvalidMessage     ErrorKind = "InvalidMessage"
	ErrInvalidSignature   ErrorKind = "InvalidSignature"
	ErrInvalidQC          ErrorKind = "InvalidQC"
	ErrInvalidBlock       ErrorKind = "InvalidBlock"
	ErrStorageFailure     ErrorKind = "StorageFailure"
	ErrPoolFull           ErrorKind = "PoolFull"
	ErrDuplicateTx        ErrorKind = "DuplicateTransaction"
	ErrInvalidTransaction ErrorKind = "InvalidTransaction"
	ErrTimer              ErrorKind = "Timer"
	ErrConsensusSafety    ErrorKind = "ConsensusSafety"
	ErrNotRunning         ErrorKind = "NotRunning"
	ErrAlreadyStarted     ErrorKind = "AlreadyStarted"
)

// ConsensusError is a typed, taggable error: callers branch on Kind without
// parsing Error() strings.
type ConsensusError struct {
	Kind ErrorKind
	Msg  string
}

func (e *ConsensusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func cerr(kind ErrorKind, format string, args ...any) error {
	return &ConsensusError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a
// *ConsensusError, and reports whether one was found.
func KindOf(err error) (ErrorKind, bool) {
	var ce *ConsensusError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
