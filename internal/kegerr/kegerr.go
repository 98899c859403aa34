// Package kegerr defines the error taxonomy shared by the storage core and
// the executor: ProtocolError, MalformedRecord, IoError, PoisonedLock and
// UnexpectedEOF. Callers distinguish them with errors.Is/errors.As; the
// executor uses that to decide whether a connection stays open or closes.
package kegerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies which of the five error categories an error belongs to.
type Kind uint8

const (
	KindProtocol Kind = iota + 1
	KindMalformedRecord
	KindIO
	KindPoisonedLock
	KindUnexpectedEOF
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindMalformedRecord:
		return "malformed_record"
	case KindIO:
		return "io"
	case KindPoisonedLock:
		return "poisoned_lock"
	case KindUnexpectedEOF:
		return "unexpected_eof"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so that callers can branch on
// category without string matching, while still getting a stack trace from
// pkg/errors when one is available.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error of the same Kind, so
// errors.Is(err, kegerr.Protocol("")) style checks work without comparing
// messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Protocol builds a ProtocolError: malformed request header, unknown verb,
// wrong arity, non-integer where an integer was required.
func Protocol(format string, args ...any) *Error {
	return newf(KindProtocol, nil, format, args...)
}

// MalformedRecord builds a MalformedRecord error: an on-disk or in-flight
// record failed to decode.
func MalformedRecord(cause error, format string, args ...any) *Error {
	return newf(KindMalformedRecord, errors.WithStack(cause), format, args...)
}

// IO builds an IoError: a WAL append or segment flush failed.
func IO(cause error, format string, args ...any) *Error {
	return newf(KindIO, errors.WithStack(cause), format, args...)
}

// PoisonedLock builds a PoisonedLock error, signaling a writer panicked
// while holding the memtable or segment-store lock.
func PoisonedLock(format string, args ...any) *Error {
	return newf(KindPoisonedLock, nil, format, args...)
}

// UnexpectedEOF builds the sentinel used to signal that the connection
// closed in the middle of a command (a clean close between commands is
// plain io.EOF); the executor treats this specially and never turns it
// into an `[error]` reply.
func UnexpectedEOF() *Error {
	return newf(KindUnexpectedEOF, nil, "connection closed")
}

// Is* helpers let callers branch without importing the Kind constants.
func IsProtocol(err error) bool        { return hasKind(err, KindProtocol) }
func IsMalformedRecord(err error) bool { return hasKind(err, KindMalformedRecord) }
func IsIO(err error) bool              { return hasKind(err, KindIO) }
func IsPoisonedLock(err error) bool    { return hasKind(err, KindPoisonedLock) }
func IsUnexpectedEOF(err error) bool   { return hasKind(err, KindUnexpectedEOF) }

func hasKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
