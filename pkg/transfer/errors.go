package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/pkg/sftp"

	"plexmover/pkg/sshpool"
)

type ErrorKind string

const (
	KindAuthentication     ErrorKind = "authentication"
	KindConnectionLost     ErrorKind = "connection_lost"
	KindIOError            ErrorKind = "io_error"
	KindSizeMismatch       ErrorKind = "size_mismatch"
	KindChecksumMismatch   ErrorKind = "checksum_mismatch"
	KindTimeout            ErrorKind = "timeout"
	KindCancelled          ErrorKind = "cancelled"
	KindLocalSourceMissing ErrorKind = "local_source_missing"
	KindInvalidDestination ErrorKind = "invalid_destination"
)

// Error carries the classified kind alongside the cause so the retry
// coordinator can decide whether another attempt is worth anything.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the classified kind from an error chain, falling back to a
// fresh classification of the raw error.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return classify(err)
}

// classify maps raw transport errors onto the taxonomy.
func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}

	var ae *sshpool.AuthError
	if errors.As(err, &ae) {
		return KindAuthentication
	}

	if errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, sftp.ErrSSHFxNoConnection) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return KindConnectionLost
	}
	if errors.Is(err, sftp.ErrSSHFxPermissionDenied) ||
		errors.Is(err, sftp.ErrSSHFxNoSuchFile) {
		return KindInvalidDestination
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnectionLost
	}

	return KindIOError
}

// IsRetryable reports whether another attempt may succeed. Size and checksum
// mismatches are treated as transient corruption; authentication failures,
// cancellation and job-scoped terminal conditions are not worth retrying.
func IsRetryable(kind ErrorKind) bool {
	switch kind {
	case KindConnectionLost, KindIOError, KindTimeout, KindSizeMismatch, KindChecksumMismatch:
		return true
	default:
		return false
	}
}

// taintsSession reports whether the underlying channel may be in an
// indeterminate state after this failure, requiring a fresh connection.
func taintsSession(kind ErrorKind) bool {
	switch kind {
	case KindConnectionLost, KindTimeout, KindCancelled:
		return true
	default:
		return false
	}
}
