package oru

import (
	"context"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// ErrorCode identifies the type of error for programmatic handling.
type ErrorCode int

const (
	// ErrCodeUnknown indicates an unknown or unclassified error.
	ErrCodeUnknown ErrorCode = iota

	// ErrCodeParse indicates an address could not be parsed.
	ErrCodeParse

	// ErrCodeDialFailed indicates a dial could not be issued.
	ErrCodeDialFailed

	// ErrCodeBootstrapFailed indicates the address exchange with the
	// introducer did not complete.
	ErrCodeBootstrapFailed

	// ErrCodeReservationFailed indicates the relay refused or failed to
	// grant a reservation.
	ErrCodeReservationFailed

	// ErrCodeRegistrationFailed indicates the rendezvous node rejected the
	// registration.
	ErrCodeRegistrationFailed

	// ErrCodeDiscoveryFailed indicates the discovery request failed.
	ErrCodeDiscoveryFailed

	// ErrCodeNodeBusy indicates the node is already held by a connection.
	ErrCodeNodeBusy

	// ErrCodeInvalidConfig indicates the configuration is invalid.
	ErrCodeInvalidConfig

	// ErrCodeListenFailed indicates a listener could not be opened.
	ErrCodeListenFailed

	// ErrCodeContextCanceled indicates the operation was cancelled via context.
	ErrCodeContextCanceled

	// ErrCodeNodeClosed indicates the node has been closed.
	ErrCodeNodeClosed

	// ErrCodeInternal indicates a broken internal invariant.
	ErrCodeInternal
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknown:
		return "Unknown"
	case ErrCodeParse:
		return "Parse"
	case ErrCodeDialFailed:
		return "DialFailed"
	case ErrCodeBootstrapFailed:
		return "BootstrapFailed"
	case ErrCodeReservationFailed:
		return "ReservationFailed"
	case ErrCodeRegistrationFailed:
		return "RegistrationFailed"
	case ErrCodeDiscoveryFailed:
		return "DiscoveryFailed"
	case ErrCodeNodeBusy:
		return "NodeBusy"
	case ErrCodeInvalidConfig:
		return "InvalidConfig"
	case ErrCodeListenFailed:
		return "ListenFailed"
	case ErrCodeContextCanceled:
		return "ContextCanceled"
	case ErrCodeNodeClosed:
		return "NodeClosed"
	case ErrCodeInternal:
		return "Internal"
	default:
		return fmt.Sprintf("ErrorCode(%d)", c)
	}
}

// Error represents an oru error with rich context.
// It provides structured information for programmatic error handling.
type Error struct {
	// Code identifies the type of error.
	Code ErrorCode

	// Message is a human-readable description of the error.
	Message string

	// PeerID is the peer associated with the error, if any.
	PeerID peer.ID

	// Cause is the underlying error, if any.
	Cause error

	// Retriable indicates whether the operation can be retried.
	Retriable bool
}

// Error returns a human-readable error message.
func (e *Error) Error() string {
	msg := e.Message
	if e.PeerID != "" {
		msg = fmt.Sprintf("%s (peer %s)", msg, e.PeerID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("oru: %s: %v", msg, e.Cause)
	}
	return fmt.Sprintf("oru: %s", msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// Two oru errors are considered equal if they have the same error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsRetriable returns true if the error indicates a retriable operation.
func IsRetriable(err error) bool {
	var oErr *Error
	if errors.As(err, &oErr) {
		return oErr.Retriable
	}
	return false
}

// IsFatal reports whether err should terminate the process. Context
// cancellation is a normal shutdown and is not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var oErr *Error
	if errors.As(err, &oErr) {
		return oErr.Code != ErrCodeContextCanceled
	}
	return !errors.Is(err, context.Canceled)
}

// ErrorCodeOf returns the code of err, or ErrCodeUnknown if err is not an
// oru error.
func ErrorCodeOf(err error) ErrorCode {
	var oErr *Error
	if errors.As(err, &oErr) {
		return oErr.Code
	}
	return ErrCodeUnknown
}

// NewError creates a new oru Error with the given code and message.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewPeerError creates a new oru Error associated with a specific peer.
func NewPeerError(code ErrorCode, message string, peerID peer.ID, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		PeerID:  peerID,
		Cause:   cause,
	}
}

// contextError converts a context error into an oru error.
func contextError(err error) *Error {
	return &Error{
		Code:    ErrCodeContextCanceled,
		Message: "operation cancelled",
		Cause:   err,
	}
}

// Sentinel errors, matched with errors.Is by code.
var (
	// ErrParse indicates an address could not be parsed.
	ErrParse = &Error{Code: ErrCodeParse, Message: "invalid address"}

	// ErrDialFailed indicates a dial could not be issued.
	ErrDialFailed = &Error{Code: ErrCodeDialFailed, Message: "dial failed"}

	// ErrBootstrapFailed indicates the address exchange did not complete.
	ErrBootstrapFailed = &Error{Code: ErrCodeBootstrapFailed, Message: "bootstrap failed"}

	// ErrReservationFailed indicates no relay reservation was obtained.
	ErrReservationFailed = &Error{Code: ErrCodeReservationFailed, Message: "relay reservation failed"}

	// ErrRegistrationFailed indicates the rendezvous registration failed.
	ErrRegistrationFailed = &Error{Code: ErrCodeRegistrationFailed, Message: "rendezvous registration failed"}

	// ErrDiscoveryFailed indicates the discovery request failed.
	ErrDiscoveryFailed = &Error{Code: ErrCodeDiscoveryFailed, Message: "rendezvous discovery failed"}

	// ErrNodeBusy indicates the node is already held by a connection.
	ErrNodeBusy = &Error{Code: ErrCodeNodeBusy, Message: "node is busy", Retriable: true}

	// ErrListenFailed indicates a listener could not be opened.
	ErrListenFailed = &Error{Code: ErrCodeListenFailed, Message: "listen failed"}

	// ErrNodeClosed indicates the node has been closed.
	ErrNodeClosed = &Error{Code: ErrCodeNodeClosed, Message: "node closed"}

	// ErrInternal indicates a broken internal invariant.
	ErrInternal = &Error{Code: ErrCodeInternal, Message: "internal error"}
)

// Sentinel errors for configuration.
var (
	// ErrInvalidConfig indicates the configuration is invalid.
	ErrInvalidConfig = &Error{Code: ErrCodeInvalidConfig, Message: "invalid configuration"}

	// ErrInvalidPrivateKey indicates the provided private key is invalid.
	ErrInvalidPrivateKey = errors.New("invalid private key")
)
