package djlink

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures across the observer.
type ErrorCode int

const (
	// ErrDecode indicates a malformed or truncated packet.
	ErrDecode ErrorCode = iota + 1

	// ErrSession indicates a connect failure, timeout or protocol mismatch
	// talking to a player's database service.
	ErrSession

	// ErrQueueOverflow indicates an update was dropped because a finder's
	// queue was full.
	ErrQueueOverflow

	// ErrConfiguration indicates API misuse: an invalid capacity or a resize
	// while running.
	ErrConfiguration

	// ErrNotRunning indicates an operation that needs a started component.
	ErrNotRunning

	// ErrNotFound indicates the remote service has no such content.
	ErrNotFound
)

func (c ErrorCode) String() string {
	switch c {
	case ErrDecode:
		return "Decode"
	case ErrSession:
		return "Session"
	case ErrQueueOverflow:
		return "QueueOverflow"
	case ErrConfiguration:
		return "Configuration"
	case ErrNotRunning:
		return "NotRunning"
	case ErrNotFound:
		return "NotFound"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// Error is the error type returned across package boundaries.
type Error struct {
	Code    ErrorCode
	Message string
	Player  DeviceID
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Player != 0 {
		msg += fmt.Sprintf(" (player %d)", e.Player)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewDecodeError reports a packet that cannot be decoded.
func NewDecodeError(format string, args ...any) *Error {
	return &Error{Code: ErrDecode, Message: fmt.Sprintf(format, args...)}
}

// NewSessionError wraps a failure talking to player.
func NewSessionError(player DeviceID, message string, err error) *Error {
	return &Error{Code: ErrSession, Message: message, Player: player, Err: err}
}

// NewQueueOverflowError reports a dropped update for player.
func NewQueueOverflowError(player DeviceID, capacity int) *Error {
	return &Error{
		Code:    ErrQueueOverflow,
		Message: fmt.Sprintf("update queue full (%d entries), update dropped", capacity),
		Player:  player,
	}
}

// NewConfigurationError reports invalid configuration or API misuse.
func NewConfigurationError(format string, args ...any) *Error {
	return &Error{Code: ErrConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewNotRunningError reports use of a stopped component.
func NewNotRunningError(component string) *Error {
	return &Error{Code: ErrNotRunning, Message: component + " is not running"}
}

// NewNotFoundError reports content the player does not have.
func NewNotFoundError(player DeviceID, what string) *Error {
	return &Error{Code: ErrNotFound, Message: what + " not available", Player: player}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsDecodeError reports whether err is a decode failure.
func IsDecodeError(err error) bool { return hasCode(err, ErrDecode) }

// IsSessionError reports whether err is a session failure.
func IsSessionError(err error) bool { return hasCode(err, ErrSession) }

// IsQueueOverflowError reports whether err is a dropped update.
func IsQueueOverflowError(err error) bool { return hasCode(err, ErrQueueOverflow) }

// IsConfigurationError reports whether err is a configuration error.
func IsConfigurationError(err error) bool { return hasCode(err, ErrConfiguration) }

// IsNotRunningError reports whether err came from a stopped component.
func IsNotRunningError(err error) bool { return hasCode(err, ErrNotRunning) }

// IsNotFoundError reports whether the remote service lacked the content.
func IsNotFoundError(err error) bool { return hasCode(err, ErrNotFound) }
