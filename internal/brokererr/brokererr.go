// Package brokererr defines the error kinds the request processor and its
// collaborators return. Every error kind is a (code, message) pair
// rather than a bare sentinel, so that it survives the processor/
// transport boundary without losing its classification.
package brokererr

import "fmt"

// Code identifies one of the error kinds a Result may carry.
type Code string

const (
	Succeeded Code = "Succeeded"
	Pending Code = "Pending"
	Failed Code = "Failed"

	InvalidCollectionError Code = "InvalidCollectionError"
	CollectionAlreadyExistsError Code = "CollectionAlreadyExistsError"
	InvalidSecretError Code = "InvalidSecretError"
	SecretAlreadyExistsError Code = "SecretAlreadyExistsError"
	InvalidFilterError Code = "InvalidFilterError"
	InvalidExtensionPluginError Code = "InvalidExtensionPluginError"

	CollectionIsLockedError Code = "CollectionIsLockedError"
	IncorrectAuthenticationCodeError Code = "IncorrectAuthenticationCodeError"
	SecretsDaemonLockedError Code = "SecretsDaemonLockedError"

	OperationRequiresUserInteraction Code = "OperationRequiresUserInteraction"
	OperationRequiresApplicationUserInteraction Code = "OperationRequiresApplicationUserInteraction"
	InteractionViewUserCanceledError Code = "InteractionViewUserCanceledError"

	PermissionsError Code = "PermissionsError"
	OperationNotSupportedError Code = "OperationNotSupportedError"
	InterleavedRequestError Code = "InterleavedRequestError"
	UnknownError Code = "UnknownError"
)

// Error is the processor's carried (code, message) error.
type Error struct {
	Code Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is allows errors.Is(err, New(SomeCode, "")) to match on code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New constructs an *Error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Message: msg}
}

// Retryable reports whether the client can retry the request unchanged.
// InterleavedRequestError is the only retryable kind.
func (e *Error) Retryable() bool {
	return e.Code == InterleavedRequestError
}

// Succeed is a convenience for the zero-value success result.
func Succeed() *Error { return &Error{Code: Succeeded} }

// Ok reports whether this error represents success.
func (e *Error) Ok() bool { return e == nil || e.Code == Succeeded }
