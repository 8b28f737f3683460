// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a domain-level error code
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeValidation
	ErrCodePayloadTooLarge
	ErrCodeUnsupportedMediaType
	ErrCodeConflict
	ErrCodeNotFound
	ErrCodeForbidden
	ErrCodeGone
	ErrCodeStorage
	ErrCodeStateTransition
	ErrCodeRetryExhausted
	ErrCodeBusy
	ErrCodeInternal
)

var codeNames = map[ErrorCode]string{
	ErrCodeNone:                 "NONE",
	ErrCodeValidation:           "VALIDATION_ERROR",
	ErrCodePayloadTooLarge:      "PAYLOAD_TOO_LARGE",
	ErrCodeUnsupportedMediaType: "UNSUPPORTED_MEDIA_TYPE",
	ErrCodeConflict:             "CONFLICT",
	ErrCodeNotFound:             "NOT_FOUND",
	ErrCodeForbidden:            "FORBIDDEN",
	ErrCodeGone:                 "GONE",
	ErrCodeStorage:              "STORAGE_ERROR",
	ErrCodeStateTransition:      "STATE_TRANSITION_ERROR",
	ErrCodeRetryExhausted:       "RETRY_EXHAUSTED",
	ErrCodeBusy:                 "BUSY",
	ErrCodeInternal:             "INTERNAL_ERROR",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error represents a domain-level error
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error to the status the API answers with.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case ErrCodeConflict, ErrCodeStateTransition:
		return http.StatusConflict
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeGone:
		return http.StatusGone
	case ErrCodeBusy:
		return http.StatusServiceUnavailable
	case ErrCodeStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error constructors

func newValidationError(msg string) *Error {
	return &Error{Code: ErrCodeValidation, Message: msg}
}

func newTooLargeError(msg string) *Error {
	return &Error{Code: ErrCodePayloadTooLarge, Message: msg}
}

func newUnsupportedTypeError(contentType string) *Error {
	return &Error{
		Code:    ErrCodeUnsupportedMediaType,
		Message: fmt.Sprintf("content type %q is not allowed", contentType),
	}
}

func newConflictError(msg string) *Error {
	return &Error{Code: ErrCodeConflict, Message: msg}
}

func newNotFoundError(resource string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

func newForbiddenError() *Error {
	return &Error{Code: ErrCodeForbidden, Message: "access denied"}
}

func newGoneError(resource string) *Error {
	return &Error{Code: ErrCodeGone, Message: fmt.Sprintf("%s is no longer available", resource)}
}

func newStorageError(op string, err error) *Error {
	return &Error{Code: ErrCodeStorage, Message: "object store " + op + " failed", Err: err}
}

func newBusyError() *Error {
	return &Error{Code: ErrCodeBusy, Message: "upload workers are saturated, retry later"}
}

func newInternalError(err error) *Error {
	return &Error{Code: ErrCodeInternal, Message: "internal error", Err: err}
}

// CodeOf returns the ErrorCode carried by err, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsValidation reports whether err is rejected input (any 4xx input code).
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case ErrCodeValidation, ErrCodePayloadTooLarge, ErrCodeUnsupportedMediaType:
		return true
	}
	return false
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsForbidden checks if an error is an ownership mismatch
func IsForbidden(err error) bool {
	return CodeOf(err) == ErrCodeForbidden
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict
}

// IsBusy checks if the async pool rejected the submission
func IsBusy(err error) bool {
	return CodeOf(err) == ErrCodeBusy
}
