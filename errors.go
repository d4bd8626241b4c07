package orthanc

import (
	"errors"
	"fmt"
)

// Application error codes.
const (
	ECONFLICT     = "conflict"
	EINTERNAL     = "internal"
	EINVALID      = "invalid"
	ENOTFOUND     = "not_found"
	EUNAUTHORIZED = "unauthorized"
	EBULKFAILED   = "bulk_failed"
	EMODIFICATION = "modification_failed"
)

// Error represents an application-specific error. Application errors can be
// unwrapped by the caller to extract out the code & message.
type Error struct {
	// Machine-readable error code.
	Code string

	// Human-readable message.
	Message string
}

// Error implements the error interface. Not used by the application otherwise.
func (e *Error) Error() string {
	return fmt.Sprintf("orthanc error: code=%s message=%s", e.Code, e.Message)
}

// ErrorCode unwraps an application error and returns its code.
// Non-application errors always return EINTERNAL.
func ErrorCode(err error) string {
	var e *Error
	var m *ModificationError
	if err == nil {
		return ""
	} else if errors.As(err, &m) {
		return EMODIFICATION
	} else if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage unwraps an application error and returns its message.
// Non-application errors always return "Internal error".
func ErrorMessage(err error) string {
	var e *Error
	if err == nil {
		return ""
	} else if errors.As(err, &e) {
		return e.Message
	}
	return "Internal error."
}

// Errorf is a helper function to return an Error with a given code and
// formatted message.
func Errorf(code string, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsNotFound reports whether err means an identifier did not resolve on the
// server.
func IsNotFound(err error) bool {
	return ErrorCode(err) == ENOTFOUND
}

// ModificationFailureReason discriminates why a bulk modification yielded no
// result.
type ModificationFailureReason int

const (
	// ModifyRejected means the server refused or failed the request itself.
	ModifyRejected ModificationFailureReason = iota + 1

	// ModifyStudyCountChanged means the response did not name exactly one study.
	ModifyStudyCountChanged

	// ModifySeriesCountChanged means the response series count differs from the
	// snapshot's series count.
	ModifySeriesCountChanged

	// ModifyInstanceCountChanged means the response instance count differs from
	// the snapshot's instance count.
	ModifyInstanceCountChanged
)

func (r ModificationFailureReason) String() string {
	switch r {
	case ModifyRejected:
		return "rejected by server"
	case ModifyStudyCountChanged:
		return "study count changed"
	case ModifySeriesCountChanged:
		return "series count changed"
	case ModifyInstanceCountChanged:
		return "instance count changed"
	default:
		return "unknown"
	}
}

// ModificationError is returned by InstancesSet.Modify when the modification
// produced no usable result, either because the server rejected the request
// or because the response described a different resource topology than the
// snapshot (e.g. merged series), which would corrupt the snapshot invariant.
type ModificationError struct {
	Reason ModificationFailureReason
	Detail string
	Err    error
}

func (e *ModificationError) Error() string {
	msg := fmt.Sprintf("bulk modification failed: %s", e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModificationError) Unwrap() error {
	return e.Err
}
