package common

import (
	"errors"
	"fmt"
	"strings"

	"pipesnap/internal/psnap"
)

// Error represents the library error object.
type Error struct {
	Code    psnap.Status
	Sev     psnap.ErrSeverity
	Dev     psnap.DevID
	HasDev  bool
	Message string
	Err     error
}

func NewError(sev psnap.ErrSeverity, code psnap.Status) *Error {
	return &Error{
		Code: code,
		Sev:  sev,
	}
}

func NewErrorMsg(sev psnap.ErrSeverity, code psnap.Status, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Message: msg,
	}
}

// Errorf builds an error-severity Error with a formatted message.
func Errorf(code psnap.Status, format string, args ...any) *Error {
	return NewErrorMsg(psnap.ErrSevError, code, fmt.Sprintf(format, args...))
}

// DevErrorf builds an error-severity Error tagged with a device.
func DevErrorf(dev psnap.DevID, code psnap.Status, format string, args ...any) *Error {
	e := Errorf(code, format, args...)
	e.Dev = dev
	e.HasDev = true
	return e
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code psnap.Status, format string, args ...any) *Error {
	e := Errorf(code, format, args...)
	e.Err = err
	return e
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	switch e.Sev {
	case psnap.ErrSevError:
		sb.WriteString("ERROR:")
	case psnap.ErrSevWarn:
		sb.WriteString("WARN :")
	case psnap.ErrSevInfo:
		sb.WriteString("INFO :")
	default:
		return "LIBRARY INTERNAL ERROR: Invalid Error Object"
	}

	sb.WriteString(fmt.Sprintf("0x%04x ", e.Code))

	if desc, ok := errorCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("(%s) [%s]; ", desc.name, desc.msg))
	} else {
		sb.WriteString("(unknown); ")
	}

	if e.HasDev {
		sb.WriteString(fmt.Sprintf("Dev=%d; ", e.Dev))
	}

	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the status code carried by err, OK for nil and
// ErrUnexpected for errors that did not originate in this library.
func CodeOf(err error) psnap.Status {
	if err == nil {
		return psnap.OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return psnap.ErrUnexpected
}

// StatusName returns the symbolic name of a status code.
func StatusName(code psnap.Status) string {
	if desc, ok := errorCodeDesc[code]; ok {
		return desc.name
	}
	return "UNKNOWN"
}

type errDesc struct {
	name string
	msg  string
}

var errorCodeDesc = map[psnap.Status]errDesc{
	psnap.OK:                {"SNAP_OK", "No Error."},
	psnap.ErrInvalidArg:     {"SNAP_INVALID_ARG", "Invalid argument."},
	psnap.ErrAlreadyExists:  {"SNAP_ALREADY_EXISTS", "Object already exists."},
	psnap.ErrNotSupported:   {"SNAP_NOT_SUPPORTED", "Operation not supported."},
	psnap.ErrObjectNotFound: {"SNAP_OBJECT_NOT_FOUND", "Object not found."},
	psnap.ErrNoSysResources: {"SNAP_NO_SYS_RESOURCES", "Not enough system resources."},
	psnap.ErrUnexpected:     {"SNAP_UNEXPECTED", "Unexpected internal state."},
	psnap.ErrHwAccess:       {"SNAP_HW_ACCESS", "Register access failed."},
}
