package ffi

import (
	"sync"

	"github.com/hazyhaar/kreuzberg/kerr"
)

// Status values returned by functions with a C-style integer result.
// StatusOK means success; any other value is StatusFromCode of the failure.
const StatusOK int32 = 0

// StatusFromCode maps an error code to its non-zero status.
func StatusFromCode(c kerr.Code) int32 { return int32(c) + 1 }

// CodeFromStatus is the inverse of StatusFromCode. ok is false for StatusOK
// and out-of-range values.
func CodeFromStatus(status int32) (c kerr.Code, ok bool) {
	c = kerr.Code(status - 1)
	return c, status != StatusOK && c.Valid()
}

type lastError struct {
	msg  string
	code kerr.Code
}

// errs holds the last error per caller, keyed by tid: the OS thread id on
// Linux and Windows, the goroutine id elsewhere. Goroutines migrate between
// threads, so Go callers pin with runtime.LockOSThread around a call and
// the LastError read that follows it. cgo entry points already run on a
// locked thread.
var errs sync.Map // int -> lastError

// setError records err for the calling thread and returns its status.
func setError(err error) int32 {
	c := kerr.CodeOf(err)
	errs.Store(tid(), lastError{msg: err.Error(), code: c})
	return StatusFromCode(c)
}

// LastError returns the message of the calling thread's last error. ok is
// false when none is set.
func LastError() (msg string, ok bool) {
	v, ok := errs.Load(tid())
	if !ok {
		return "", false
	}
	return v.(lastError).msg, true
}

// LastErrorCode returns the status of the calling thread's last error, or
// StatusOK when none is set.
func LastErrorCode() int32 {
	v, ok := errs.Load(tid())
	if !ok {
		return StatusOK
	}
	return StatusFromCode(v.(lastError).code)
}

// ClearError drops the calling thread's error state.
func ClearError() {
	errs.Delete(tid())
}

// ErrorCodeName returns the snake_case name of a code, or "unknown".
func ErrorCodeName(code int32) string { return kerr.Code(code).Name() }

// ErrorCodeDescription returns a human-readable description of a code.
func ErrorCodeDescription(code int32) string { return kerr.Code(code).Description() }

// ErrorCodeCount returns the number of defined codes.
func ErrorCodeCount() int32 { return int32(kerr.CodeCount()) }

// ClassifyError maps a free-text failure reason to a code and a confidence
// in [0, 1].
func ClassifyError(message string) (code int32, confidence float64) {
	c, conf := kerr.Classify(message)
	return int32(c), conf
}
