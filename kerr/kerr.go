// Package kerr defines the error taxonomy shared by every extraction component.
//
// Errors carry a Kind (what went wrong, independent of where) and optionally the
// name of the plugin that failed. Callers match kinds with errors.Is against the
// sentinel values or recover the full record with errors.As.
package kerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error independently of its concrete origin.
type Kind int

const (
	KindGeneric Kind = iota
	KindValidation
	KindIO
	KindParsing
	KindOCR
	KindMissingDependency
	KindPlugin
	KindUnsupportedFormat
	KindPanic
	KindCache
)

var kindNames = map[Kind]string{
	KindGeneric:           "generic",
	KindValidation:        "validation",
	KindIO:                "io",
	KindParsing:           "parsing",
	KindOCR:               "ocr",
	KindMissingDependency: "missing_dependency",
	KindPlugin:            "plugin",
	KindUnsupportedFormat: "unsupported_format",
	KindPanic:             "panic",
	KindCache:             "cache",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is matching. An *Error matches the sentinel of its Kind.
var (
	ErrGeneric           = errors.New("kreuzberg: error")
	ErrValidation        = errors.New("kreuzberg: validation error")
	ErrIO                = errors.New("kreuzberg: io error")
	ErrParsing           = errors.New("kreuzberg: parsing error")
	ErrOCR               = errors.New("kreuzberg: ocr error")
	ErrMissingDependency = errors.New("kreuzberg: missing dependency")
	ErrPlugin            = errors.New("kreuzberg: plugin failure")
	ErrUnsupportedFormat = errors.New("kreuzberg: unsupported format")
	ErrPanic             = errors.New("kreuzberg: internal fault")
	ErrCache             = errors.New("kreuzberg: cache error")
)

var sentinels = map[Kind]error{
	KindGeneric:           ErrGeneric,
	KindValidation:        ErrValidation,
	KindIO:                ErrIO,
	KindParsing:           ErrParsing,
	KindOCR:               ErrOCR,
	KindMissingDependency: ErrMissingDependency,
	KindPlugin:            ErrPlugin,
	KindUnsupportedFormat: ErrUnsupportedFormat,
	KindPanic:             ErrPanic,
	KindCache:             ErrCache,
}

// Error is the typed error returned by extraction entry points.
type Error struct {
	Kind    Kind
	Plugin  string // set for KindPlugin and plugin-originated panics
	Message string
	Err     error
}

func (e *Error) Error() string {
	var prefix string
	switch e.Kind {
	case KindPlugin:
		prefix = fmt.Sprintf("plugin %q failed", e.Plugin)
	case KindPanic:
		if e.Plugin != "" {
			prefix = fmt.Sprintf("plugin %q panicked", e.Plugin)
		} else {
			prefix = "internal fault"
		}
	default:
		prefix = e.Kind.String() + " error"
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	case e.Message != "":
		return prefix + ": " + e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation reports a bad configuration or parameter.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// IO wraps a file or stream failure.
func IO(err error, msg string) error { return Wrap(KindIO, err, msg) }

// Parsing reports corrupt or malformed input for a format.
func Parsing(format string, args ...any) *Error {
	return New(KindParsing, format, args...)
}

// OCR reports a backend failure.
func OCR(format string, args ...any) *Error {
	return New(KindOCR, format, args...)
}

// MissingDependency reports an absent external tool.
func MissingDependency(format string, args ...any) *Error {
	return New(KindMissingDependency, format, args...)
}

// Unsupported reports that no extractor handles mime.
func Unsupported(mime string) *Error {
	return &Error{Kind: KindUnsupportedFormat, Message: "no extractor for mime type " + mime}
}

// PluginFailed wraps the error returned by the named plugin. Errors that are
// already plugin failures or panics pass through untouched.
func PluginFailed(name string, err error) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) && (ke.Kind == KindPlugin || ke.Kind == KindPanic) {
		return err
	}
	return &Error{Kind: KindPlugin, Plugin: name, Err: err}
}

// FromPanic converts a recovered value into a plugin failure for name.
// The result matches both ErrPlugin and ErrPanic.
func FromPanic(name string, recovered any) error {
	inner := &Error{Kind: KindPanic, Plugin: name, Message: fmt.Sprint(recovered)}
	if name == "" {
		return inner
	}
	return &Error{Kind: KindPlugin, Plugin: name, Err: inner}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindGeneric
}

// PluginName returns the plugin recorded in err's chain, if any.
func PluginName(err error) string {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Plugin
	}
	return ""
}
