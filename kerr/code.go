package kerr

import "strings"

// Code is the closed error-code enumeration exposed across the C-shaped
// boundary. Values are stable.
type Code int32

const (
	CodeValidation        Code = 0
	CodeParsing           Code = 1
	CodeOCR               Code = 2
	CodeMissingDependency Code = 3
	CodeIO                Code = 4
	CodePlugin            Code = 5
	CodeUnsupportedFormat Code = 6
	CodeInternal          Code = 7
)

const codeCount = 8

var codeNames = [codeCount]string{
	"validation",
	"parsing",
	"ocr",
	"missing_dependency",
	"io",
	"plugin",
	"unsupported_format",
	"internal",
}

var codeDescriptions = [codeCount]string{
	"Input validation error",
	"Document parsing error",
	"OCR processing error",
	"Missing dependency error",
	"File system I/O error",
	"Plugin execution error",
	"Unsupported format error",
	"Internal library error",
}

// CodeCount is the number of defined codes.
func CodeCount() int { return codeCount }

// Valid reports whether c is a defined code.
func (c Code) Valid() bool { return c >= 0 && c < codeCount }

// Name returns the snake_case name of c, or "unknown".
func (c Code) Name() string {
	if !c.Valid() {
		return "unknown"
	}
	return codeNames[c]
}

// Description returns a human-readable description of c.
func (c Code) Description() string {
	if !c.Valid() {
		return "Unknown error code"
	}
	return codeDescriptions[c]
}

func (c Code) String() string { return c.Name() }

// CodeOf maps an error to its code. Cache and generic errors are internal.
func CodeOf(err error) Code {
	switch KindOf(err) {
	case KindValidation:
		return CodeValidation
	case KindParsing:
		return CodeParsing
	case KindOCR:
		return CodeOCR
	case KindMissingDependency:
		return CodeMissingDependency
	case KindIO:
		return CodeIO
	case KindPlugin:
		return CodePlugin
	case KindUnsupportedFormat:
		return CodeUnsupportedFormat
	}
	return CodeInternal
}

// Keyword groups are checked in order; the first group with a hit wins.
var classifyRules = []struct {
	code     Code
	keywords []string
}{
	{CodeValidation, []string{"validation", "invalid_argument", "schema", "required", "unexpected field"}},
	{CodeParsing, []string{"parsing", "parse_error", "parse error", "corrupted", "malformed", "invalid format", "decode", "encoding"}},
	{CodeOCR, []string{"ocr", "optical", "character", "recognition", "tesseract", "language", "model"}},
	{CodeMissingDependency, []string{"not found", "not installed", "missing", "dependency", "require", "unavailable"}},
	{CodeIO, []string{"io", "file", "disk", "read", "write", "permission", "access", "path"}},
	{CodePlugin, []string{"plugin", "register", "extension", "handler", "processor"}},
	{CodeUnsupportedFormat, []string{"unsupported", "format", "mime", "type", "codec"}},
	{CodeInternal, []string{"internal", "bug", "panic", "unexpected", "invariant"}},
}

// Classify maps a free-text failure reason to a code. The confidence is the
// share of the matching group's keywords found in the message, floored at 0.5
// for any hit; unmatched messages classify as internal with confidence 0.1.
func Classify(message string) (Code, float64) {
	msg := strings.ToLower(message)
	for _, rule := range classifyRules {
		hits := 0
		for _, kw := range rule.keywords {
			if containsWord(msg, kw) {
				hits++
			}
		}
		if hits > 0 {
			conf := float64(hits) / float64(len(rule.keywords))
			if conf < 0.5 {
				conf = 0.5
			}
			return rule.code, conf
		}
	}
	return CodeInternal, 0.1
}

// containsWord matches kw at a word boundary on its left so that short
// keywords such as "io" do not fire inside "validation".
func containsWord(msg, kw string) bool {
	for i := 0; ; {
		j := strings.Index(msg[i:], kw)
		if j < 0 {
			return false
		}
		pos := i + j
		if pos == 0 || !isWordByte(msg[pos-1]) {
			return true
		}
		i = pos + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
