package ffi

import (
	"github.com/hazyhaar/kreuzberg/chunk"
	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/mime"
)

// The validators return 1 when the value is valid and 0 otherwise, with
// the reason in LastError.

func check(err error) int32 {
	ClearError()
	if err != nil {
		setError(err)
		return 0
	}
	return 1
}

func ValidateBinarizationMethod(method string) int32 {
	return check(config.ValidateBinarization(method))
}

func ValidateOCRBackend(backend string) int32 {
	return check(config.ValidateOCRBackend(backend))
}

// ValidateLanguageCode accepts ISO 639-1/639-3 codes, '+'-joined.
func ValidateLanguageCode(code string) int32 {
	return check(config.ValidateLanguage(code))
}

func ValidateTokenReductionLevel(level string) int32 {
	return check(config.ValidateTokenReduction(level))
}

func ValidateOutputFormat(format string) int32 {
	return check(config.ValidateOutputFormat(format))
}

// ValidateChunkingParams requires maxChars > 0 and overlap < maxChars.
func ValidateChunkingParams(maxChars, overlap int) int32 {
	return check(chunk.Validate(maxChars, overlap))
}

func ValidatePSM(psm int) int32 { return check(config.ValidatePSM(psm)) }

func ValidateOEM(oem int) int32 { return check(config.ValidateOEM(oem)) }

func ValidateConfidence(v float64) int32 {
	return check(config.ValidateConfidence("confidence", v))
}

func ValidateDPI(dpi int) int32 { return check(config.ValidateDPI(dpi)) }

// DetectMIMEType sniffs data. It never fails.
func DetectMIMEType(data []byte) string {
	ClearError()
	return mime.Detect(data)
}

// DetectMIMETypeFromPath detects by extension, then content. It returns ""
// on failure.
func DetectMIMETypeFromPath(path string) string {
	ClearError()
	m, err := mime.DetectFromPath(path)
	if err != nil {
		setError(err)
		return ""
	}
	return m
}

// ValidateMIMEType returns the canonical form of candidate, or "" when it
// is not supported.
func ValidateMIMEType(candidate string) string {
	ClearError()
	m, err := mime.Validate(candidate)
	if err != nil {
		setError(err)
		return ""
	}
	return m
}

// ExtensionsForMIME returns the file extensions of a MIME type, or nil when
// it is not supported.
func ExtensionsForMIME(mimeType string) []string {
	ClearError()
	if _, err := mime.Validate(mimeType); err != nil {
		setError(err)
		return nil
	}
	return mime.ExtensionsFor(mimeType)
}
