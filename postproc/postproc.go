// Package postproc holds the built-in post-processors.
//
// They run inside the pipeline after extraction and OCR, in stage order:
//
//	early   quality (NFC, whitespace, quality_score), language_detection
//	middle  token_reduction
//	late    keywords
//
// Each one decides for itself whether the current config asks for it
// (plugin.ProcessFilter), so registering them costs nothing when the
// features are off.
package postproc

import (
	"log/slog"

	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/plugin"
)

// Builtins returns one instance of every built-in post-processor.
func Builtins(logger *slog.Logger) []plugin.PostProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return []plugin.PostProcessor{
		Quality{},
		&LanguageDetector{Logger: logger},
		TokenReducer{},
		Keywords{},
	}
}

// RegisterBuiltins registers the built-in post-processors in reg.
func RegisterBuiltins(reg *plugin.PostProcessorRegistry, logger *slog.Logger) error {
	for _, p := range Builtins(logger) {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func setMeta(res *document.Result, key string, v any) {
	if res.Metadata == nil {
		res.Metadata = document.Metadata{}
	}
	res.Metadata[key] = v
}
