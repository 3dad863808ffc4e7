package ocr

import (
	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
)

// Reason explains why OCR runs.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonForced      Reason = "force_ocr"
	ReasonImageOnly   Reason = "image_only"
	ReasonLowCoverage Reason = "low_coverage"
)

// ShouldRun decides whether an extraction outcome needs OCR: when forced,
// when the input has no text layer, or when a digitally extracted page has a
// coverage below ocr_coverage_threshold.
func ShouldRun(cfg *config.ExtractionConfig, o *document.Outcome) (bool, Reason) {
	if cfg.ForceOCR {
		return true, ReasonForced
	}
	if o.ImageOnly {
		return true, ReasonImageOnly
	}
	if len(LowCoveragePages(cfg, o)) > 0 {
		return true, ReasonLowCoverage
	}
	return false, ReasonNone
}

// LowCoveragePages returns the page numbers whose measured coverage falls
// below the configured threshold. Pages with unknown coverage are skipped.
func LowCoveragePages(cfg *config.ExtractionConfig, o *document.Outcome) []int {
	if cfg.OCR == nil || cfg.OCR.CoverageThreshold == nil {
		return nil
	}
	thr := *cfg.OCR.CoverageThreshold
	var pages []int
	for _, p := range o.Pages {
		if p.Coverage >= 0 && p.Coverage < thr {
			pages = append(pages, p.PageNumber)
		}
	}
	return pages
}
