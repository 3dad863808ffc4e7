package config

import (
	"strings"

	"github.com/hazyhaar/kreuzberg/chunk"
	"github.com/hazyhaar/kreuzberg/kerr"
)

// BinarizationMethods lists accepted preprocessing binarization methods.
var BinarizationMethods = []string{"otsu", "adaptive", "sauvola"}

// OCRBackends lists backend names known to the validation helpers. Custom
// backends registered at runtime are accepted by the OCR registry itself.
var OCRBackends = []string{"tesseract", "easyocr", "paddleocr"}

// TokenReductionModes lists accepted token reduction levels.
var TokenReductionModes = []string{"off", "light", "moderate", "aggressive", "maximum"}

// languageCodes holds accepted ISO 639-1 and ISO 639-3 codes.
var languageCodes = map[string]bool{}

func init() {
	for _, c := range strings.Fields(`
		af am ar as az be bg bn bo bs ca cs cy da de dz el en eo es et eu fa fi fr
		ga gd gl gu he hi hr ht hu hy id is it ja jv ka kk km kn ko ku ky la lb lo
		lt lv mi mk ml mn mr ms mt my ne nl no oc or pa pl ps pt ro ru sa sd si sk
		sl sq sr su sv sw ta te tg th ti tl tr tt ug uk ur uz vi yi yo zh
		afr amh ara asm aze bel ben bod bos bre bul cat ceb ces chi_sim chi_tra chr
		cos cym dan deu div dzo ell eng enm epo est eus fao fas fil fin fra frk frm
		fry gla gle glg grc guj hat heb hin hrv hun hye iku ind isl ita jav jpn kan
		kat kaz khm kir kmr kor lao lat lav lit ltz mal mar mkd mlt mon mri msa mya
		nep nld nor oci ori osd pan pol por pus que ron rus san sin slk slv snd spa
		sqi srp sun swa swe syr tam tat tel tgk tha tir ton tur uig ukr urd uzb vie
		yid yor zho`) {
		languageCodes[c] = true
	}
}

// ValidateLanguage accepts a known ISO 639-1/639-3 code or several joined by
// '+', as tesseract does ("eng+deu").
func ValidateLanguage(lang string) error {
	if lang == "" {
		return kerr.Validation("ocr: language must not be empty")
	}
	for _, part := range strings.Split(lang, "+") {
		if !languageCodes[strings.ToLower(strings.TrimSpace(part))] {
			return kerr.Validation("ocr: unknown language code %q", part)
		}
	}
	return nil
}

// ValidatePSM accepts page segmentation modes 0 through 13.
func ValidatePSM(psm int) error {
	if psm < 0 || psm > 13 {
		return kerr.Validation("ocr: psm must be in [0, 13], got %d", psm)
	}
	return nil
}

// ValidateOEM accepts engine modes 0 through 3.
func ValidateOEM(oem int) error {
	if oem < 0 || oem > 3 {
		return kerr.Validation("ocr: oem must be in [0, 3], got %d", oem)
	}
	return nil
}

// ValidateConfidence accepts values in [0, 1].
func ValidateConfidence(name string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return kerr.Validation("%s must be in [0.0, 1.0], got %v", name, v)
	}
	return nil
}

// ValidateDPI accepts positive values.
func ValidateDPI(dpi int) error {
	if dpi <= 0 {
		return kerr.Validation("dpi must be a positive integer, got %d", dpi)
	}
	return nil
}

// ValidateBinarization accepts one of BinarizationMethods.
func ValidateBinarization(method string) error {
	return oneOf("ocr: binarization_method", method, BinarizationMethods)
}

// ValidateOCRBackend accepts one of OCRBackends.
func ValidateOCRBackend(name string) error {
	return oneOf("ocr: backend", name, OCRBackends)
}

// ValidateTokenReduction accepts one of TokenReductionModes.
func ValidateTokenReduction(mode string) error {
	return oneOf("token_reduction: mode", mode, TokenReductionModes)
}

// ValidateOutputFormat accepts plain, markdown, djot, html and the "text"
// alias of plain.
func ValidateOutputFormat(f string) error {
	switch OutputFormat(strings.ToLower(f)) {
	case OutputPlain, OutputMarkdown, OutputDjot, OutputHTML, "text":
		return nil
	}
	return kerr.Validation("output_format must be one of plain, markdown, djot, html; got %q", f)
}

func oneOf(field, v string, allowed []string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return kerr.Validation("%s must be one of %s; got %q", field, strings.Join(allowed, ", "), v)
}

// Validate checks every configured section. Gates are evaluated without
// clamping; the first violation is returned.
func (c *ExtractionConfig) Validate() error {
	if c.MaxConcurrentExtractions <= 0 {
		return kerr.Validation("max_concurrent_extractions must be > 0, got %d", c.MaxConcurrentExtractions)
	}
	if err := ValidateOutputFormat(string(c.OutputFormat)); err != nil {
		return err
	}
	switch c.ResultFormat {
	case ResultUnified, ResultElementBased:
	default:
		return kerr.Validation("result_format must be unified or element_based; got %q", c.ResultFormat)
	}
	if c.OCR != nil {
		if err := c.OCR.Validate(); err != nil {
			return err
		}
	}
	if c.Chunking != nil {
		if err := chunk.Validate(c.Chunking.MaxCharacters, c.Chunking.Overlap); err != nil {
			return err
		}
	}
	if e := c.Embedding; e != nil {
		if e.BatchSize <= 0 {
			return kerr.Validation("embedding: batch_size must be > 0, got %d", e.BatchSize)
		}
		if e.Model == "" {
			return kerr.Validation("embedding: model must not be empty")
		}
		if e.Dimension < 0 {
			return kerr.Validation("embedding: dimension must be >= 0, got %d", e.Dimension)
		}
	}
	if im := c.Images; im != nil {
		if err := ValidateDPI(im.TargetDPI); err != nil {
			return err
		}
		if im.MaxImageDimension <= 0 {
			return kerr.Validation("images: max_image_dimension must be > 0, got %d", im.MaxImageDimension)
		}
	}
	if ld := c.LanguageDetection; ld != nil {
		if err := ValidateConfidence("language_detection: min_confidence", ld.MinConfidence); err != nil {
			return err
		}
	}
	if kw := c.Keywords; kw != nil {
		if kw.MaxKeywords < 0 {
			return kerr.Validation("keywords: max_keywords must be >= 0, got %d", kw.MaxKeywords)
		}
		if err := ValidateConfidence("keywords: min_score", kw.MinScore); err != nil {
			return err
		}
	}
	if tr := c.TokenReduction; tr != nil {
		if err := ValidateTokenReduction(tr.Mode); err != nil {
			return err
		}
	}
	if h := c.Hierarchy; h != nil {
		if h.KClusters < 1 || h.KClusters > 7 {
			return kerr.Validation("hierarchy: k_clusters must be in [1, 7], got %d", h.KClusters)
		}
	}
	if sl := c.SecurityLimits; sl != nil {
		if sl.MaxArchiveSize <= 0 || sl.MaxContentSize <= 0 || sl.MaxFilesInArchive <= 0 ||
			sl.MaxNestingDepth <= 0 || sl.MaxCompressionRatio <= 0 {
			return kerr.Validation("security_limits: all limits must be > 0")
		}
	}
	return nil
}

// Validate applies the OCR gates: language, psm, oem, confidence, coverage
// threshold, dpi and binarization. Backend existence is checked against the
// OCR registry by the caller.
func (o *OCRConfig) Validate() error {
	if strings.TrimSpace(o.Backend) == "" {
		return kerr.Validation("ocr: backend must not be empty")
	}
	if err := ValidateLanguage(o.Language); err != nil {
		return err
	}
	t := o.Tesseract
	if err := ValidatePSM(t.PSM); err != nil {
		return err
	}
	if err := ValidateOEM(t.OEM); err != nil {
		return err
	}
	if err := ValidateConfidence("ocr: min_confidence", t.MinConfidence); err != nil {
		return err
	}
	if o.CoverageThreshold != nil {
		if err := ValidateConfidence("ocr: ocr_coverage_threshold", *o.CoverageThreshold); err != nil {
			return err
		}
	}
	if err := ValidateDPI(t.Preprocessing.TargetDPI); err != nil {
		return err
	}
	return ValidateBinarization(t.Preprocessing.BinarizationMethod)
}
