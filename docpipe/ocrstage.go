package docpipe

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/ocr"
)

// ocr runs the configured backend when ocr.ShouldRun asks for it. Image
// inputs are recognised whole; paged documents have their embedded images
// recognised, limited to low-coverage pages unless OCR is forced.
//
// A failure aborts the run when OCR was forced or the input has no text
// layer. A failed coverage fallback only adds a processing warning, since
// the digital text is still there.
func (r *run) ocr(ctx context.Context) error {
	if r.cfg.OCR == nil && !r.cfg.ForceOCR {
		return nil
	}
	needed, reason := ocr.ShouldRun(r.cfg, r.outcome)
	if !needed {
		return nil
	}
	ocfg := r.cfg.OCR
	if ocfg == nil {
		ocfg = config.New[config.OCRConfig]()
	}
	name := ocfg.Backend
	if name == "" {
		name = "tesseract"
	}
	backend, err := r.reg.OCR.Get(name)
	if err != nil {
		return err
	}
	fatal := reason != ocr.ReasonLowCoverage

	r.logger.Info("docpipe: ocr fallback", "backend", name, "reason", string(reason), "mime", r.in.mime)
	r.res.Metadata[document.MetaOCRReason] = string(reason)

	if strings.HasPrefix(r.in.mime, "image/") {
		out, err := recognise(ctx, backend, r.in.data, ocfg)
		if err != nil {
			return r.ocrFailed(err, fatal)
		}
		r.res.Content = strings.TrimSpace(out.Content)
		r.res.Tables = append(r.res.Tables, out.Tables...)
		for k, v := range out.Metadata {
			if _, ok := r.res.Metadata[k]; !ok {
				r.res.Metadata[k] = v
			}
		}
		r.ocrApplied = true
		r.res.Metadata[document.MetaOCRApplied] = true
		return nil
	}

	var pages []int
	if reason == ocr.ReasonLowCoverage {
		pages = ocr.LowCoveragePages(r.cfg, r.outcome)
	}
	var texts []string
	for i := range r.res.Images {
		img := &r.res.Images[i]
		if img.IsMask || len(img.Data) == 0 {
			continue
		}
		if pages != nil && (img.PageNumber == nil || !slices.Contains(pages, *img.PageNumber)) {
			continue
		}
		out, err := recognise(ctx, backend, img.Data, ocfg)
		if err != nil {
			if fatal {
				return r.ocrFailed(err, true)
			}
			r.warn("ocr: image " + strconv.Itoa(img.ImageIndex) + ": " + err.Error())
			continue
		}
		text := strings.TrimSpace(out.Content)
		img.OCRResult = &document.Result{
			Content:  text,
			MIMEType: out.MIMEType,
			Metadata: out.Metadata,
			Tables:   out.Tables,
		}
		if text == "" {
			continue
		}
		texts = append(texts, text)
		if img.PageNumber != nil {
			r.appendToPage(*img.PageNumber, text)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	joined := strings.Join(texts, "\n\n")
	if strings.TrimSpace(r.res.Content) == "" {
		r.res.Content = joined
	} else {
		r.res.Content = strings.TrimRight(r.res.Content, "\n") + "\n\n" + joined
	}
	r.ocrApplied = true
	r.res.Metadata[document.MetaOCRApplied] = true
	return nil
}

func (r *run) appendToPage(page int, text string) {
	for i := range r.res.Pages {
		if r.res.Pages[i].PageNumber != page {
			continue
		}
		if r.res.Pages[i].Content == "" {
			r.res.Pages[i].Content = text
		} else {
			r.res.Pages[i].Content += "\n\n" + text
		}
		return
	}
}

func (r *run) ocrFailed(err error, fatal bool) error {
	if fatal {
		return err
	}
	r.warn("ocr: " + err.Error())
	return nil
}

// recognise calls the backend, typing untyped failures and panics as OCR
// errors.
func recognise(ctx context.Context, b ocr.Backend, img []byte, cfg *config.OCRConfig) (out *ocr.Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, kerr.FromPanic(b.Name(), rec)
		}
	}()
	out, err = b.ProcessImage(ctx, img, cfg)
	if err != nil {
		var ke *kerr.Error
		if errors.As(err, &ke) {
			return nil, err
		}
		return nil, kerr.Wrap(kerr.KindOCR, err, b.Name())
	}
	if out == nil {
		return nil, kerr.OCR("%s: no output", b.Name())
	}
	return out, nil
}
