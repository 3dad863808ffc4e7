package extractors

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
)

// Image handles raster images. It has no text layer: the outcome is marked
// image-only and carries the image itself for OCR.
type Image struct{}

func (Image) Name() string                 { return "image" }
func (Image) SupportedMIMETypes() []string { return []string{"image/*"} }

func (Image) Extract(_ context.Context, data []byte, mimeType string, _ *config.ExtractionConfig) (*document.Outcome, error) {
	format := strings.TrimPrefix(mimeType, "image/")
	meta := document.Metadata{"format": format}

	img := document.Image{Data: data, Format: format}
	// Formats the decoders do not know (jp2, pnm) still go to OCR without
	// dimensions.
	if c, name, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		w, h := c.Width, c.Height
		img.Width, img.Height = &w, &h
		img.Format = name
		meta["width"] = w
		meta["height"] = h
		meta["format"] = name
	}

	return &document.Outcome{
		MIMEType:  mimeType,
		Metadata:  meta,
		Images:    []document.Image{img},
		ImageOnly: true,
	}, nil
}
