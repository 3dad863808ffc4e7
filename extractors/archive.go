package extractors

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/mime"
)

// Archive lists the members of ZIP, TAR and GZIP archives and inlines the
// text of text-like members. Every size, ratio and count bound comes from
// SecurityLimits.
type Archive struct {
	Logger *slog.Logger
}

func (*Archive) Name() string { return "archive" }

func (*Archive) SupportedMIMETypes() []string {
	return []string{mime.Zip, mime.Tar, mime.Gzip}
}

type archiveMember struct {
	name string
	size int64
	data []byte
}

func (a *Archive) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*document.Outcome, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sl := limits(cfg)

	var (
		members []archiveMember
		format  string
		err     error
	)
	switch mimeType {
	case mime.Zip:
		format = "zip"
		members, err = zipMembers(data, cfg)
	case mime.Tar:
		format = "tar"
		members, err = tarMembers(bytes.NewReader(data), sl)
	case mime.Gzip:
		format = "gzip"
		members, err = gzipMembers(data, sl)
	default:
		return nil, kerr.Unsupported(mimeType)
	}
	if err != nil {
		return nil, err
	}

	var (
		names    []string
		sections []document.Element
		total    int64
	)
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		names = append(names, m.name)
		total += m.size
		if !textMember(m.name) || m.data == nil {
			continue
		}
		text, _ := decodeText(m.data)
		if strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections,
			document.Element{Type: document.ElementHeading, Level: 2, Text: m.name},
			document.Element{Type: document.ElementParagraph, Text: strings.TrimSpace(text)},
		)
	}
	logger.Debug("archive: listed", "format", format, "members", len(members))

	meta := document.Metadata{
		"format":     format,
		"file_count": len(members),
		"file_list":  names,
		"total_size": total,
	}
	content := joinSections(sections)
	if content == "" {
		content = strings.Join(names, "\n")
	}
	return &document.Outcome{
		Content:  content,
		MIMEType: mimeType,
		Metadata: meta,
		Sections: sections,
	}, nil
}

// textMember reports whether a member's extension maps to a text format
// whose bytes read as prose.
func textMember(name string) bool {
	switch mime.FromExtension(path.Ext(name)) {
	case mime.PlainText, mime.Markdown, mime.CSV, mime.TSV, mime.JSON, mime.YAML,
		mime.TOML, mime.XML, "text/x-rst", "text/x-org", "text/x-djot", "text/x-commonmark":
		return true
	}
	return false
}

func zipMembers(data []byte, cfg *config.ExtractionConfig) ([]archiveMember, error) {
	zr, err := openZip(data, cfg)
	if err != nil {
		return nil, err
	}
	var out []archiveMember
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		m := archiveMember{name: f.Name, size: int64(f.UncompressedSize64)}
		if textMember(f.Name) {
			rc, err := f.Open()
			if err != nil {
				return nil, kerr.Parsing("zip: open %s: %v", f.Name, err)
			}
			m.data, err = io.ReadAll(io.LimitReader(rc, int64(f.UncompressedSize64)+1))
			rc.Close()
			if err != nil {
				return nil, kerr.Parsing("zip: read %s: %v", f.Name, err)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func tarMembers(r io.Reader, sl *config.SecurityLimits) ([]archiveMember, error) {
	tr := tar.NewReader(r)
	var (
		out   []archiveMember
		total int64
	)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, kerr.Parsing("tar: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if len(out) >= sl.MaxFilesInArchive {
			return nil, kerr.Validation("tar: more than max_files_in_archive %d members", sl.MaxFilesInArchive)
		}
		total += hdr.Size
		if total > sl.MaxArchiveSize {
			return nil, kerr.Validation("tar: uncompressed size exceeds max_archive_size %d", sl.MaxArchiveSize)
		}
		m := archiveMember{name: hdr.Name, size: hdr.Size}
		if textMember(hdr.Name) {
			m.data, err = io.ReadAll(io.LimitReader(tr, hdr.Size))
			if err != nil {
				return nil, kerr.Parsing("tar: read %s: %v", hdr.Name, err)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// gzipMembers decompresses data under the size and ratio limits. A
// compressed tarball is listed as a tar; anything else is one member.
func gzipMembers(data []byte, sl *config.SecurityLimits) ([]archiveMember, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, kerr.Parsing("gzip: %v", err)
	}
	defer zr.Close()

	limit := sl.MaxArchiveSize
	if ratio := int64(len(data)) * int64(sl.MaxCompressionRatio); ratio > 0 && ratio < limit {
		limit = ratio
	}
	raw, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, kerr.Parsing("gzip: %v", err)
	}
	if int64(len(raw)) > limit {
		return nil, kerr.Validation("gzip: decompressed size exceeds limit %d (max_archive_size %d, max_compression_ratio %d)",
			limit, sl.MaxArchiveSize, sl.MaxCompressionRatio)
	}

	if isTar(raw) {
		return tarMembers(bytes.NewReader(raw), sl)
	}
	name := zr.Name
	if name == "" {
		name = "content.txt"
	}
	return []archiveMember{{name: name, size: int64(len(raw)), data: raw}}, nil
}

// isTar checks for the ustar magic at offset 257.
func isTar(b []byte) bool {
	return len(b) > 262 && string(b[257:262]) == "ustar"
}
