package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
)

// Tesseract runs the tesseract command-line engine. The binary is resolved
// from PATH on first use.
type Tesseract struct {
	// Binary is the executable name or path. Default: "tesseract".
	Binary string
	Logger *slog.Logger

	mu       sync.Mutex
	path     string
	langs    []string
	progress ProgressFunc
}

// NewTesseract creates a backend using binary, or "tesseract" when empty.
func NewTesseract(binary string, logger *slog.Logger) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tesseract{Binary: binary, Logger: logger}
}

func (t *Tesseract) Name() string { return "tesseract" }

// Initialize locates the binary and reads its installed languages. A
// missing binary does not fail registration; ProcessImage reports it.
func (t *Tesseract) Initialize() error {
	if err := t.Available(); err != nil {
		t.Logger.Debug("ocr: tesseract unavailable", "binary", t.Binary)
		return nil
	}
	t.mu.Lock()
	p := t.path
	t.mu.Unlock()

	out, err := exec.Command(p, "--list-langs").Output()
	if err != nil {
		t.Logger.Warn("ocr: tesseract --list-langs failed", "error", err)
		return nil
	}
	var langs []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") {
			continue
		}
		langs = append(langs, line)
	}
	t.mu.Lock()
	t.langs = langs
	t.mu.Unlock()
	return nil
}

// Available resolves the binary, returning a MissingDependency error when it
// is not installed.
func (t *Tesseract) Available() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.path != "" {
		return nil
	}
	p, err := exec.LookPath(t.Binary)
	if err != nil {
		return kerr.MissingDependency("ocr: tesseract binary %q not found in PATH", t.Binary)
	}
	t.path = p
	return nil
}

func (t *Tesseract) SupportedLanguages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.langs...)
}

func (t *Tesseract) SetProgress(fn ProgressFunc) {
	t.mu.Lock()
	t.progress = fn
	t.mu.Unlock()
}

func (t *Tesseract) report(pct float64) {
	t.mu.Lock()
	fn := t.progress
	t.mu.Unlock()
	if fn != nil {
		fn(t.Name(), pct)
	}
}

// ProcessImage pipes img to tesseract on stdin and reads text from stdout.
func (t *Tesseract) ProcessImage(ctx context.Context, img []byte, cfg *config.OCRConfig) (*Output, error) {
	if err := t.Available(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	bin := t.path
	t.mu.Unlock()

	tc := cfg.Tesseract
	args := []string{
		"stdin", "stdout",
		"-l", cfg.Language,
		"--psm", strconv.Itoa(tc.PSM),
		"--oem", strconv.Itoa(tc.OEM),
		"--dpi", strconv.Itoa(tc.Preprocessing.TargetDPI),
	}
	t.report(0)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader(img)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, kerr.OCR("tesseract: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	t.report(100)

	return &Output{
		Content:  strings.TrimSpace(stdout.String()),
		MIMEType: "text/plain",
		Metadata: document.Metadata{
			"ocr_backend":  t.Name(),
			"ocr_language": cfg.Language,
			"ocr_psm":      tc.PSM,
			"ocr_oem":      tc.OEM,
		},
	}, nil
}
