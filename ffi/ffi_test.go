package ffi

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/kreuzberg/cache"
	"github.com/hazyhaar/kreuzberg/docpipe"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/plugin"
	"github.com/hazyhaar/kreuzberg/pool"
)

func freshEngine(t *testing.T) {
	t.Helper()
	SetEngine(docpipe.New(docpipe.Config{}))
	t.Cleanup(func() { SetEngine(nil) })
}

// pinned runs fn on a locked OS thread so the error state it reads is the
// one its own calls wrote.
func pinned(fn func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	fn()
}

func TestThreadIsolation(t *testing.T) {
	// WHAT: two threads failing concurrently each see only their own error.
	// WHY: hosts call in from many threads and read the error afterwards.
	type seen struct {
		msg  string
		code int32
	}
	var (
		ready sync.WaitGroup
		check sync.WaitGroup
		got   [2]seen
	)
	ready.Add(2)
	check.Add(1)
	var done sync.WaitGroup
	done.Add(2)

	fail := []func() int32{
		func() int32 { return ValidatePSM(42) },
		func() int32 { return ValidateDPI(-7) },
	}
	for i := range 2 {
		go func() {
			defer done.Done()
			pinned(func() {
				fail[i]()
				ready.Done()
				check.Wait()
				got[i].msg, _ = LastError()
				got[i].code = LastErrorCode()
				ClearError()
			})
		}()
	}
	ready.Wait()
	check.Done()
	done.Wait()

	if !strings.Contains(got[0].msg, "psm") || strings.Contains(got[0].msg, "dpi") {
		t.Errorf("thread 0 saw %q", got[0].msg)
	}
	if !strings.Contains(got[1].msg, "dpi") || strings.Contains(got[1].msg, "psm") {
		t.Errorf("thread 1 saw %q", got[1].msg)
	}
	want := StatusFromCode(kerr.CodeValidation)
	if got[0].code != want || got[1].code != want {
		t.Errorf("codes = %d, %d, want %d", got[0].code, got[1].code, want)
	}
}

func TestErrorState(t *testing.T) {
	pinned(func() {
		ClearError()
		if _, ok := LastError(); ok {
			t.Fatal("error set after ClearError")
		}
		if LastErrorCode() != StatusOK {
			t.Fatal("non-zero code without error")
		}

		if ValidateOutputFormat("pdf") != 0 {
			t.Fatal("pdf accepted as output format")
		}
		msg, ok := LastError()
		if !ok || !strings.Contains(msg, "output_format") {
			t.Fatalf("LastError = %q, %v", msg, ok)
		}
		c, ok := CodeFromStatus(LastErrorCode())
		if !ok || c != kerr.CodeValidation {
			t.Fatalf("code = %v, %v", c, ok)
		}

		// A successful call clears the previous failure.
		if ValidateOutputFormat("markdown") != 1 {
			t.Fatal("markdown rejected")
		}
		if _, ok := LastError(); ok {
			t.Fatal("stale error after success")
		}
	})
}

func TestErrorCodes(t *testing.T) {
	if ErrorCodeCount() != 8 {
		t.Fatalf("count = %d", ErrorCodeCount())
	}
	names := []string{"validation", "parsing", "ocr", "missing_dependency", "io", "plugin", "unsupported_format", "internal"}
	for i, want := range names {
		if got := ErrorCodeName(int32(i)); got != want {
			t.Errorf("ErrorCodeName(%d) = %q, want %q", i, got, want)
		}
		if ErrorCodeDescription(int32(i)) == "" {
			t.Errorf("code %d has no description", i)
		}
	}
	if ErrorCodeName(99) != "unknown" {
		t.Errorf("out of range name = %q", ErrorCodeName(99))
	}
	if _, ok := CodeFromStatus(StatusOK); ok {
		t.Error("StatusOK decoded as a code")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want kerr.Code
	}{
		{"Validation failed: required field", kerr.CodeValidation},
		{"corrupted stream, parse error", kerr.CodeParsing},
		{"tesseract exited with status 1", kerr.CodeOCR},
		{"libreoffice not installed", kerr.CodeMissingDependency},
		{"permission denied on file", kerr.CodeIO},
		{"something odd happened", kerr.CodeInternal},
	}
	for _, tt := range tests {
		code, conf := ClassifyError(tt.msg)
		if kerr.Code(code) != tt.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", tt.msg, kerr.Code(code), tt.want)
		}
		if conf <= 0 || conf > 1 {
			t.Errorf("ClassifyError(%q) confidence = %v", tt.msg, conf)
		}
	}
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name string
		got  int32
		want int32
	}{
		{"psm 0", ValidatePSM(0), 1},
		{"psm 13", ValidatePSM(13), 1},
		{"psm 14", ValidatePSM(14), 0},
		{"psm -1", ValidatePSM(-1), 0},
		{"oem 3", ValidateOEM(3), 1},
		{"oem 4", ValidateOEM(4), 0},
		{"confidence 0.5", ValidateConfidence(0.5), 1},
		{"confidence 1.5", ValidateConfidence(1.5), 0},
		{"dpi 300", ValidateDPI(300), 1},
		{"dpi 0", ValidateDPI(0), 0},
		{"binarization otsu", ValidateBinarizationMethod("otsu"), 1},
		{"binarization magic", ValidateBinarizationMethod("magic"), 0},
		{"backend tesseract", ValidateOCRBackend("tesseract"), 1},
		{"backend none", ValidateOCRBackend("none"), 0},
		{"language eng+deu", ValidateLanguageCode("eng+deu"), 1},
		{"language xx-nope", ValidateLanguageCode("xx-nope"), 0},
		{"token reduction light", ValidateTokenReductionLevel("light"), 1},
		{"token reduction extreme", ValidateTokenReductionLevel("extreme"), 0},
		{"chunking ok", ValidateChunkingParams(1000, 200), 1},
		{"chunking overlap", ValidateChunkingParams(1000, 1000), 0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestMIMEHelpers(t *testing.T) {
	pinned(func() {
		if got := DetectMIMEType([]byte("%PDF-1.4")); got != "application/pdf" {
			t.Errorf("DetectMIMEType = %q", got)
		}
		if got := ValidateMIMEType("Text/Plain; charset=utf-8"); got != "text/plain" {
			t.Errorf("ValidateMIMEType = %q", got)
		}
		if got := ValidateMIMEType("application/x-nope"); got != "" {
			t.Errorf("unsupported type validated as %q", got)
		}
		if c, _ := CodeFromStatus(LastErrorCode()); c != kerr.CodeUnsupportedFormat {
			t.Errorf("code = %s", c)
		}
		if exts := ExtensionsForMIME("application/pdf"); len(exts) == 0 {
			t.Error("no extensions for pdf")
		}
		if DetectMIMETypeFromPath(filepath.Join(t.TempDir(), "missing.txt")) != "" {
			t.Error("missing file detected")
		}
	})
}

func TestExtractBytesSync(t *testing.T) {
	freshEngine(t)
	pinned(func() {
		res := ExtractBytesSync([]byte("Hello from kreuzberg test."), "text/plain", "")
		if res == nil {
			msg, _ := LastError()
			t.Fatalf("extract failed: %s", msg)
		}
		if !strings.Contains(res.Content, "Hello") || res.MIMEType == "" {
			t.Fatalf("res = %q %q", res.Content, res.MIMEType)
		}

		if ExtractBytesSync([]byte("x"), "text/plain", `{"chunking":{"max_characters":10,"overlap":10}}`) != nil {
			t.Fatal("invalid chunking accepted")
		}
		if c, _ := CodeFromStatus(LastErrorCode()); c != kerr.CodeValidation {
			t.Fatalf("code = %s", c)
		}
		if ExtractBytesSync([]byte("x"), "text/plain", "{not json") != nil {
			t.Fatal("malformed config accepted")
		}
	})
}

func TestBatchExtractFilesSync(t *testing.T) {
	freshEngine(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "a.txt")
	os.WriteFile(good, []byte("alpha"), 0644)

	out := BatchExtractFilesSync([]string{good, filepath.Join(dir, "missing.txt")}, "")
	if len(out) != 2 {
		t.Fatalf("entries = %d", len(out))
	}
	if out[0].Status != StatusOK || out[0].Result == nil || out[0].Result.Content != "alpha" {
		t.Fatalf("entry 0 = %+v", out[0])
	}
	if out[1].Status != StatusFromCode(kerr.CodeIO) || out[1].Error == "" || out[1].Result != nil {
		t.Fatalf("entry 1 = %+v", out[1])
	}
}

func TestExtractFileIntoPool(t *testing.T) {
	freshEngine(t)
	pl := pool.New(4)
	defer pl.Close()

	path := filepath.Join(t.TempDir(), "p.txt")
	os.WriteFile(path, []byte("pooled"), 0644)

	pinned(func() {
		v := ExtractFileIntoPool(pl, path, "", "")
		s, st := ViewGetContent(v)
		if st != int32(pool.StatusOK) || s.String() != "pooled" {
			t.Fatalf("content = %q, status %d", s, st)
		}
		m, _ := ViewGetMIMEType(v)
		if m.String() != "text/plain" {
			t.Fatalf("mime = %q", m)
		}

		// WHAT: a failed extraction returns the zero view.
		// WHY: hosts read it unconditionally; it must give status 0 and an empty span.
		failed := ExtractFileIntoPool(pl, filepath.Join(t.TempDir(), "gone.txt"), "", "")
		s, st = ViewGetContent(failed)
		if st != 0 || !s.IsNull() || s.Len() != 0 {
			t.Fatalf("failed view = %v, status %d", s, st)
		}
		if _, ok := LastError(); !ok {
			t.Fatal("failure not recorded")
		}
	})
}

type nopValidator struct{}

func (nopValidator) Name() string                                            { return "nop" }
func (nopValidator) Priority() int                                           { return 0 }
func (nopValidator) Phase() plugin.Phase                                     { return plugin.PhaseFinal }
func (nopValidator) ShouldValidate(*plugin.ValidationInput) bool             { return false }
func (nopValidator) Validate(context.Context, *plugin.ValidationInput) error { return nil }

func TestRegistryWrappers(t *testing.T) {
	freshEngine(t)
	if !slices.Contains(ListExtractors(), "text") {
		t.Fatalf("extractors = %v", ListExtractors())
	}
	if RegisterValidator(nopValidator{}) != StatusOK {
		t.Fatal("register failed")
	}
	if !slices.Contains(ListValidators(), "nop") {
		t.Fatalf("validators = %v", ListValidators())
	}
	UnregisterValidator("nop")
	if len(ListValidators()) != 0 {
		t.Fatalf("validators after unregister = %v", ListValidators())
	}
	if !slices.Contains(ListOCRBackends(), "tesseract") {
		t.Fatalf("ocr backends = %v", ListOCRBackends())
	}
	ClearPostProcessors()
	if len(ListPostProcessors()) != 0 {
		t.Fatal("post-processors survive Clear")
	}
}

func TestCacheWrappers(t *testing.T) {
	freshEngine(t)
	ExtractBytesSync([]byte("cache"), "text/plain", "")
	ExtractBytesSync([]byte("cache"), "text/plain", "")

	var st cache.Stats
	if err := json.Unmarshal([]byte(CacheStats()), &st); err != nil {
		t.Fatal(err)
	}
	if st.Hits != 1 || st.Entries != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if ClearCache() != StatusOK {
		t.Fatal("clear failed")
	}
	json.Unmarshal([]byte(CacheStats()), &st)
	if st.Entries != 0 {
		t.Fatalf("entries after clear = %d", st.Entries)
	}
}

func TestVersion(t *testing.T) {
	if Version == "" {
		t.Fatal("empty version")
	}
}
