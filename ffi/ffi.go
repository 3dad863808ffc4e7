// Package ffi is the C-shaped surface of the engine, for hosts that cannot
// consume Go error values: results come back as pointers that are nil on
// failure, integer statuses, or pooled views, and the reason for a failure
// is kept per OS thread until the next call on that thread.
//
// Every entry point clears the calling thread's error state first, so
// LastError always describes the most recent call.
//
//	runtime.LockOSThread()
//	defer runtime.UnlockOSThread()
//	res := ffi.ExtractFileSync("report.pdf", "", "")
//	if res == nil {
//		msg, _ := ffi.LastError()
//		code, _ := ffi.CodeFromStatus(ffi.LastErrorCode())
//		log.Println(code.Name(), msg)
//	}
package ffi

import (
	"context"
	"sync"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/docpipe"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/plugin"
	"github.com/hazyhaar/kreuzberg/pool"
)

// Version is the library version reported to hosts.
const Version = "0.4.0"

var (
	engineMu sync.Mutex
	engine   *docpipe.Pipeline
)

// Engine returns the process-wide pipeline, creating it on first use over
// plugin.Global() with the built-in plugins registered.
func Engine() *docpipe.Pipeline {
	engineMu.Lock()
	defer engineMu.Unlock()
	if engine == nil {
		reg := plugin.Global()
		if len(reg.Extractors.List()) == 0 {
			_ = docpipe.RegisterBuiltins(reg, "", nil)
		}
		engine = docpipe.New(docpipe.Config{Registry: reg})
	}
	return engine
}

// SetEngine replaces the process-wide pipeline. A nil p resets it so the
// next call builds the default again.
func SetEngine(p *docpipe.Pipeline) {
	engineMu.Lock()
	engine = p
	engineMu.Unlock()
}

// parseConfig decodes a JSON config. An empty string means the engine
// defaults.
func parseConfig(configJSON string) (*config.ExtractionConfig, error) {
	if configJSON == "" {
		return nil, nil
	}
	cfg, err := config.Parse([]byte(configJSON))
	if err != nil {
		return nil, kerr.Validation("config: %v", err)
	}
	return cfg, nil
}

// ExtractFileSync extracts the file at path. It returns nil on failure.
func ExtractFileSync(path, mimeType, configJSON string) *document.Result {
	ClearError()
	cfg, err := parseConfig(configJSON)
	if err != nil {
		setError(err)
		return nil
	}
	res, err := Engine().ExtractFile(context.Background(), path, mimeType, cfg)
	if err != nil {
		setError(err)
		return nil
	}
	return res
}

// ExtractBytesSync extracts data. It returns nil on failure.
func ExtractBytesSync(data []byte, mimeType, configJSON string) *document.Result {
	ClearError()
	cfg, err := parseConfig(configJSON)
	if err != nil {
		setError(err)
		return nil
	}
	res, err := Engine().ExtractBytes(context.Background(), data, mimeType, cfg)
	if err != nil {
		setError(err)
		return nil
	}
	return res
}

// BatchEntry is one item of a batch result. Status is StatusOK when Result
// is set.
type BatchEntry struct {
	Result *document.Result `json:"result,omitempty"`
	Status int32            `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// BatchExtractFilesSync extracts paths in parallel. Per-item failures are
// reported in the entries; nil is returned only when the batch itself is
// rejected.
func BatchExtractFilesSync(paths []string, configJSON string) []BatchEntry {
	ClearError()
	cfg, err := parseConfig(configJSON)
	if err != nil {
		setError(err)
		return nil
	}
	items, err := Engine().BatchExtractFiles(context.Background(), paths, cfg)
	if err != nil {
		setError(err)
		return nil
	}
	out := make([]BatchEntry, len(items))
	for i, it := range items {
		if it.Err != nil {
			out[i] = BatchEntry{Status: StatusFromCode(kerr.CodeOf(it.Err)), Error: it.Err.Error()}
			continue
		}
		out[i] = BatchEntry{Result: it.Result}
	}
	return out
}

// ExtractFileIntoPool extracts path into pl. On failure it returns the
// zero View, whose accessors yield empty spans.
func ExtractFileIntoPool(pl *pool.Pool, path, mimeType, configJSON string) pool.View {
	ClearError()
	cfg, err := parseConfig(configJSON)
	if err != nil {
		setError(err)
		return pool.View{}
	}
	v, err := intoPool(pl, path, mimeType, cfg)
	if err != nil {
		setError(err)
		return pool.View{}
	}
	return v
}

func intoPool(pl *pool.Pool, path, mimeType string, cfg *config.ExtractionConfig) (pool.View, error) {
	if pl == nil {
		return pool.View{}, kerr.Validation("ffi: nil result pool")
	}
	res, err := Engine().ExtractFile(context.Background(), path, mimeType, cfg)
	if err != nil {
		return pool.View{}, err
	}
	v, err := pl.Put(res)
	if err != nil {
		return pool.View{}, kerr.Wrap(kerr.KindGeneric, err, "result pool")
	}
	return v, nil
}

// ViewGetContent returns the content span of v and the pool status of the
// lookup as an int32.
func ViewGetContent(v pool.View) (pool.Span, int32) {
	s, st := v.Content()
	return s, int32(st)
}

// ViewGetMIMEType returns the MIME type span of v.
func ViewGetMIMEType(v pool.View) (pool.Span, int32) {
	s, st := v.MIMEType()
	return s, int32(st)
}
