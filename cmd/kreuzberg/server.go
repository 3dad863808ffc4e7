package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/docpipe"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/mime"
	"github.com/hazyhaar/kreuzberg/shield"
)

func newRouter(pipe *docpipe.Pipeline, sc shield.Config) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(sc) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/formats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{"formats": pipe.SupportedFormats()})
	})

	// POST /extract takes either a multipart upload (field "file", optional
	// field "config" holding JSON) or the raw document as the body, typed by
	// Content-Type.
	r.Post("/extract", func(w http.ResponseWriter, r *http.Request) {
		data, mimeType, rawCfg, err := readDocument(r)
		if err != nil {
			writeError(w, readStatus(err), err)
			return
		}
		var cfg *config.ExtractionConfig
		if rawCfg != "" {
			if cfg, err = config.Parse([]byte(rawCfg)); err != nil {
				writeError(w, 400, err)
				return
			}
		}
		res, err := pipe.ExtractBytes(r.Context(), data, mimeType, cfg)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, 200, res)
	})

	r.Post("/detect", func(w http.ResponseWriter, r *http.Request) {
		data, _, _, err := readDocument(r)
		if err != nil {
			writeError(w, readStatus(err), err)
			return
		}
		m := mime.Detect(data)
		writeJSON(w, 200, map[string]any{"mime_type": m, "extensions": mime.ExtensionsFor(m)})
	})

	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, pipe.Cache().Stats(r.Context()))
		})
		r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
			if err := pipe.Cache().Clear(r.Context()); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "cleared"})
		})
	})

	return r
}

// readDocument relies on shield.MaxBody having capped r.Body.
func readDocument(r *http.Request) (data []byte, mimeType, rawCfg string, err error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		data, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, "", "", err
		}
		if ct == "application/octet-stream" {
			ct = ""
		}
		return data, ct, r.URL.Query().Get("config"), nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", "", err
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", "", errors.New("multipart field \"file\" is required")
	}
	defer f.Close()
	if data, err = io.ReadAll(f); err != nil {
		return nil, "", "", err
	}
	mimeType = r.FormValue("mime_type")
	if mimeType == "" {
		mimeType = mime.FromExtension(filepath.Ext(hdr.Filename))
	}
	return data, mimeType, r.FormValue("config"), nil
}

func readStatus(err error) int {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return http.StatusRequestEntityTooLarge
	}
	return 400
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, kerr.ErrValidation):
		return 400
	case errors.Is(err, kerr.ErrUnsupportedFormat):
		return 415
	case errors.Is(err, kerr.ErrParsing):
		return 422
	case errors.Is(err, kerr.ErrMissingDependency):
		return 503
	}
	return 500
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error(), "kind": kerr.KindOf(err).String()})
}
