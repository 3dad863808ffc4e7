package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"

	"github.com/hazyhaar/kreuzberg/cache"
	"github.com/hazyhaar/kreuzberg/docpipe"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/shield"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newRouter(docpipe.New(docpipe.Config{}), shield.Config{}))
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealthAndFormats(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/formats")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[struct {
		Formats []string `json:"formats"`
	}](t, resp)
	if !slices.Contains(got.Formats, "text/plain") {
		t.Fatalf("formats = %v", got.Formats)
	}
}

func TestExtract_RawBody(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/extract", "text/plain; charset=utf-8", strings.NewReader("Hello from kreuzberg test."))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	res := decode[document.Result](t, resp)
	if res.MIMEType != "text/plain" || !strings.Contains(res.Content, "Hello") {
		t.Fatalf("res = %q %q", res.MIMEType, res.Content)
	}
}

func TestExtract_Multipart(t *testing.T) {
	srv := testServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "notes.md")
	fw.Write([]byte("# Notes\n\nSome text."))
	mw.WriteField("config", `{"use_cache":false,"chunking":{"max_characters":5,"overlap":1}}`)
	mw.Close()

	resp, err := http.Post(srv.URL+"/extract", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	res := decode[document.Result](t, resp)
	if res.MIMEType != "text/markdown" {
		t.Errorf("mime = %q", res.MIMEType)
	}
	if len(res.Chunks) == 0 {
		t.Error("chunking config ignored")
	}
}

func TestExtract_ErrorStatus(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name        string
		contentType string
		url         string
		want        int
	}{
		{"unsupported mime", "application/x-nope", "/extract", 415},
		{"invalid config", "text/plain", "/extract?config=" + url.QueryEscape(`{"output_format":"pdf"}`), 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.url, tt.contentType, strings.NewReader("x"))
			if err != nil {
				t.Fatal(err)
			}
			got := decode[map[string]string](t, resp)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.want, got)
			}
			if got["error"] == "" {
				t.Fatal("no error message")
			}
		})
	}
}

func TestDetect(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/detect", "application/octet-stream", strings.NewReader("%PDF-1.7\n"))
	if err != nil {
		t.Fatal(err)
	}
	got := decode[struct {
		MIMEType string `json:"mime_type"`
	}](t, resp)
	if got.MIMEType != "application/pdf" {
		t.Fatalf("mime = %q", got.MIMEType)
	}
}

func TestCacheRoutes(t *testing.T) {
	srv := testServer(t)

	for range 2 {
		resp, err := http.Post(srv.URL+"/extract", "text/plain", strings.NewReader("cache me"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/cache/stats")
	if err != nil {
		t.Fatal(err)
	}
	st := decode[cache.Stats](t, resp)
	if st.Hits != 1 || st.Entries != 1 {
		t.Fatalf("stats = %+v", st)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/cache", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/cache/stats")
	if st := decode[cache.Stats](t, resp); st.Entries != 0 {
		t.Fatalf("entries after clear = %d", st.Entries)
	}
}

func TestServer_Middleware(t *testing.T) {
	srv := httptest.NewServer(newRouter(docpipe.New(docpipe.Config{}), shield.Config{
		MaxBodyBytes: 16,
		RateLimit:    shield.RateLimitConfig{MaxRequests: 1},
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}

	resp, err = http.Post(srv.URL+"/extract", "text/plain", strings.NewReader(strings.Repeat("x", 64)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized status = %d", resp.StatusCode)
	}

	// The oversized request never reached the limiter.
	for i, want := range []int{200, http.StatusTooManyRequests} {
		resp, err = http.Post(srv.URL+"/extract", "text/plain", strings.NewReader("tiny"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("extract %d status = %d, want %d", i, resp.StatusCode, want)
		}
	}
}
