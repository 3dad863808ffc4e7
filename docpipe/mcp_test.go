package docpipe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/kreuzberg/cache"
	"github.com/hazyhaar/kreuzberg/document"
)

var testMCPImpl = &mcp.Implementation{Name: "kreuzberg-test", Version: "0.1.0"}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	pipe := New(Config{})
	srv := mcp.NewServer(testMCPImpl, nil)
	pipe.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result := mcpCall(t, session, name, args)
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

// --- kreuzberg_formats ---

func TestMCP_Formats(t *testing.T) {
	session := mcpSession(t)

	text := mcpCallTool(t, session, "kreuzberg_formats", map[string]any{})

	var resp struct {
		Formats []string `json:"formats"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, want := range []string{"text/plain", "text/html", "application/pdf"} {
		if !slices.Contains(resp.Formats, want) {
			t.Errorf("missing format %q in %v", want, resp.Formats)
		}
	}
}

// --- kreuzberg_detect ---

func TestMCP_Detect(t *testing.T) {
	session := mcpSession(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("plain notes"), 0644)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"path", map[string]any{"path": path}, "text/plain"},
		{"data", map[string]any{"data": base64.StdEncoding.EncodeToString([]byte("%PDF-1.7\n"))}, "application/pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := mcpCallTool(t, session, "kreuzberg_detect", tt.args)
			var resp struct {
				MIMEType   string   `json:"mime_type"`
				Extensions []string `json:"extensions"`
			}
			json.Unmarshal([]byte(text), &resp)
			if resp.MIMEType != tt.want {
				t.Errorf("mime_type = %q, want %q", resp.MIMEType, tt.want)
			}
		})
	}
}

// --- kreuzberg_extract ---

func TestMCP_Extract_Path(t *testing.T) {
	session := mcpSession(t)

	path := filepath.Join(t.TempDir(), "test.txt")
	os.WriteFile(path, []byte("Hello World\n\nSecond paragraph"), 0644)

	text := mcpCallTool(t, session, "kreuzberg_extract", map[string]any{"path": path})

	var res document.Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.MIMEType != "text/plain" {
		t.Errorf("mime_type = %q", res.MIMEType)
	}
	if !strings.Contains(res.Content, "Second paragraph") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestMCP_Extract_DataWithConfig(t *testing.T) {
	session := mcpSession(t)

	text := mcpCallTool(t, session, "kreuzberg_extract", map[string]any{
		"data":      base64.StdEncoding.EncodeToString([]byte("abcdefghijklmnopqrstuvwxyz")),
		"mime_type": "text/plain",
		"config": map[string]any{
			"use_cache": false,
			"chunking":  map[string]any{"max_characters": 10, "overlap": 2},
		},
	})

	var res document.Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(res.Chunks) < 3 {
		t.Fatalf("chunks = %d", len(res.Chunks))
	}
}

func TestMCP_Extract_Errors(t *testing.T) {
	session := mcpSession(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"no input", map[string]any{}},
		{"bad base64", map[string]any{"data": "!!!"}},
		{"unsupported mime", map[string]any{"data": "eA==", "mime_type": "application/x-nope"}},
		{"invalid config", map[string]any{"data": "eA==", "config": map[string]any{"output_format": "pdf"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// WHAT: failures surface as tool errors, not protocol errors.
			if res := mcpCall(t, session, "kreuzberg_extract", tt.args); !res.IsError {
				t.Fatal("expected tool error")
			}
		})
	}
}

// --- kreuzberg_cache_stats ---

func TestMCP_CacheStats(t *testing.T) {
	session := mcpSession(t)

	args := map[string]any{"data": base64.StdEncoding.EncodeToString([]byte("cached")), "mime_type": "text/plain"}
	mcpCallTool(t, session, "kreuzberg_extract", args)
	mcpCallTool(t, session, "kreuzberg_extract", args)

	text := mcpCallTool(t, session, "kreuzberg_cache_stats", map[string]any{})
	var st cache.Stats
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Hits != 1 || st.Entries != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
