package docpipe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/idgen"
	"github.com/hazyhaar/kreuzberg/kit"
	"github.com/hazyhaar/kreuzberg/mime"
)

// RegisterMCP registers the extraction tools on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerExtractTool(srv)
	p.registerDetectTool(srv)
	p.registerFormatsTool(srv)
	p.registerCacheStatsTool(srv)
}

var mcpRequestIDs = idgen.Prefixed("mcp_", idgen.Default)

// toolEndpoint adds request ids and call logging to a tool endpoint.
func (p *Pipeline) toolEndpoint(op string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.RequestID(mcpRequestIDs), kit.Logging(p.logger, op))(ep)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- extract ---

type extractReq struct {
	Path     string          `json:"path"`
	Data     string          `json:"data"` // base64
	MIMEType string          `json:"mime_type"`
	Config   json.RawMessage `json:"config"`
}

func (p *Pipeline) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "kreuzberg_extract",
		Description: "Extract text, tables and metadata from a document file or base64 content.",
		InputSchema: inputSchema(map[string]any{
			"path":      map[string]any{"type": "string", "description": "File path to extract"},
			"data":      map[string]any{"type": "string", "description": "Base64 document content, used when path is empty"},
			"mime_type": map[string]any{"type": "string", "description": "MIME type; detected when empty"},
			"config":    map[string]any{"type": "object", "description": "Extraction config (JSON form)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*extractReq)
		var cfg *config.ExtractionConfig
		if len(r.Config) > 0 {
			var err error
			if cfg, err = config.Parse(r.Config); err != nil {
				return nil, err
			}
		}
		switch {
		case r.Path != "":
			return p.ExtractFile(ctx, r.Path, r.MIMEType, cfg)
		case r.Data != "":
			data, err := base64.StdEncoding.DecodeString(r.Data)
			if err != nil {
				return nil, fmt.Errorf("data: %w", err)
			}
			return p.ExtractBytes(ctx, data, r.MIMEType, cfg)
		}
		return nil, fmt.Errorf("path or data is required")
	}

	kit.RegisterMCPTool(srv, tool, p.toolEndpoint("extract", endpoint), kit.DecodeJSON[extractReq]())
}

// --- detect ---

type detectReq struct {
	Path string `json:"path"`
	Data string `json:"data"`
}

func (p *Pipeline) registerDetectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "kreuzberg_detect",
		Description: "Detect the MIME type of a file path or base64 content.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to detect"},
			"data": map[string]any{"type": "string", "description": "Base64 content to sniff"},
		}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*detectReq)
		var m string
		switch {
		case r.Path != "":
			var err error
			if m, err = p.Detect(r.Path); err != nil {
				return nil, err
			}
		case r.Data != "":
			data, err := base64.StdEncoding.DecodeString(r.Data)
			if err != nil {
				return nil, fmt.Errorf("data: %w", err)
			}
			m = mime.Detect(data)
		default:
			return nil, fmt.Errorf("path or data is required")
		}
		return map[string]any{"mime_type": m, "extensions": mime.ExtensionsFor(m)}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.toolEndpoint("detect", endpoint), kit.DecodeJSON[detectReq]())
}

// --- formats ---

func (p *Pipeline) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "kreuzberg_formats",
		Description: "List the MIME types the registered extractors support.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"formats": p.SupportedFormats()}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.toolEndpoint("formats", endpoint), decode)
}

// --- cache stats ---

func (p *Pipeline) registerCacheStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "kreuzberg_cache_stats",
		Description: "Report result cache hits, misses and size.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return p.cache.Stats(ctx), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.toolEndpoint("cache_stats", endpoint), decode)
}
