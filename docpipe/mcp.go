package docpipe

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mockinterview/horosafe"
	"github.com/hazyhaar/mockinterview/idgen"
	"github.com/hazyhaar/mockinterview/kit"
)

// toolRequestPrefix marks request IDs minted for MCP calls that arrived
// without one.
const toolRequestPrefix = "mcp_"

// RegisterMCP registers the résumé tools on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerParseTool(srv)
	p.registerStrategiesTool(srv)
}

// toolLogging logs one debug line per tool call with its request ID and
// duration.
func toolLogging(logger *slog.Logger, tool string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"tool", tool,
				"request_id", kit.GetRequestID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				attrs = append(attrs, "error", err)
			}
			logger.DebugContext(ctx, "mcp tool call", attrs...)
			return resp, err
		}
	}
}

// withToolRequestID keeps an inbound request ID and mints one otherwise.
func withToolRequestID(ctx context.Context) context.Context {
	if kit.GetRequestID(ctx) != "" {
		return ctx
	}
	return kit.WithRequestID(ctx, idgen.Prefixed(toolRequestPrefix, idgen.Default)())
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

// --- parse ---

type parseReq struct {
	Filename      string `json:"filename"`
	MediaType     string `json:"media_type"`
	ContentBase64 string `json:"content_base64"`
}

func (p *Pipeline) registerParseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "resume_parse",
		Description: "Extract plain text from a PDF résumé. Returns success, text, the strategy used and a user-facing error.",
		InputSchema: inputSchema(map[string]any{
			"filename":       map[string]any{"type": "string", "description": "Original file name, e.g. resume.pdf"},
			"media_type":     map[string]any{"type": "string", "description": "Media type (default application/pdf)"},
			"content_base64": map[string]any{"type": "string", "description": "File content, standard base64"},
		}, []string{"filename", "content_base64"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*parseReq)
		data, err := base64.StdEncoding.DecodeString(r.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("content_base64: %w", err)
		}
		if int64(len(data)) > p.MaxFileSize()+multipartSlack {
			return nil, fmt.Errorf("file exceeds the %s limit", formatMB(p.MaxFileSize()))
		}
		mediaType := r.MediaType
		if mediaType == "" {
			mediaType = p.cfg.AcceptedType
		}
		return p.ParseFile(ctx, Document{
			Content:   data,
			MediaType: mediaType,
			Filename:  horosafe.CleanFilename(r.Filename),
		}, nil), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		decoded, err := kit.DecodeArgs[parseReq](req)
		if err != nil {
			return nil, err
		}
		decoded.EnrichCtx = withToolRequestID
		return decoded, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(toolLogging(p.logger, tool.Name))(endpoint), decode)
}

// --- strategies ---

func (p *Pipeline) registerStrategiesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "resume_strategies",
		Description: "List the registered extraction strategies in execution order with their current availability.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return map[string]any{"strategies": p.StrategyInfo(ctx)}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil, EnrichCtx: withToolRequestID}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(toolLogging(p.logger, tool.Name))(endpoint), decode)
}
