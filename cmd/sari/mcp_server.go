package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sariproject/sari/internal/mcptools"
	"github.com/sariproject/sari/internal/pack1"
)

// mcpServer wraps the wire-protocol concerns the daemon itself never
// touches: schema registration, argument decoding and PACK1 rendering
// all live here so internal/mcptools stays transport-agnostic.
type mcpServer struct {
	server *mcp.Server
}

func newMCPServer(tools *mcptools.Toolset) *mcpServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "sari",
		Version: version,
	}, nil)

	s := &mcpServer{server: server}
	s.registerTools(tools)
	return s
}

func (s *mcpServer) run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *mcpServer) registerTools(t *mcptools.Toolset) {
	s.server.AddTool(&mcp.Tool{
		Name:        "search",
		Description: "Full-text and symbol-aware search across every indexed workspace root.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query":         strSchema("Search query"),
				"max":           intSchema("Maximum hits to return"),
				"offset":        intSchema("Pagination offset"),
				"regex":         boolSchema("Treat query as a regular expression"),
				"snippet_lines": intSchema("Lines of context per hit"),
				"root":          strSchema("Workspace root; accepted but not applied as a filter"),
				"repo":          strSchema("Restrict to one repo"),
				"file_ext":      strSchema("Restrict to one file extension"),
				"path_glob":     strSchema("Restrict to paths matching this glob"),
				"exclude_globs": strArraySchema("Exclude paths matching these globs"),
			},
			Required: []string{"query"},
		},
	}, handlerFor("search", t.Search))

	s.server.AddTool(&mcp.Tool{
		Name:        "search_symbols",
		Description: "Find symbol definitions by exact or substring name.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": strSchema("Symbol name or substring"),
				"max":  intSchema("Maximum results"),
			},
			Required: []string{"name"},
		},
	}, handlerFor("search_symbols", t.SearchSymbols))

	s.server.AddTool(&mcp.Tool{
		Name:        "search_api_endpoints",
		Description: "Find route/handler-shaped function and method symbols.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"pattern": strSchema("Name/path substring filter"),
				"max":     intSchema("Maximum results"),
			},
		},
	}, handlerFor("search_api_endpoints", t.SearchAPIEndpoints))

	s.server.AddTool(&mcp.Tool{
		Name:        "list_files",
		Description: "List indexed file paths, optionally filtered by glob or repo.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path_glob":     strSchema("Glob to match paths against"),
				"repo":          strSchema("Restrict to one repo"),
				"exclude_globs": strArraySchema("Exclude paths matching these globs"),
				"max":           intSchema("Maximum paths to return"),
				"offset":        intSchema("Pagination offset"),
			},
		},
	}, handlerFor("list_files", t.ListFiles))

	s.server.AddTool(&mcp.Tool{
		Name:        "read_file",
		Description: "Read one indexed file's stored content by file key or path.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"key": strSchema("File key or path"),
			},
			Required: []string{"key"},
		},
	}, handlerFor("read_file", t.ReadFile))

	s.server.AddTool(&mcp.Tool{
		Name:        "read_symbol",
		Description: "Read one symbol's declaration body by file key and name.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"key":  strSchema("File key or path"),
				"name": strSchema("Symbol name"),
			},
			Required: []string{"name"},
		},
	}, handlerFor("read_symbol", t.ReadSymbol))

	s.server.AddTool(&mcp.Tool{
		Name:        "get_callers",
		Description: "List call-relation edges that call the named symbol.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": strSchema("Symbol name"),
			},
			Required: []string{"name"},
		},
	}, handlerFor("get_callers", t.GetCallers))

	s.server.AddTool(&mcp.Tool{
		Name:        "get_implementations",
		Description: "List extends- and implements-relation edges for the named interface/type.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": strSchema("Symbol name"),
			},
			Required: []string{"name"},
		},
	}, handlerFor("get_implementations", t.GetImplementations))

	s.server.AddTool(&mcp.Tool{
		Name:        "call_graph",
		Description: "Traverse the call graph from a symbol up to a bounded depth.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name":  strSchema("Root symbol name"),
				"depth": intSchema("Traversal depth"),
			},
			Required: []string{"name"},
		},
	}, handlerFor("call_graph", t.CallGraph))

	s.server.AddTool(&mcp.Tool{
		Name:        "repo_candidates",
		Description: "List every repo with stored manifest metadata, ranked by priority.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, handlerFor("repo_candidates", t.RepoCandidates))

	s.server.AddTool(&mcp.Tool{
		Name:        "status",
		Description: "Report queue depths, last commit time, engine readiness and DLQ size.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, handlerFor("status", t.Status))

	s.server.AddTool(&mcp.Tool{
		Name:        "doctor",
		Description: "Run self-diagnostic checks in addition to the status snapshot.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, handlerFor("doctor", t.Doctor))

	s.server.AddTool(&mcp.Tool{
		Name:        "rescan",
		Description: "Queue a full rescan of a workspace root; returns immediately.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"root": strSchema("Workspace root label")},
		},
	}, handlerFor("rescan", t.Rescan))

	s.server.AddTool(&mcp.Tool{
		Name:        "scan_once",
		Description: "Run one synchronous full scan of a workspace root.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"root": strSchema("Workspace root label")},
		},
	}, handlerFor("scan_once", t.ScanOnce))

	s.server.AddTool(&mcp.Tool{
		Name:        "index_file",
		Description: "Reindex exactly one file synchronously, out of band from the watcher.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"path": strSchema("File key (<root-id>/<rel-path>) to reindex")},
			Required:   []string{"path"},
		},
	}, handlerFor("index_file", t.IndexFile))

	s.server.AddTool(&mcp.Tool{
		Name:        "snippet_create",
		Description: "Retain a tagged line range of a file as a named snippet.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"tag":        strSchema("Snippet tag"),
				"path":       strSchema("File path"),
				"start_line": intSchema("First line, 1-based"),
				"end_line":   intSchema("Last line, 1-based"),
			},
			Required: []string{"tag", "path"},
		},
	}, handlerFor("snippet_create", t.SnippetCreate))

	s.server.AddTool(&mcp.Tool{
		Name:        "snippet_list",
		Description: "List retained snippets, optionally filtered by tag.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"tag": strSchema("Snippet tag filter")},
		},
	}, handlerFor("snippet_list", t.SnippetList))

	s.server.AddTool(&mcp.Tool{
		Name:        "snippet_delete",
		Description: "Delete a retained snippet by id.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"id": intSchema("Snippet id")},
			Required:   []string{"id"},
		},
	}, handlerFor("snippet_delete", t.SnippetDelete))

	s.server.AddTool(&mcp.Tool{
		Name:        "sari_guide",
		Description: "Describe the recommended tool ordering for a search-then-narrow workflow.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := t.Guide(ctx)
		if err != nil {
			return errorResult("sari_guide", err), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: renderPack1("sari_guide", resp)}}}, nil
	})
}

// handlerFor adapts one Toolset method into the SDK's untyped handler
// shape: decode arguments into Req, call the method, render the typed
// response as PACK1 text.
func handlerFor[Req any, Resp any](name string, call func(context.Context, Req) (Resp, error)) func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args Req
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(name, fmt.Errorf("invalid parameters: %w", err)), nil
			}
		}
		resp, err := call(ctx, args)
		if err != nil {
			return errorResult(name, err), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: renderPack1(name, resp)}}}, nil
	}
}

// errorResult mirrors the MCP convention of reporting tool failures
// inside the result with IsError set, not as a protocol-level error, so
// a calling model can see and self-correct.
func errorResult(tool string, err error) *mcp.CallToolResult {
	env := pack1.Envelope{Tool: tool, OK: false}
	body := pack1.Encode(env, []pack1.Record{pack1.TextRecord(pack1.KindError, err.Error())})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: body}},
	}
}

func strSchema(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func intSchema(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: desc}
}

func boolSchema(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: desc}
}

func strArraySchema(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}, Description: desc}
}
