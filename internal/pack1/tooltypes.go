package pack1

// This file holds the typed Go request/response structs for every tool
// named in the tool surface. They are the JSON encoding directly (via
// struct tags) and the source data the PACK1 encoder formats from; a
// given tool handler builds one of these, then renders it either way.

// SearchRequest is the search tool's argument shape.
type SearchRequest struct {
	Query        string   `json:"query"`
	Max          int      `json:"max,omitempty"`
	Offset       int      `json:"offset,omitempty"`
	Regex        bool     `json:"regex,omitempty"`
	SnippetLines int      `json:"snippet_lines,omitempty"`
	Root         string   `json:"root,omitempty"`
	Repo         string   `json:"repo,omitempty"`
	FileExt      string   `json:"file_ext,omitempty"`
	PathGlob     string   `json:"path_glob,omitempty"`
	ExcludeGlobs []string `json:"exclude_globs,omitempty"`
}

// SearchHit is one ranked, snippeted search result.
type SearchHit struct {
	Path    string  `json:"path"`
	RelPath string  `json:"rel_path"`
	Repo    string  `json:"repo"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// SearchResponse is the search tool's result shape.
type SearchResponse struct {
	OK         bool        `json:"ok"`
	Hits       []SearchHit `json:"hits"`
	Returned   int         `json:"returned"`
	Total      int         `json:"total"`
	TotalMode  string      `json:"total_mode"`
	RegexError string      `json:"regex_error,omitempty"`
	DidYouMean string      `json:"did_you_mean,omitempty"`
}

// SearchSymbolsRequest is the search_symbols tool's argument shape.
type SearchSymbolsRequest struct {
	Name string `json:"name"`
	Max  int    `json:"max,omitempty"`
}

// SymbolResult is one symbol-lookup hit.
type SymbolResult struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Path     string `json:"path"`
	Line     int    `json:"line"`
	EndLine  int    `json:"end_line"`
	Parent   string `json:"parent,omitempty"`
	DeclLine string `json:"decl_line,omitempty"`
}

// SearchSymbolsResponse is the search_symbols tool's result shape;
// Results is capped at 50 regardless of how many symbols matched.
type SearchSymbolsResponse struct {
	OK       bool           `json:"ok"`
	Results  []SymbolResult `json:"results"`
	Returned int            `json:"returned"`
}

// SearchAPIEndpointsRequest is the search_api_endpoints tool's argument
// shape: a name/path substring restricted to function/method symbols
// whose declaration looks like a route/handler registration.
type SearchAPIEndpointsRequest struct {
	Pattern string `json:"pattern,omitempty"`
	Max     int    `json:"max,omitempty"`
}

// SearchAPIEndpointsResponse mirrors SearchSymbolsResponse's shape.
type SearchAPIEndpointsResponse struct {
	OK       bool           `json:"ok"`
	Results  []SymbolResult `json:"results"`
	Returned int            `json:"returned"`
}

// ListFilesRequest is the list_files tool's argument shape.
type ListFilesRequest struct {
	PathGlob     string   `json:"path_glob,omitempty"`
	Repo         string   `json:"repo,omitempty"`
	ExcludeGlobs []string `json:"exclude_globs,omitempty"`
	Max          int      `json:"max,omitempty"`
	Offset       int      `json:"offset,omitempty"`
}

// ListFilesResponse's Paths is capped at 200 entries.
type ListFilesResponse struct {
	OK        bool     `json:"ok"`
	Paths     []string `json:"paths"`
	Returned  int      `json:"returned"`
	Total     int      `json:"total"`
	TotalMode string   `json:"total_mode"`
}

// ReadFileRequest is the read_file tool's argument shape.
type ReadFileRequest struct {
	Key string `json:"key"`
}

// ReadFileResponse is the read_file tool's result shape.
type ReadFileResponse struct {
	OK           bool   `json:"ok"`
	Path         string `json:"path"`
	Content      string `json:"content"`
	ContentBytes int64  `json:"content_bytes"`
	Mtime        int64  `json:"mtime"`
}

// ReadSymbolRequest is the read_symbol tool's argument shape.
type ReadSymbolRequest struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// ReadSymbolResponse is the read_symbol tool's result shape.
type ReadSymbolResponse struct {
	OK        bool   `json:"ok"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
}

// RelationResult is one caller/implementation/call-graph edge.
type RelationResult struct {
	FromSymbol string `json:"from_symbol"`
	FromPath   string `json:"from_path"`
	ToSymbol   string `json:"to_symbol"`
	RelType    string `json:"rel_type"`
	Line       int    `json:"line"`
}

// GetCallersRequest is the get_callers tool's argument shape.
type GetCallersRequest struct {
	Name string `json:"name"`
}

// GetCallersResponse is the get_callers tool's result shape.
type GetCallersResponse struct {
	OK       bool             `json:"ok"`
	Results  []RelationResult `json:"results"`
	Returned int              `json:"returned"`
}

// GetImplementationsRequest is the get_implementations tool's argument
// shape.
type GetImplementationsRequest struct {
	Name string `json:"name"`
}

// GetImplementationsResponse mirrors GetCallersResponse's shape.
type GetImplementationsResponse struct {
	OK       bool             `json:"ok"`
	Results  []RelationResult `json:"results"`
	Returned int              `json:"returned"`
}

// CallGraphRequest is the call_graph tool's argument shape.
type CallGraphRequest struct {
	Name  string `json:"name"`
	Depth int    `json:"depth,omitempty"`
}

// CallGraphEdge is one edge in a call-graph traversal.
type CallGraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Path string `json:"path"`
	Line int    `json:"line"`
}

// CallGraphResponse is the call_graph tool's result shape.
type CallGraphResponse struct {
	OK        bool            `json:"ok"`
	Root      string          `json:"root"`
	Nodes     []string        `json:"nodes"`
	Edges     []CallGraphEdge `json:"edges"`
	Truncated bool            `json:"truncated"`
}

// RepoCandidatesRequest takes no arguments; it lists every repo with
// stored metadata.
type RepoCandidatesRequest struct{}

// RepoCandidate is one repo's metadata row.
type RepoCandidate struct {
	RepoName    string   `json:"repo_name"`
	Domain      string   `json:"domain,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Priority    int      `json:"priority"`
}

// RepoCandidatesResponse is the repo_candidates tool's result shape.
type RepoCandidatesResponse struct {
	OK         bool            `json:"ok"`
	Candidates []RepoCandidate `json:"candidates"`
}

// StatusRequest takes no arguments.
type StatusRequest struct{}

// StatusResponse surfaces queue depths, commit latency, and engine
// readiness — the fields status/doctor both read from the in-process
// metrics registry.
type StatusResponse struct {
	OK             bool     `json:"ok"`
	QueueDiscovery int      `json:"queue_discovery"`
	QueueDBWriter  int      `json:"queue_db_writer"`
	LastCommitTS   int64    `json:"last_commit_ts"`
	EngineReady    bool     `json:"engine_ready"`
	EngineReason   string   `json:"engine_reason,omitempty"`
	DLQSize        int      `json:"dlq_size"`
	TopSlowFiles   []string `json:"top_slow_files,omitempty"`
}

// DoctorResponse extends status with a self-diagnostic summary; doctor
// never mutates state.
type DoctorResponse struct {
	StatusResponse
	Checks []DoctorCheck `json:"checks"`
}

// DoctorCheck is one named diagnostic result.
type DoctorCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// RescanRequest is the rescan tool's argument shape: re-walk root from
// scratch and reconcile against stored state.
type RescanRequest struct {
	Root string `json:"root,omitempty"`
}

// RescanResponse is the rescan tool's result shape.
type RescanResponse struct {
	OK     bool `json:"ok"`
	Queued int  `json:"queued"`
}

// ScanOnceRequest is the scan_once tool's argument shape: a single
// non-recurring directory walk, used by callers that manage their own
// watch loop.
type ScanOnceRequest struct {
	Root string `json:"root,omitempty"`
}

// ScanOnceResponse is the scan_once tool's result shape.
type ScanOnceResponse struct {
	OK           bool `json:"ok"`
	FilesScanned int  `json:"files_scanned"`
}

// IndexFileRequest is the index_file tool's argument shape: index or
// re-index exactly one file, addressed by its file key
// ("<root-id>/<rel-path>"), out of band from the watcher/scanner.
type IndexFileRequest struct {
	Path string `json:"path"`
}

// IndexFileResponse is the index_file tool's result shape.
type IndexFileResponse struct {
	OK      bool `json:"ok"`
	Indexed bool `json:"indexed"`
}

// Snippet is a long-lived, user-tagged code range retained for later
// recall by tag.
type Snippet struct {
	ID        int64  `json:"id"`
	Tag       string `json:"tag"`
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content,omitempty"`
	CreatedTS int64  `json:"created_ts"`
	UpdatedTS int64  `json:"updated_ts"`
}

// SnippetCreateRequest is the snippet-create tool's argument shape.
type SnippetCreateRequest struct {
	Tag       string `json:"tag"`
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// SnippetResponse wraps a single snippet result.
type SnippetResponse struct {
	OK      bool    `json:"ok"`
	Snippet Snippet `json:"snippet"`
}

// SnippetListRequest is the snippet-list tool's argument shape; an empty
// Tag lists every retained snippet.
type SnippetListRequest struct {
	Tag string `json:"tag,omitempty"`
}

// SnippetListResponse is the snippet-list tool's result shape.
type SnippetListResponse struct {
	OK       bool      `json:"ok"`
	Snippets []Snippet `json:"snippets"`
	Returned int       `json:"returned"`
}

// SnippetDeleteRequest is the snippet-delete tool's argument shape.
type SnippetDeleteRequest struct {
	ID int64 `json:"id"`
}

// SnippetDeleteResponse is the snippet-delete tool's result shape.
type SnippetDeleteResponse struct {
	OK      bool `json:"ok"`
	Deleted bool `json:"deleted"`
}

// GuideResponse is the sari_guide/help tool's result shape: a stable,
// versioned description of the tool ordering callers should follow
// (search first, then narrow with read/graph tools).
type GuideResponse struct {
	OK       bool     `json:"ok"`
	Version  string   `json:"version"`
	Ordering []string `json:"ordering"`
	Notes    []string `json:"notes,omitempty"`
}
