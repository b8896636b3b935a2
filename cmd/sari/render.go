package main

import (
	"strconv"

	"github.com/sariproject/sari/internal/pack1"
)

// renderPack1 renders one tool's typed response as the PACK1 compact
// text body, the primary MCP content block. Unknown response types
// render as a bare envelope with no records.
func renderPack1(tool string, resp any) string {
	env := pack1.Envelope{Tool: tool, OK: true}
	var records []pack1.Record

	switch r := resp.(type) {
	case pack1.SearchResponse:
		env.OK, env.Returned = r.OK, r.Returned
		env.HasTotal, env.Total, env.TotalMode = true, r.Total, r.TotalMode
		for _, h := range r.Hits {
			records = append(records, pack1.KVRecord(pack1.KindRecord,
				pack1.KV{Key: "path", Value: h.Path},
				pack1.KV{Key: "repo", Value: h.Repo},
				pack1.KV{Key: "score", Value: strconv.FormatFloat(h.Score, 'f', 2, 64)},
			))
			records = append(records, pack1.TextRecord(pack1.KindContent, h.Snippet))
		}
		if r.Total > r.Returned {
			records = append(records, pack1.TruncationTrailer(false, 0, r.Returned))
		}

	case pack1.SearchSymbolsResponse:
		env.OK, env.Returned = r.OK, r.Returned
		for _, s := range r.Results {
			records = append(records, symbolHeader(s))
		}

	case pack1.SearchAPIEndpointsResponse:
		env.OK, env.Returned = r.OK, r.Returned
		for _, s := range r.Results {
			records = append(records, symbolHeader(s))
		}

	case pack1.ListFilesResponse:
		env.OK, env.Returned = r.OK, r.Returned
		env.HasTotal, env.Total, env.TotalMode = true, r.Total, r.TotalMode
		for _, p := range r.Paths {
			records = append(records, pack1.PathRecord(p))
		}
		if r.Total > r.Returned {
			records = append(records, pack1.TruncationTrailer(false, 0, r.Returned))
		}

	case pack1.ReadFileResponse:
		env.OK, env.Returned = r.OK, 1
		env.Extra = []pack1.KV{
			{Key: "path", Value: r.Path},
			{Key: "bytes", Value: strconv.FormatInt(r.ContentBytes, 10)},
			{Key: "mtime", Value: strconv.FormatInt(r.Mtime, 10)},
		}
		records = append(records, pack1.TextRecord(pack1.KindContent, r.Content))

	case pack1.ReadSymbolResponse:
		env.OK, env.Returned = r.OK, 1
		records = append(records, pack1.KVRecord(pack1.KindHeader,
			pack1.KV{Key: "name", Value: r.Name},
			pack1.KV{Key: "kind", Value: r.Kind},
			pack1.KV{Key: "path", Value: r.Path},
			pack1.KV{Key: "start_line", Value: strconv.Itoa(r.StartLine)},
			pack1.KV{Key: "end_line", Value: strconv.Itoa(r.EndLine)},
		))
		records = append(records, pack1.TextRecord(pack1.KindContent, r.Content))

	case pack1.GetCallersResponse:
		env.OK, env.Returned = r.OK, r.Returned
		for _, rel := range r.Results {
			records = append(records, relationRecord(rel))
		}

	case pack1.GetImplementationsResponse:
		env.OK, env.Returned = r.OK, r.Returned
		for _, rel := range r.Results {
			records = append(records, relationRecord(rel))
		}

	case pack1.CallGraphResponse:
		env.OK = r.OK
		env.Extra = []pack1.KV{{Key: "root", Value: r.Root}}
		for _, n := range r.Nodes {
			records = append(records, pack1.PathRecord(n))
		}
		for _, e := range r.Edges {
			records = append(records, pack1.KVRecord(pack1.KindRecord,
				pack1.KV{Key: "from", Value: e.From},
				pack1.KV{Key: "to", Value: e.To},
				pack1.KV{Key: "path", Value: e.Path},
				pack1.KV{Key: "line", Value: strconv.Itoa(e.Line)},
			))
		}
		if r.Truncated {
			records = append(records, pack1.TruncationTrailer(true, 0, len(r.Edges)))
		}

	case pack1.RepoCandidatesResponse:
		env.OK = r.OK
		env.Returned = len(r.Candidates)
		for _, rc := range r.Candidates {
			records = append(records, pack1.KVRecord(pack1.KindRecord,
				pack1.KV{Key: "repo_name", Value: rc.RepoName},
				pack1.KV{Key: "domain", Value: rc.Domain},
				pack1.KV{Key: "priority", Value: strconv.Itoa(rc.Priority)},
			))
		}

	case pack1.StatusResponse:
		env.OK = r.OK
		records = append(records, statusMetrics(r))

	case pack1.DoctorResponse:
		env.OK = r.OK
		records = append(records, statusMetrics(r.StatusResponse))
		for _, chk := range r.Checks {
			records = append(records, pack1.KVRecord(pack1.KindMetrics,
				pack1.KV{Key: "check", Value: chk.Name},
				pack1.KV{Key: "ok", Value: strconv.FormatBool(chk.OK)},
				pack1.KV{Key: "detail", Value: chk.Detail},
			))
		}

	case pack1.RescanResponse:
		env.OK = r.OK
		records = append(records, pack1.KVRecord(pack1.KindMetrics, pack1.KV{Key: "queued", Value: strconv.Itoa(r.Queued)}))

	case pack1.ScanOnceResponse:
		env.OK = r.OK
		records = append(records, pack1.KVRecord(pack1.KindMetrics, pack1.KV{Key: "files_scanned", Value: strconv.Itoa(r.FilesScanned)}))

	case pack1.IndexFileResponse:
		env.OK = r.OK
		records = append(records, pack1.KVRecord(pack1.KindMetrics, pack1.KV{Key: "indexed", Value: strconv.FormatBool(r.Indexed)}))

	case pack1.SnippetResponse:
		env.OK = r.OK
		records = append(records, snippetRecord(r.Snippet))

	case pack1.SnippetListResponse:
		env.OK, env.Returned = r.OK, r.Returned
		for _, s := range r.Snippets {
			records = append(records, snippetRecord(s))
		}

	case pack1.SnippetDeleteResponse:
		env.OK = r.OK
		records = append(records, pack1.KVRecord(pack1.KindMetrics, pack1.KV{Key: "deleted", Value: strconv.FormatBool(r.Deleted)}))

	case pack1.GuideResponse:
		env.OK = r.OK
		env.Extra = []pack1.KV{{Key: "version", Value: r.Version}}
		for _, name := range r.Ordering {
			records = append(records, pack1.PathRecord(name))
		}
	}

	return pack1.Encode(env, records)
}

func symbolHeader(s pack1.SymbolResult) pack1.Record {
	return pack1.KVRecord(pack1.KindHeader,
		pack1.KV{Key: "name", Value: s.Name},
		pack1.KV{Key: "kind", Value: s.Kind},
		pack1.KV{Key: "path", Value: s.Path},
		pack1.KV{Key: "line", Value: strconv.Itoa(s.Line)},
	)
}

func relationRecord(rel pack1.RelationResult) pack1.Record {
	return pack1.KVRecord(pack1.KindRecord,
		pack1.KV{Key: "from_symbol", Value: rel.FromSymbol},
		pack1.KV{Key: "to_symbol", Value: rel.ToSymbol},
		pack1.KV{Key: "rel_type", Value: rel.RelType},
		pack1.KV{Key: "line", Value: strconv.Itoa(rel.Line)},
	)
}

func snippetRecord(s pack1.Snippet) pack1.Record {
	return pack1.KVRecord(pack1.KindRecord,
		pack1.KV{Key: "tag", Value: s.Tag},
		pack1.KV{Key: "path", Value: s.Path},
		pack1.KV{Key: "start_line", Value: strconv.Itoa(s.StartLine)},
		pack1.KV{Key: "end_line", Value: strconv.Itoa(s.EndLine)},
	)
}

func statusMetrics(s pack1.StatusResponse) pack1.Record {
	return pack1.KVRecord(pack1.KindMetrics,
		pack1.KV{Key: "queue_discovery", Value: strconv.Itoa(s.QueueDiscovery)},
		pack1.KV{Key: "queue_db_writer", Value: strconv.Itoa(s.QueueDBWriter)},
		pack1.KV{Key: "last_commit_ts", Value: strconv.FormatInt(s.LastCommitTS, 10)},
		pack1.KV{Key: "engine_ready", Value: strconv.FormatBool(s.EngineReady)},
		pack1.KV{Key: "dlq_size", Value: strconv.Itoa(s.DLQSize)},
	)
}
