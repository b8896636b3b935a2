// Package pack1 implements the PACK1 compact line-oriented text
// encoding: one header line per tool response, followed by kind-prefixed
// record lines, plus the typed JSON-equivalent request/response structs
// for every tool in the surface. This package only shapes and encodes —
// it never parses a wire frame (that is the transport's job).
package pack1

import (
	"fmt"
	"strconv"
	"strings"
)

// RecordKind is the single-letter prefix identifying a PACK1 record line.
type RecordKind byte

const (
	KindPath      RecordKind = 'p' // path-only value
	KindRecord    RecordKind = 'r' // record K/V set (search/repo hits)
	KindHeader    RecordKind = 'h' // symbol/header record
	KindMetrics   RecordKind = 'm' // metrics/metadata, also the pagination trailer
	KindSymbol    RecordKind = 's' // symbol block
	KindContent   RecordKind = 'c' // content
	KindDocstring RecordKind = 'd' // docstring
	KindError     RecordKind = 'e' // error
)

// Envelope is the header line's fixed fields:
// "PACK1 tool=<name> ok=<true|false> [k=v ...] [returned=N] [total=M] [total_mode=exact|approx]".
type Envelope struct {
	Tool      string
	OK        bool
	Returned  int
	HasTotal  bool
	Total     int // may be -1 in approx mode (unknown exact count)
	TotalMode string
	Extra     []KV // additional header k=v pairs, in the order given
}

// KV is one key=value pair; Key is unescaped, Value is percent-encoded
// as an identifier field.
type KV struct {
	Key, Value string
}

// Record is one body line: a kind prefix followed by its fields joined
// with spaces, or (for c:/d:/e:) a single percent-encoded text payload.
type Record struct {
	Kind   RecordKind
	Fields []KV   // used by p/r/h/m/s records
	Text   string // used by c/d/e records; percent-encoded as free text
}

// PathRecord builds a "p:<path>" record.
func PathRecord(path string) Record {
	return Record{Kind: KindPath, Fields: []KV{{"", path}}}
}

// KVRecord builds an r:/h:/m:/s: record from ordered key/value fields.
func KVRecord(kind RecordKind, fields ...KV) Record {
	return Record{Kind: kind, Fields: fields}
}

// TextRecord builds a c:/d:/e: record carrying free text.
func TextRecord(kind RecordKind, text string) Record {
	return Record{Kind: kind, Text: text}
}

// TruncationTrailer builds the "m:truncated=..." pagination trailer
// appended when a response was capped before exhausting its matches.
func TruncationTrailer(maybe bool, offset, limit int) Record {
	state := "true"
	if maybe {
		state = "maybe"
	}
	return KVRecord(KindMetrics,
		KV{"truncated", state},
		KV{"next", "use_offset"},
		KV{"offset", strconv.Itoa(offset)},
		KV{"limit", strconv.Itoa(limit)},
	)
}

// Encode renders env and records as the full PACK1 text body.
func Encode(env Envelope, records []Record) string {
	var lines []string
	lines = append(lines, encodeHeader(env))
	for _, r := range records {
		lines = append(lines, encodeRecord(r))
	}
	return strings.Join(lines, "\n")
}

func encodeHeader(env Envelope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PACK1 tool=%s ok=%t", EncodeIdent(env.Tool), env.OK)
	for _, kv := range env.Extra {
		fmt.Fprintf(&b, " %s=%s", kv.Key, EncodeIdent(kv.Value))
	}
	fmt.Fprintf(&b, " returned=%d", env.Returned)
	if env.HasTotal {
		fmt.Fprintf(&b, " total=%d", env.Total)
	}
	if env.TotalMode != "" {
		fmt.Fprintf(&b, " total_mode=%s", env.TotalMode)
	}
	return b.String()
}

func encodeRecord(r Record) string {
	switch r.Kind {
	case KindContent, KindDocstring, KindError:
		return string(r.Kind) + ":" + EncodeText(r.Text)
	case KindPath:
		path := ""
		if len(r.Fields) > 0 {
			path = r.Fields[0].Value
		}
		return string(r.Kind) + ":" + EncodeIdent(path)
	default:
		parts := make([]string, 0, len(r.Fields))
		for _, kv := range r.Fields {
			if kv.Key == "" {
				parts = append(parts, EncodeIdent(kv.Value))
				continue
			}
			parts = append(parts, kv.Key+"="+EncodeIdent(kv.Value))
		}
		return string(r.Kind) + ":" + strings.Join(parts, " ")
	}
}
