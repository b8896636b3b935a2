package pack1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeIdentPreservesSafeBytes(t *testing.T) {
	assert.Equal(t, "internal/search.go", EncodeIdent("internal/search.go"))
	assert.Equal(t, "a-b_c.d:e@f", EncodeIdent("a-b_c.d:e@f"))
}

func TestEncodeIdentEscapesSpaceAndOthers(t *testing.T) {
	assert.Equal(t, "a%20b", EncodeIdent("a b"))
	assert.Equal(t, "50%25", EncodeIdent("50%"))
}

func TestEncodeTextEscapesEverythingButAlnum(t *testing.T) {
	assert.Equal(t, "a%2Fb%2Ec", EncodeText("a/b.c"))
	assert.Equal(t, "hello%20world", EncodeText("hello world"))
}

func TestDecodeRoundTripsIdentAndText(t *testing.T) {
	for _, s := range []string{"internal/search.go", "a b/c.d", "50% done", "func() error"} {
		assert.Equal(t, s, Decode(EncodeIdent(s)))
		assert.Equal(t, s, Decode(EncodeText(s)))
	}
}

func TestDecodeLeavesTrailingPercentLiteral(t *testing.T) {
	assert.Equal(t, "abc%", Decode("abc%"))
	assert.Equal(t, "ab%2", Decode("ab%2"))
}

func TestEncodeHeaderBasicShape(t *testing.T) {
	env := Envelope{Tool: "search", OK: true, Returned: 3, HasTotal: true, Total: 10, TotalMode: "exact"}
	got := encodeHeader(env)
	assert.Equal(t, "PACK1 tool=search ok=true returned=3 total=10 total_mode=exact", got)
}

func TestEncodeHeaderApproxTotalAndExtraFields(t *testing.T) {
	env := Envelope{
		Tool: "list_files", OK: true, Returned: 5,
		HasTotal: true, Total: -1, TotalMode: "approx",
		Extra: []KV{{"offset", "0"}, {"limit", "50"}},
	}
	got := encodeHeader(env)
	assert.Equal(t, "PACK1 tool=list_files ok=true offset=0 limit=50 returned=5 total=-1 total_mode=approx", got)
}

func TestEncodeHeaderFailureOmitsTotal(t *testing.T) {
	env := Envelope{Tool: "read_file", OK: false, Returned: 0}
	got := encodeHeader(env)
	assert.Equal(t, "PACK1 tool=read_file ok=false returned=0", got)
}

func TestEncodeRecordPathKind(t *testing.T) {
	got := encodeRecord(PathRecord("internal/search/search.go"))
	assert.Equal(t, "p:internal/search/search.go", got)
}

func TestEncodeRecordKVKind(t *testing.T) {
	r := KVRecord(KindRecord, KV{"path", "a.go"}, KV{"score", "1.5"})
	assert.Equal(t, "r:path=a.go score=1.5", encodeRecord(r))
}

func TestEncodeRecordKVUnkeyedFieldsJoinWithoutLabel(t *testing.T) {
	r := KVRecord(KindSymbol, KV{"", "Greet"}, KV{"", "func"})
	assert.Equal(t, "s:Greet func", encodeRecord(r))
}

func TestEncodeRecordTextKinds(t *testing.T) {
	assert.Equal(t, "c:package%20main", encodeRecord(TextRecord(KindContent, "package main")))
	assert.Equal(t, "d:returns%20a%20greeting", encodeRecord(TextRecord(KindDocstring, "returns a greeting")))
	assert.Equal(t, "e:not%20found", encodeRecord(TextRecord(KindError, "not found")))
}

func TestTruncationTrailerDefiniteState(t *testing.T) {
	r := TruncationTrailer(false, 20, 20)
	assert.Equal(t, "m:truncated=true next=use_offset offset=20 limit=20", encodeRecord(r))
}

func TestTruncationTrailerMaybeState(t *testing.T) {
	r := TruncationTrailer(true, 0, 50)
	assert.Equal(t, "m:truncated=maybe next=use_offset offset=0 limit=50", encodeRecord(r))
}

func TestEncodeFullBody(t *testing.T) {
	env := Envelope{Tool: "search", OK: true, Returned: 1, HasTotal: true, Total: 1, TotalMode: "exact"}
	records := []Record{
		KVRecord(KindRecord, KV{"path", "a.go"}, KV{"score", "2.0"}),
		TextRecord(KindContent, "package a"),
	}
	got := Encode(env, records)
	want := "PACK1 tool=search ok=true returned=1 total=1 total_mode=exact\n" +
		"r:path=a.go score=2.0\n" +
		"c:package%20a"
	assert.Equal(t, want, got)
}
