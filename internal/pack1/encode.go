package pack1

import "strings"

const upperHex = "0123456789ABCDEF"

// identSafe is the extra byte set an identifier percent-encoding
// preserves unescaped, beyond alphanumerics.
const identSafe = "/._-:@"

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// EncodeIdent percent-encodes s for use as a PACK1 identifier field
// (a path, name, or tag): alphanumerics and "/._-:@" pass through
// unescaped, everything else becomes %XX.
func EncodeIdent(s string) string {
	return encode(s, func(b byte) bool {
		return isAlnum(b) || strings.IndexByte(identSafe, b) >= 0
	})
}

// EncodeText percent-encodes s for use as PACK1 free text (content,
// docstrings, error messages): only alphanumerics pass through
// unescaped — there is no additional safe set.
func EncodeText(s string) string {
	return encode(s, isAlnum)
}

func encode(s string, safe func(byte) bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if safe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

// Decode reverses EncodeIdent/EncodeText: both use the same %XX escape,
// only the safe set differs, so one decoder serves both.
func Decode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if hi, ok := hexVal(s[i+1]); ok {
				if lo, ok := hexVal(s[i+2]); ok {
					b.WriteByte(hi<<4 | lo)
					i += 2
					continue
				}
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
