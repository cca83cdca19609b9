package payload

import "strings"

// SanitizeBase64 repairs the URL-safe and whitespace-damaged base64
// strings Wuzapi emits so they decode with the standard alphabet:
// "-" becomes "+", "_" becomes "/", all whitespace is stripped and the
// result is padded to a multiple of four. A data-URI prefix is cut off
// when present.
func SanitizeBase64(s string) string {
	if i := strings.Index(s, ";base64,"); i >= 0 {
		s = s[i+len(";base64,"):]
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\n', '\r', '\t':
			continue
		case '-':
			b.WriteByte('+')
		case '_':
			b.WriteByte('/')
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if pad := len(out) % 4; pad != 0 {
		out += strings.Repeat("=", 4-pad)
	}
	return out
}
