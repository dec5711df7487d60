// Package keys builds storage keys for bucket records.
package keys

import (
	"strings"
	"unicode"
)

const (
	DefaultNamespace = "wx"
	bucketSegment    = "bucket"
)

// BucketKey returns "<ns>:bucket:<id>". Ids are sanitized so a malformed id
// can never escape the namespace or inject glob characters into SCAN.
func BucketKey(ns, bucketID string) string {
	return Prefix(ns) + sanitizeID(strings.TrimSpace(bucketID))
}

// Prefix is the shared prefix of every bucket key in a namespace.
func Prefix(ns string) string {
	ns = sanitizeNamespace(strings.TrimSpace(ns))
	if ns == "" {
		ns = DefaultNamespace
	}
	return ns + ":" + bucketSegment + ":"
}

// Pattern is a SCAN MATCH pattern covering every bucket key in ns.
func Pattern(ns string) string {
	return Prefix(ns) + "*"
}

// BucketID strips the namespace prefix; ok is false for foreign keys.
func BucketID(ns, key string) (string, bool) {
	p := Prefix(ns)
	if !strings.HasPrefix(key, p) || len(key) == len(p) {
		return "", false
	}
	return key[len(p):], true
}

func sanitizeID(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case isAlphaNum(r) || r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			// Any other rune (including non-ASCII) becomes '~'
			b.WriteByte('~')
		}
	}
	return b.String()
}

func sanitizeNamespace(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return strings.Trim(b.String(), ":")
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
