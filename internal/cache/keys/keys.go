// Package keys derives content store keys for tile content URIs.
package keys

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Key returns the store key for a content uri of a tileset. Equivalent URIs
// ("./a/b.b3dm", "a//b.b3dm") map to the same key.
func Key(tileset, uri string) string {
	name := sanitize(strings.TrimSpace(tileset))
	norm := NormalizeURI(uri)

	readable := sanitize(norm)
	const maxReadableLen = 120
	if len(readable) > maxReadableLen {
		readable = readable[len(readable)-maxReadableLen:]
	}

	sum := xxhash.Sum64String(norm)
	return fmt.Sprintf("tile:%s:%s:u=%016x", name, readable, sum)
}

// NormalizeURI cleans the path part of a relative content uri and keeps any
// query string verbatim.
func NormalizeURI(uri string) string {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ""
	}
	p, q, hasQuery := strings.Cut(uri, "?")
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if hasQuery {
		return p + "?" + q
	}
	return p
}

func sanitize(s string) string {
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
		case isAlphaNum(r) || r == '/' || r == '.' || r == '_' || r == '-':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
