package lrgraph

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// Normalize turns free text (a resource locator, a standard notation, a
// submitter name) into the key under which it is indexed. Invalid UTF-8 is
// replaced with U+FFFD before escaping so that equal text always yields an
// equal key. The escaping is form style (spaces become '+') and can be undone
// with Denormalize. An empty input yields an empty key.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, string(utf8.RuneError))
	}
	return url.QueryEscape(raw)
}

// Denormalize reverses Normalize for display. Keys which were not produced by
// Normalize are returned unchanged.
func Denormalize(key string) string {
	raw, err := url.QueryUnescape(key)
	if err != nil {
		return key
	}
	return raw
}
