// Package textsan reduces user-supplied text (pseudos, group names, chat lines) to plain text.
package textsan

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict strips every element; script and style bodies are dropped with their tags.
var strict = bluemonday.StrictPolicy()

// Plain removes markup from s, decodes entities and trims surrounding space.
// The result is meant to be escaped by whatever renders it.
func Plain(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}
