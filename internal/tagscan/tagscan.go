// Package tagscan implements the single-pass, lenient tag scanner the
// engine uses to read structured fields out of otherwise free-form LLM
// replies. It never attempts strict XML parsing: unknown tags and
// surrounding prose are ignored, exactly as the external LLM tool's
// output is gently coerced by the original orchestrator.
package tagscan

import (
	"regexp"
	"strings"
)

var tagCache = map[string]*regexp.Regexp{}

func tagRegexp(tag string) *regexp.Regexp {
	if re, ok := tagCache[tag]; ok {
		return re
	}
	re := regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
	tagCache[tag] = re
	return re
}

// First returns the trimmed content of the first occurrence of <tag>…</tag>.
func First(text, tag string) (string, bool) {
	m := tagRegexp(tag).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// All returns the trimmed content of every occurrence of <tag>…</tag>,
// dropping empty matches.
func All(text, tag string) []string {
	matches := tagRegexp(tag).FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		v := strings.TrimSpace(m[1])
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Block returns the raw (untrimmed-inner) content of the first <tag>
// block, for callers that need to scan nested tags inside it (e.g. the
// worker's <followups><task>…</task></followups>).
func Block(text, tag string) (string, bool) {
	m := tagRegexp(tag).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var taskOpenRe = regexp.MustCompile(`(?s)<task(?:\s+([^>]*?))?>(.*?)</task>`)

// TaskMatch is one parsed `<task [attr="..."]...>description</task>` element.
type TaskMatch struct {
	Attrs       string
	Description string
}

// Tasks scans every <task ...>description</task> element, in document
// order, along with its raw attribute string (empty if none).
func Tasks(text string) []TaskMatch {
	matches := taskOpenRe.FindAllStringSubmatch(text, -1)
	out := make([]TaskMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, TaskMatch{
			Attrs:       m[1],
			Description: strings.TrimSpace(m[2]),
		})
	}
	return out
}

var attrCache = map[string]*regexp.Regexp{}

// Attr extracts `name="value"` from a task's raw attribute string.
func Attr(attrs, name string) (string, bool) {
	re, ok := attrCache[name]
	if !ok {
		re = regexp.MustCompile(name + `="([^"]*)"`)
		attrCache[name] = re
	}
	m := re.FindStringSubmatch(attrs)
	if m == nil {
		return "", false
	}
	return m[1], true
}
