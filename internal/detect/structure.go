package detect

import (
	"bytes"
	"encoding/json"
	"regexp"
	"unicode/utf8"
)

// Logical structure tags.
const (
	StructureHTML     = "html"
	StructureJSON     = "json"
	StructureXML      = "xml"
	StructureMarkdown = "markdown"
	StructureCode     = "code"
	StructureText     = "text"
	StructureBinary   = "binary"
)

var (
	htmlMarkers = [][]byte{
		[]byte("<!doctype html"), []byte("<html"), []byte("<head"),
		[]byte("<body"), []byte("<div"), []byte("<p>"), []byte("<title"),
	}
	markdownHeading = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	markdownList    = regexp.MustCompile(`(?m)^\s*[-*+]\s+\S`)
	markdownLink    = regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`)
	codePatterns    = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*func\s+\w+\s*\(`),
		regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\(`),
		regexp.MustCompile(`(?m)^\s*(public|private|protected)\s+\w+`),
		regexp.MustCompile(`(?m)^\s*#include\s*<`),
		regexp.MustCompile(`(?m)^\s*(import|package)\s+[\w."/]+`),
		regexp.MustCompile(`(?m)^\s*(const|let|var)\s+\w+\s*=`),
	}
)

// sniffStructure classifies the logical structure of data and, for text
// formats, the mime type that structure implies. Binary content yields an
// empty implied type so it never influences mime selection.
func sniffStructure(data []byte) (structure, impliedMime string) {
	if len(data) == 0 {
		return StructureBinary, ""
	}
	if !looksTextual(data) {
		return StructureBinary, ""
	}
	trimmed := bytes.TrimSpace(data)
	lower := bytes.ToLower(trimmed)

	for _, m := range htmlMarkers {
		if bytes.Contains(lower, m) {
			return StructureHTML, "text/html"
		}
	}
	if looksJSON(trimmed) {
		return StructureJSON, "application/json"
	}
	if bytes.HasPrefix(lower, []byte("<?xml")) || looksXML(trimmed) {
		return StructureXML, "application/xml"
	}
	if markdownScore(trimmed) >= 2 {
		return StructureMarkdown, "text/markdown"
	}
	for _, p := range codePatterns {
		if p.Match(trimmed) {
			return StructureCode, "text/plain"
		}
	}
	return StructureText, "text/plain"
}

func looksJSON(trimmed []byte) bool {
	if len(trimmed) == 0 {
		return false
	}
	first := trimmed[0]
	if first != '{' && first != '[' {
		return false
	}
	return json.Valid(trimmed)
}

func looksXML(trimmed []byte) bool {
	if len(trimmed) < 3 || trimmed[0] != '<' {
		return false
	}
	// An opening tag with a matching closing tag, not caught by the HTML check.
	return bytes.Contains(trimmed, []byte("</"))
}

func markdownScore(data []byte) int {
	score := 0
	if markdownHeading.Match(data) {
		score++
	}
	if markdownList.Match(data) {
		score++
	}
	if markdownLink.Match(data) {
		score++
	}
	return score
}

// looksTextual samples the head of data for NUL bytes and invalid UTF-8.
func looksTextual(data []byte) bool {
	sample := data
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return false
	}
	invalid := 0
	for len(sample) > 0 {
		r, size := utf8.DecodeRune(sample)
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		sample = sample[size:]
	}
	return invalid*10 < len(data)
}
