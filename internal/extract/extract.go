// Package extract recovers a JSON object from free-form model output.
//
// Generation services asked to emit JSON routinely wrap the object in
// prose or markdown code fences. Object tolerates both: it strips any
// ```json / ``` fence markers and takes the substring spanning the first
// '{' to the last '}'. That heuristic assumes exactly one embedded
// object; inputs with several JSON-like blocks are parsed across the
// whole span and usually fail, which callers must treat as "no
// structured data available", never as a fatal error.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceMarkers = regexp.MustCompile("(?i)```json|```")

// Object returns the raw JSON object embedded in raw, and whether one
// was found and parsed. The returned slice is valid JSON when ok is true.
func Object(raw string) (json.RawMessage, bool) {
	cleaned := strings.TrimSpace(fenceMarkers.ReplaceAllString(strings.TrimSpace(raw), ""))

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return nil, false
	}

	candidate := cleaned[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, false
	}

	return json.RawMessage(candidate), true
}

// Decode extracts the embedded object and unmarshals it into v.
// Returns false when no parseable object is present or it does not fit v.
func Decode(raw string, v interface{}) bool {
	obj, ok := Object(raw)
	if !ok {
		return false
	}
	return json.Unmarshal(obj, v) == nil
}
