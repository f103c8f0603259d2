// Package extract recovers JSON objects and fenced files from LLM output.
//
// JSON recovery is a bounded three-tier chain: parse the text as-is, parse
// the body of a markdown code fence, then select the first balanced {...}
// block by brace counting.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	perrors "github.com/p-blackswan/appforge/internal/errors"
)

// Tier identifies which strategy recovered the JSON.
type Tier int

const (
	TierNone Tier = iota
	TierDirect
	TierFence
	TierBraces
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierFence:
		return "fence"
	case TierBraces:
		return "braces"
	default:
		return "none"
	}
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+.-]*[ \t]*\r?\n(.*?)\r?\n?```")

// JSON returns the first JSON object recoverable from text.
func JSON(text string) (json.RawMessage, Tier, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, TierNone, perrors.ErrEmptyResponse
	}

	if isObject(trimmed) {
		return json.RawMessage(trimmed), TierDirect, nil
	}

	if body, ok := fencedJSON(trimmed); ok {
		return json.RawMessage(body), TierFence, nil
	}

	if obj, ok := BalancedObject(trimmed); ok {
		return json.RawMessage(obj), TierBraces, nil
	}

	return nil, TierNone, perrors.ErrUnparseable
}

// Into extracts the first JSON object from text and decodes it into v.
func Into(text string, v any) (Tier, error) {
	raw, tier, err := JSON(text)
	if err != nil {
		return tier, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return tier, perrors.ErrUnparseable
	}
	return tier, nil
}

func isObject(s string) bool {
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}

// fencedJSON returns the first fence body that is a valid JSON object.
func fencedJSON(text string) (string, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if isObject(body) {
			return body, true
		}
		// A fence may hold prose around the object.
		if obj, ok := BalancedObject(body); ok {
			return obj, true
		}
	}
	return "", false
}

// BalancedObject scans text for '{' positions and returns the first balanced
// block that is valid JSON. String literals and escapes are respected so
// braces inside strings do not count.
func BalancedObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := matchBrace(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
