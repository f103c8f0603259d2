package extract

import (
	"path"
	"regexp"
	"strings"
)

// File is a file recovered from fenced code blocks.
type File struct {
	Path     string
	Content  string
	Language string
}

var (
	codeBlockRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+.-]*)[^\n]*\n(.*?)\n```")
	pathLineRe  = regexp.MustCompile(`(?i)^\s*(?://|#|--|<!--|/\*)\s*(?:path|file(?:name)?):?\s*([^\s*>]+)`)
)

// Files is the regex fallback for code generation output that is not JSON:
// every fenced block whose first line names a path (e.g. "// path: src/App.tsx")
// becomes a file. Blocks without a path are skipped.
func Files(text string) []File {
	var out []File
	for _, m := range codeBlockRe.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		body := m[2]
		first, rest, _ := strings.Cut(body, "\n")
		pm := pathLineRe.FindStringSubmatch(first)
		if pm == nil {
			continue
		}
		p := strings.TrimPrefix(path.Clean(strings.TrimSpace(pm[1])), "/")
		if p == "" || p == "." {
			continue
		}
		if lang == "" {
			lang = LanguageFor(p)
		}
		out = append(out, File{Path: p, Content: rest, Language: lang})
	}
	return out
}

// LanguageFor guesses a language tag from a file extension.
func LanguageFor(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".tsx":
		return "tsx"
	case ".ts":
		return "typescript"
	case ".jsx":
		return "jsx"
	case ".js", ".mjs", ".cjs":
		return "javascript"
	case ".html", ".htm":
		return "html"
	case ".css":
		return "css"
	case ".json":
		return "json"
	case ".md":
		return "markdown"
	case ".sql":
		return "sql"
	case ".yml", ".yaml":
		return "yaml"
	default:
		return "plaintext"
	}
}
