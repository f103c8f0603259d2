// Package templates turns a complete app schema into a multi-file project
// without calling a model. Each platform has its own generator:
//
//   - Static: plain HTML/CSS/JS site
//   - Web: Vite + React + React Router project
//   - Mobile: Expo Router project
//
// Generators are pure functions of the schema. Missing optional sections are
// defaulted rather than rejected, every emitted path is unique, and every
// file records the schema fragments it was derived from in Sources.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"unicode"

	"github.com/p-blackswan/appforge/internal/extract"
	"github.com/p-blackswan/appforge/internal/schema"
)

//go:embed tmpl
var tmplFS embed.FS

// ErrUnknownPlatform is returned by Generate for a platform it has no
// generator for.
var ErrUnknownPlatform = errors.New("templates: unknown platform")

// Source keys shared by the generators and the incremental differ.
const (
	SourceMeta       = "meta"
	SourceDesign     = "design"
	SourceColors     = "design.colors"
	SourceNavigation = "navigation"
	SourcePages      = "pages"
	SourceFeatures   = "features"
	SourceAuth       = "features.auth"
	SourceDatabase   = "features.database"
	// SourceScaffold marks files that depend only on the platform.
	SourceScaffold = "scaffold"
)

// PageSource is the source key for a page's own content.
func PageSource(id string) string { return "page:" + id }

// ComponentSource is the source key for a component definition.
func ComponentSource(id string) string { return "component:" + id }

// Generate dispatches on meta.platform.
func Generate(s *schema.AppSchema) ([]schema.GeneratedFile, error) {
	if s == nil {
		return nil, errors.New("templates: nil schema")
	}
	switch s.Platform() {
	case schema.PlatformWebsite:
		return Static(s)
	case schema.PlatformWebApp:
		return Web(s)
	case schema.PlatformMobile:
		return Mobile(s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, s.Platform())
	}
}

// fileSet accumulates generated files and keeps paths unique.
type fileSet struct {
	files []schema.GeneratedFile
	seen  map[string]bool
}

func newFileSet() *fileSet {
	return &fileSet{seen: make(map[string]bool)}
}

func (fs *fileSet) add(p, content string, sources ...string) {
	p = uniquePath(p, fs.seen)
	fs.seen[strings.ToLower(p)] = true
	fs.files = append(fs.files, schema.GeneratedFile{
		Path:     p,
		Content:  content,
		Language: extract.LanguageFor(p),
		Sources:  dedupe(sources),
	})
}

// uniquePath appends -2, -3, ... before the extension until p is unused.
// used is keyed by lowercased path so results stay distinct on
// case-insensitive filesystems.
func uniquePath(p string, used map[string]bool) string {
	if !used[strings.ToLower(p)] {
		return p
	}
	ext := path.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	for n := 2; ; n++ {
		candidate := stem + "-" + strconv.Itoa(n) + ext
		if !used[strings.ToLower(candidate)] {
			return candidate
		}
	}
}

// uniqueSlug returns base, base-2, base-3, ... and marks it used.
func uniqueSlug(base string, used map[string]bool) string {
	s := base
	for n := 2; used[s]; n++ {
		s = base + "-" + strconv.Itoa(n)
	}
	used[s] = true
	return s
}

// uniqueName is uniquePath for bare identifiers: Pricing, Pricing2, ...
// Identifiers become file names, so About and ABOUT collide.
func uniqueName(name string, used map[string]bool) string {
	if !used[strings.ToLower(name)] {
		used[strings.ToLower(name)] = true
		return name
	}
	for n := 2; ; n++ {
		candidate := name + strconv.Itoa(n)
		if !used[strings.ToLower(candidate)] {
			used[strings.ToLower(candidate)] = true
			return candidate
		}
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Navigation returns the navigation the generators render for s: the
// declared one with its defaults applied, or one derived from the pages
// when no items are declared.
func Navigation(s *schema.AppSchema) *schema.Navigation {
	return normalize(s).Structure.Navigation
}

// normalize returns a defaulted deep copy so generators never dereference a
// missing section. The input is not modified.
func normalize(in *schema.AppSchema) *schema.AppSchema {
	s := in.Clone()
	if s == nil {
		s = &schema.AppSchema{}
	}
	if s.Meta == nil {
		s.Meta = &schema.Meta{}
	}
	if strings.TrimSpace(s.Meta.Name) == "" {
		s.Meta.Name = "My App"
	}
	if s.Meta.Version == "" {
		s.Meta.Version = "0.1.0"
	}

	if s.Design == nil {
		s.Design = &schema.Design{}
	}
	d := s.Design
	if d.Theme == "" {
		d.Theme = "light"
	}
	if d.Spacing == "" || spacingScale[d.Spacing] == "" {
		d.Spacing = "normal"
	}
	if d.BorderRadius == "" || radiusScale[d.BorderRadius] == "" {
		d.BorderRadius = "md"
	}
	d.Colors = fillColors(d.Colors)
	if d.Typography == nil {
		d.Typography = &schema.Typography{}
	}
	if d.Typography.HeadingFont == "" {
		d.Typography.HeadingFont = "Inter"
	}
	if d.Typography.BodyFont == "" {
		d.Typography.BodyFont = d.Typography.HeadingFont
	}
	if d.Typography.BaseFontSize == 0 {
		d.Typography.BaseFontSize = 16
	}
	if d.Typography.LineHeight == 0 {
		d.Typography.LineHeight = 1.5
	}

	if s.Structure == nil {
		s.Structure = &schema.Structure{}
	}
	st := s.Structure
	if len(st.Pages) == 0 {
		st.Pages = []schema.Page{{ID: "home", Name: "Home", Path: "/", Type: "static"}}
	}
	for i := range st.Pages {
		p := &st.Pages[i]
		if p.Name == "" {
			p.Name = humanize(strings.Trim(p.Path, "/"))
			if p.Name == "" {
				p.Name = "Home"
			}
		}
		if p.ID == "" {
			p.ID = slugify(p.Name)
			if p.ID == "" {
				p.ID = "page-" + strconv.Itoa(i+1)
			}
		}
		if !strings.HasPrefix(p.Path, "/") {
			p.Path = "/" + slugify(p.Path)
		}
		if p.Title == "" {
			p.Title = p.Name
		}
	}
	if st.Navigation == nil {
		navType := "header"
		if s.Meta.Platform == schema.PlatformMobile {
			navType = "tabs"
		}
		st.Navigation = &schema.Navigation{Type: navType}
	}
	if len(st.Navigation.Items) == 0 {
		for _, p := range st.Pages {
			if p.Type == "protected" {
				continue
			}
			st.Navigation.Items = append(st.Navigation.Items, schema.NavItem{ID: "nav-" + p.ID, Label: p.Name, Path: p.Path})
		}
	}
	return s
}

var defaultColors = schema.Colors{
	Primary:    "#2563eb",
	Secondary:  "#7c3aed",
	Accent:     "#f59e0b",
	Background: "#ffffff",
	Foreground: "#0f172a",
	Muted:      "#64748b",
	Border:     "#e2e8f0",
	Error:      "#dc2626",
	Success:    "#16a34a",
	Warning:    "#d97706",
}

func fillColors(c *schema.Colors) *schema.Colors {
	if c == nil {
		out := defaultColors
		return &out
	}
	out := *c
	pick := func(v *string, def string) {
		if _, _, _, ok := schema.ParseHex(*v); !ok {
			*v = def
		}
	}
	pick(&out.Primary, defaultColors.Primary)
	pick(&out.Secondary, defaultColors.Secondary)
	pick(&out.Accent, defaultColors.Accent)
	pick(&out.Background, defaultColors.Background)
	pick(&out.Foreground, defaultColors.Foreground)
	pick(&out.Muted, defaultColors.Muted)
	pick(&out.Border, defaultColors.Border)
	pick(&out.Error, defaultColors.Error)
	pick(&out.Success, defaultColors.Success)
	pick(&out.Warning, defaultColors.Warning)
	return &out
}

// slugify lowercases and keeps [a-z0-9-], collapsing other runs into "-".
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// humanize turns "WorkGrid", "work-grid" or "work_grid" into "Work Grid".
func humanize(s string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	rs := []rune(s)
	for i, r := range rs {
		switch {
		case r == '-' || r == '_' || r == ' ' || r == '/':
			flush()
		case r >= 'A' && r <= 'Z' && i > 0 && rs[i-1] >= 'a' && rs[i-1] <= 'z':
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// identifier makes a PascalCase identifier that is safe as a React
// component name.
func identifier(name, fallback string) string {
	id := schema.PascalCase(name)
	if id == "" {
		id = fallback
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = fallback + id
	}
	return id
}
