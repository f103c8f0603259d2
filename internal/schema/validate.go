package schema

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of a checker.
type Issue struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationResult aggregates all checkers. Valid is false when any issue has
// error severity.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Errors      []Issue  `json:"errors"`
	Warnings    []Issue  `json:"warnings"`
	Suggestions []string `json:"suggestions"`
	Score       int      `json:"score"`
}

// MinContrastRatio is the WCAG AA threshold for body text.
const MinContrastRatio = 4.5

var (
	themes      = set("light", "dark", "system")
	spacings    = set("compact", "normal", "spacious")
	radii       = set("none", "sm", "md", "lg", "full")
	pageTypes   = set("static", "dynamic", "protected")
	navTypes    = set("tabs", "drawer", "stack", "header", "sidebar")
	hexColorRe  = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	separatorRe = regexp.MustCompile(`[-_\s]+`)
)

func set(vals ...string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

type checker func(s *AppSchema, r *report)

// report collects issues in checker order.
type report struct {
	issues      []Issue
	suggestions []string
}

func (r *report) errorf(field, format string, args ...any) {
	r.issues = append(r.issues, Issue{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
}

func (r *report) warnf(field, format string, args ...any) {
	r.issues = append(r.issues, Issue{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

func (r *report) suggest(format string, args ...any) {
	r.suggestions = append(r.suggestions, fmt.Sprintf(format, args...))
}

// Validate runs the meta, design, structure, components and features checkers
// and scores the result. It never fails: problems are returned as data.
func Validate(s *AppSchema) ValidationResult {
	if s == nil {
		s = &AppSchema{}
	}
	r := &report{}
	for _, check := range []checker{checkMeta, checkDesign, checkStructure, checkComponents, checkFeatures} {
		check(s, r)
	}

	res := ValidationResult{
		Valid:       true,
		Errors:      []Issue{},
		Warnings:    []Issue{},
		Suggestions: r.suggestions,
	}
	if res.Suggestions == nil {
		res.Suggestions = []string{}
	}
	for _, is := range r.issues {
		if is.Severity == SeverityError {
			res.Errors = append(res.Errors, is)
			res.Valid = false
		} else {
			res.Warnings = append(res.Warnings, is)
		}
	}

	score := 100 - 10*len(res.Errors) - 2*len(res.Warnings) + bonus(s)
	res.Score = max(0, min(100, score))
	return res
}

// bonus rewards populated optional sections.
func bonus(s *AppSchema) int {
	b := 0
	if s.Structure != nil {
		if s.Structure.Navigation != nil && len(s.Structure.Navigation.Items) > 0 {
			b++
		}
		if len(s.Structure.Layouts) > 0 {
			b++
		}
	}
	if f := s.Features; f != nil {
		n := 0
		if f.Auth != nil && f.Auth.Enabled {
			n++
		}
		if f.Database != nil && len(f.Database.Tables) > 0 {
			n++
		}
		if (f.API != nil && f.API.Enabled) || (f.Storage != nil && f.Storage.Enabled) || (f.PWA != nil && f.PWA.Enabled) {
			n++
		}
		b += min(n, 2)
	}
	return b
}

func checkMeta(s *AppSchema, r *report) {
	m := s.Meta
	if m == nil {
		r.errorf("meta", "meta section is required")
		return
	}
	if strings.TrimSpace(m.Name) == "" {
		r.errorf("meta.name", "app name is required")
	}
	switch {
	case m.Platform == "":
		r.errorf("meta.platform", "platform is required")
	case !m.Platform.Valid():
		r.errorf("meta.platform", "unknown platform %q (expected website, webapp or mobile)", m.Platform)
	}
	if m.Description == "" {
		r.suggest("Add a short app description so generated copy matches the product")
	}
}

func checkDesign(s *AppSchema, r *report) {
	d := s.Design
	if d == nil {
		r.errorf("design", "design section is required")
		return
	}
	if d.Theme != "" && !themes[d.Theme] {
		r.errorf("design.theme", "unknown theme %q", d.Theme)
	}
	if d.Spacing != "" && !spacings[d.Spacing] {
		r.errorf("design.spacing", "unknown spacing %q", d.Spacing)
	}
	if d.BorderRadius != "" && !radii[d.BorderRadius] {
		r.errorf("design.borderRadius", "unknown border radius %q", d.BorderRadius)
	}

	if d.Colors == nil {
		r.errorf("design.colors", "design colors are required")
	} else {
		valid := true
		for _, nv := range d.Colors.Named() {
			field := "design.colors." + nv[0]
			switch {
			case nv[1] == "":
				r.errorf(field, "color %s is required", nv[0])
				valid = false
			case !hexColorRe.MatchString(nv[1]):
				r.errorf(field, "color %s must be a hex value, got %q", nv[0], nv[1])
				valid = false
			}
		}
		if valid {
			ratio := ContrastRatio(d.Colors.Foreground, d.Colors.Background)
			if ratio < MinContrastRatio {
				r.warnf("design.colors.foreground", "foreground/background contrast %.2f:1 is below %.1f:1", ratio, MinContrastRatio)
				r.suggest("Darken the foreground or lighten the background to reach WCAG AA contrast")
			}
		}
	}

	if t := d.Typography; t != nil {
		if t.BaseFontSize != 0 && (t.BaseFontSize < 12 || t.BaseFontSize > 24) {
			r.warnf("design.typography.baseFontSize", "base font size %d is outside 12-24", t.BaseFontSize)
		}
		if t.LineHeight != 0 && (t.LineHeight < 1 || t.LineHeight > 2.5) {
			r.warnf("design.typography.lineHeight", "line height %.2f is unusual", t.LineHeight)
		}
	}
}

func checkStructure(s *AppSchema, r *report) {
	st := s.Structure
	if st == nil || len(st.Pages) == 0 {
		r.errorf("structure.pages", "at least one page is required")
		return
	}

	layouts := make(map[string]bool, len(st.Layouts))
	for _, l := range st.Layouts {
		layouts[l.ID] = true
	}

	ids := make(map[string]bool, len(st.Pages))
	paths := make(map[string]bool, len(st.Pages))
	hasHome := false
	for i, p := range st.Pages {
		field := fmt.Sprintf("structure.pages[%d]", i)
		switch {
		case p.ID == "":
			r.errorf(field+".id", "page id is required")
		case ids[p.ID]:
			r.errorf(field+".id", "duplicate page id %q", p.ID)
		default:
			ids[p.ID] = true
		}

		if strings.TrimSpace(p.Name) == "" {
			r.errorf(field+".name", "page name is required")
		}

		switch {
		case !strings.HasPrefix(p.Path, "/"):
			r.errorf(field+".path", "page path %q must start with /", p.Path)
		case strings.ContainsAny(p.Path, " \t"):
			r.errorf(field+".path", "page path %q must not contain spaces", p.Path)
		case paths[p.Path]:
			r.errorf(field+".path", "duplicate page path %q", p.Path)
		default:
			paths[p.Path] = true
		}
		if p.Path == "/" {
			hasHome = true
		}

		if p.Type != "" && !pageTypes[p.Type] {
			r.errorf(field+".type", "unknown page type %q", p.Type)
		}
		if p.Layout != "" && len(st.Layouts) > 0 && !layouts[p.Layout] {
			r.warnf(field+".layout", "layout %q is not defined", p.Layout)
		}
	}
	if !hasHome {
		r.warnf("structure.pages", "no home page with path /")
		r.suggest("Add a home page at / so visitors have an entry point")
	}

	if nav := st.Navigation; nav != nil {
		if nav.Type != "" && !navTypes[nav.Type] {
			r.errorf("structure.navigation.type", "unknown navigation type %q", nav.Type)
		}
		for i, it := range nav.Items {
			if strings.HasPrefix(it.Path, "/") && !paths[it.Path] {
				r.warnf(fmt.Sprintf("structure.navigation.items[%d].path", i), "navigation target %q has no page", it.Path)
			}
		}
	}
}

func checkComponents(s *AppSchema, r *report) {
	ids := make(map[string]bool, len(s.Components))
	for i, c := range s.Components {
		field := fmt.Sprintf("components[%d]", i)
		switch {
		case c.ID == "":
			r.errorf(field+".id", "component id is required")
		case ids[c.ID]:
			r.errorf(field+".id", "duplicate component id %q", c.ID)
		default:
			ids[c.ID] = true
		}
		if c.Type == "" {
			r.warnf(field+".type", "component %q has no type", c.ID)
		}
		if c.Name != "" && !isPascalCase(c.Name) {
			r.warnf(field+".name", "component name %q should be PascalCase", c.Name)
			r.suggest("Rename component %q to %q", c.Name, PascalCase(c.Name))
		}
	}

	for i, p := range s.Pages() {
		for j, ref := range p.Components {
			if !ids[ref] {
				r.errorf(fmt.Sprintf("structure.pages[%d].components[%d]", i, j),
					"page %q references unknown component %q", p.ID, ref)
			}
		}
	}
}

func checkFeatures(s *AppSchema, r *report) {
	f := s.Features
	if f == nil {
		r.suggest("Consider whether the app needs authentication or a database")
		return
	}
	if a := f.Auth; a != nil && a.Enabled {
		if len(a.Providers) == 0 {
			r.errorf("features.auth.providers", "auth is enabled but no providers are configured")
		}
		if a.PasswordMinLength != 0 && a.PasswordMinLength < 8 {
			r.warnf("features.auth.passwordMinLength", "password minimum length %d is below 8", a.PasswordMinLength)
		}
	}
	if db := f.Database; db != nil {
		names := make(map[string]bool, len(db.Tables))
		for i, t := range db.Tables {
			field := fmt.Sprintf("features.database.tables[%d]", i)
			switch {
			case t.Name == "":
				r.errorf(field+".name", "table name is required")
			case names[t.Name]:
				r.errorf(field+".name", "duplicate table %q", t.Name)
			default:
				names[t.Name] = true
			}
			if len(t.Fields) == 0 {
				r.warnf(field+".fields", "table %q has no fields", t.Name)
			}
			for j, fd := range t.Fields {
				if fd.Name == "" {
					r.errorf(fmt.Sprintf("%s.fields[%d].name", field, j), "field name is required")
				}
			}
		}
	}
	if a := f.API; a != nil && a.Enabled && a.Type == "" {
		r.warnf("features.api.type", "api is enabled without a type")
	}
	if st := f.Storage; st != nil && st.Enabled && st.Provider == "" {
		r.warnf("features.storage.provider", "storage is enabled without a provider")
	}
}

func isPascalCase(name string) bool {
	if name == "" || !unicode.IsUpper(rune(name[0])) {
		return false
	}
	return !separatorRe.MatchString(name)
}

// PascalCase converts "hero section", "hero-section" or "hero_section" to
// "HeroSection". Non-alphanumeric runes are dropped.
func PascalCase(s string) string {
	var b strings.Builder
	for _, word := range separatorRe.Split(strings.TrimSpace(s), -1) {
		word = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, word)
		if word == "" {
			continue
		}
		rs := []rune(word)
		rs[0] = unicode.ToUpper(rs[0])
		b.WriteString(string(rs))
	}
	return b.String()
}

// ContrastRatio returns the WCAG contrast ratio between two hex colors, or 0
// when either cannot be parsed.
func ContrastRatio(a, b string) float64 {
	la, ok1 := luminance(a)
	lb, ok2 := luminance(b)
	if !ok1 || !ok2 {
		return 0
	}
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}

func luminance(hex string) (float64, bool) {
	r, g, b, ok := ParseHex(hex)
	if !ok {
		return 0, false
	}
	lin := func(c uint8) float64 {
		v := float64(c) / 255
		if v <= 0.03928 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return 0.2126*lin(r) + 0.7152*lin(g) + 0.0722*lin(b), true
}

// ParseHex parses #RGB or #RRGGBB.
func ParseHex(hex string) (r, g, b uint8, ok bool) {
	if !hexColorRe.MatchString(hex) {
		return 0, 0, 0, false
	}
	h := hex[1:]
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}
