package templates

import (
	"maps"
	"strings"
	"text/template"

	"github.com/p-blackswan/appforge/internal/schema"
)

var mobileTmpl = template.Must(template.New("mobile").Delims("[[", "]]").Funcs(mobileFuncs()).ParseFS(tmplFS, "tmpl/mobile/*.tmpl"))

func mobileFuncs() template.FuncMap {
	fm := maps.Clone(funcs)
	fm["route"] = route
	fm["icon"] = icon
	fm["join"] = strings.Join
	return fm
}

// route is the expo-router file name of a page, without extension.
func route(p pagePlan) string {
	if p.Home {
		return "index"
	}
	return p.Slug
}

var kindIcons = map[string]string{
	"index":     "home-outline",
	"about":     "information-circle-outline",
	"contact":   "mail-outline",
	"pricing":   "pricetag-outline",
	"blog":      "newspaper-outline",
	"dashboard": "grid-outline",
	"features":  "sparkles-outline",
	"faq":       "help-circle-outline",
	"team":      "people-outline",
}

// icon picks an Ionicons glyph for a tab by page kind.
func icon(p pagePlan) string {
	if n, ok := kindIcons[p.Kind]; ok {
		return n
	}
	if strings.Contains(strings.ToLower(p.Name), "profile") || strings.Contains(strings.ToLower(p.Name), "account") {
		return "person-outline"
	}
	if strings.Contains(strings.ToLower(p.Name), "setting") {
		return "settings-outline"
	}
	return "ellipse-outline"
}

type palette struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Accent     string `json:"accent"`
	Background string `json:"background"`
	Foreground string `json:"foreground"`
	Muted      string `json:"muted"`
	Border     string `json:"border"`
	Error      string `json:"error"`
	Success    string `json:"success"`
	Warning    string `json:"warning"`
	Card       string `json:"card"`
}

func newPalette(c *schema.Colors) palette {
	return palette{
		Primary:    c.Primary,
		Secondary:  c.Secondary,
		Accent:     c.Accent,
		Background: c.Background,
		Foreground: c.Foreground,
		Muted:      c.Muted,
		Border:     c.Border,
		Error:      c.Error,
		Success:    c.Success,
		Warning:    c.Warning,
		Card:       mix(c.Background, c.Foreground, 0.04),
	}
}

var (
	radiusPoints  = map[string]int{"none": 0, "sm": 4, "md": 8, "lg": 16, "full": 9999}
	spacingPoints = map[string]int{"compact": 12, "normal": 16, "spacious": 24}
)

type mobileData struct {
	Site           *site
	Supabase       bool
	Tabs           bool
	Colors         struct{ Light, Dark palette }
	Radius         int
	Spacing        int
	Theme          string
	InterfaceStyle string
	Page           pagePlan
	Uses           []string
	Guarded        bool
}

// sectionComponents maps section kinds to the exports of components/Sections.
var sectionComponents = []struct{ kind, name string }{
	{"hero", "Hero"},
	{"cta", "CallToAction"},
	{"card", "CardList"},
	{"pricing", "PricingList"},
	{"testimonial", "Testimonials"},
	{"faq", "FaqList"},
	{"form", "FormCard"},
	{"footer", "FooterNote"},
	{"default", "Placeholder"},
}

// Mobile generates an Expo Router project. Navigation type "tabs" puts the
// screens under app/(tabs); anything else uses a plain stack.
func Mobile(in *schema.AppSchema) ([]schema.GeneratedFile, error) {
	s := normalize(in)
	st := plan(s)
	fs := newFileSet()

	base := mobileData{
		Site:     st,
		Supabase: st.Auth || st.Database,
		Tabs:     st.NavType == "tabs",
		Radius:   radiusPoints[s.Design.BorderRadius],
		Spacing:  spacingPoints[s.Design.Spacing],
		Theme:    s.Design.Theme,
	}
	base.Colors.Light = newPalette(s.Design.Colors)
	base.Colors.Dark = newPalette(darkPalette(s.Design.Colors))
	switch s.Design.Theme {
	case "dark":
		base.InterfaceStyle = "dark"
	case "system":
		base.InterfaceStyle = "automatic"
	default:
		base.Theme = "light"
		base.InterfaceStyle = "light"
	}

	r := &renderer{tmpl: mobileTmpl, fs: fs}
	r.file("package.json", "package.json.tmpl", base, SourceMeta, SourceAuth, SourceDatabase)
	r.file("app.json", "app.json.tmpl", base, SourceMeta, "design.theme", SourceColors)
	r.file("tsconfig.json", "tsconfig.json.tmpl", base, SourceScaffold)
	r.file("constants/Colors.ts", "Colors.ts.tmpl", base, SourceDesign)
	r.file("hooks/useThemeColors.ts", "useThemeColors.ts.tmpl", base, "design.theme")
	r.file("components/Sections.tsx", "Sections.tsx.tmpl", base, SourceScaffold)
	rootSources := []string{SourceNavigation, SourcePages, SourceAuth}
	if !base.Tabs {
		// The stack lists every screen with its title.
		for _, p := range st.Pages {
			rootSources = append(rootSources, PageSource(p.ID))
		}
	}
	r.file("app/_layout.tsx", "root_layout.tsx.tmpl", base, rootSources...)

	dir := "app/"
	if base.Tabs {
		dir = "app/(tabs)/"
		r.file(dir+"_layout.tsx", "tabs_layout.tsx.tmpl", base, SourceNavigation, SourcePages)
	}
	for _, p := range st.Pages {
		data := base
		data.Page = p
		data.Uses = usedSections(p)
		data.Guarded = p.Protected && st.Auth
		sources := p.Sources
		if p.Protected {
			sources = append(append([]string{}, sources...), SourceAuth)
		}
		r.file(dir+route(p)+".tsx", "screen", data, sources...)
	}

	if base.Supabase {
		r.file("lib/supabase.ts", "supabase.ts.tmpl", base, SourceAuth, SourceDatabase)
		r.file(".env.example", "env.example.tmpl", base, SourceAuth, SourceDatabase)
	}
	if st.Auth {
		r.file("providers/AuthProvider.tsx", "AuthProvider.tsx.tmpl", base, SourceAuth)
		r.file("app/(auth)/_layout.tsx", "auth_layout.tsx.tmpl", base, SourceAuth)
		r.file("app/(auth)/login.tsx", "login.tsx.tmpl", base, SourceAuth, SourceMeta)
		r.file("app/(auth)/signup.tsx", "signup.tsx.tmpl", base, SourceAuth, SourceMeta)
	}

	if r.err != nil {
		return nil, r.err
	}
	return fs.files, nil
}

// usedSections lists the section components a screen imports, in a fixed
// order so output is deterministic.
func usedSections(p pagePlan) []string {
	kinds := make(map[string]bool, len(p.Sections))
	for _, sec := range p.Sections {
		kinds[sec.Kind] = true
	}
	var out []string
	for _, sc := range sectionComponents {
		if kinds[sc.kind] {
			out = append(out, sc.name)
		}
	}
	return out
}
