package templates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/p-blackswan/appforge/internal/schema"
)

// funcs are shared by the web and mobile templates.
var funcs = template.FuncMap{
	"json": jsonLiteral,
	"attr": func(v any) string { return "{" + jsonLiteral(v) + "}" },
	"jsx":  jsxText,
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}

var webTmpl = template.Must(template.New("web").Delims("[[", "]]").Funcs(funcs).ParseFS(tmplFS, "tmpl/web/*.tmpl"))

func jsonLiteral(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

var jsxEscaper = strings.NewReplacer("{", "&#123;", "}", "&#125;", "<", "&lt;", ">", "&gt;")

// jsxText escapes text placed between JSX tags.
func jsxText(s string) string {
	return jsxEscaper.Replace(s)
}

type link struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

type pageImports struct {
	Card, Form, Faq, Effect bool
}

type webData struct {
	Site        *site
	Page        pagePlan
	Imports     pageImports
	Description string
	Links       []link
	Protected   bool
	Supabase    bool
	Social      []string
	Plans       []item
	Questions   []item
}

// reservedIdents are component names the web generator emits itself.
var reservedIdents = []string{"App", "Index", "NotFound", "Login", "Signup", "Header", "Footer", "Card", "Button", "FormSection", "FaqList", "ProtectedRoute"}

// Web generates a Vite + React + React Router project.
func Web(in *schema.AppSchema) ([]schema.GeneratedFile, error) {
	s := normalize(in)
	st := plan(s, reservedIdents...)
	fs := newFileSet()

	base := webData{
		Site:      st,
		Links:     navLinks(st.Nav),
		Supabase:  st.Auth || st.Database,
		Social:    socialProviders(st.Providers),
		Plans:     pricingPlans,
		Questions: faqItems(st.Name),
	}
	for _, p := range st.Pages {
		if p.Protected && st.Auth {
			base.Protected = true
		}
	}

	r := &renderer{tmpl: webTmpl, fs: fs}
	r.file("package.json", "package.json.tmpl", base, SourceMeta, SourceAuth, SourceDatabase)
	r.file("index.html", "index.html.tmpl", base, SourceMeta, "design.typography")
	r.file("vite.config.ts", "vite.config.ts.tmpl", base, SourceScaffold)
	r.file("tsconfig.json", "tsconfig.json.tmpl", base, SourceScaffold)
	r.file("src/main.tsx", "main.tsx.tmpl", base, SourceScaffold, SourceAuth)
	r.file("src/App.tsx", "App.tsx.tmpl", base, SourcePages, SourceAuth)

	css, err := tmplFS.ReadFile("tmpl/static/styles.css")
	if err != nil {
		return nil, fmt.Errorf("templates: read styles.css: %w", err)
	}
	extra, err := tmplFS.ReadFile("tmpl/web/web.css.tmpl")
	if err != nil {
		return nil, fmt.Errorf("templates: read web.css: %w", err)
	}
	fs.add("src/index.css", cssVariables(s.Design)+"\n"+string(css)+string(extra), SourceDesign)

	r.file("src/components/ui/Button.tsx", "Button.tsx.tmpl", base, SourceScaffold)
	r.file("src/components/ui/Card.tsx", "Card.tsx.tmpl", base, SourceScaffold)
	r.file("src/components/sections/FormSection.tsx", "FormSection.tsx.tmpl", base, SourceScaffold)
	r.file("src/components/sections/FaqList.tsx", "FaqList.tsx.tmpl", base, SourceScaffold)
	r.file("src/components/layout/Header.tsx", "Header.tsx.tmpl", base, SourceNavigation, SourceMeta, SourceAuth)
	r.file("src/components/layout/Footer.tsx", "Footer.tsx.tmpl", base, SourceNavigation, SourceMeta)

	for _, p := range st.Pages {
		data := base
		data.Page = p
		data.Imports = importsFor(p)
		data.Description = firstNonEmpty(p.Description, st.Description)
		r.file("src/pages/"+p.Ident+".tsx", "page", data, p.Sources...)
	}

	if st.Auth {
		r.file("src/lib/auth.tsx", "auth.tsx.tmpl", base, SourceAuth)
		r.file("src/pages/Login.tsx", "Login.tsx.tmpl", base, SourceAuth, SourceMeta)
		r.file("src/pages/Signup.tsx", "Signup.tsx.tmpl", base, SourceAuth, SourceMeta)
		if base.Protected {
			r.file("src/components/ProtectedRoute.tsx", "ProtectedRoute.tsx.tmpl", base, SourceAuth)
		}
	}
	if base.Supabase {
		r.file("src/lib/supabase.ts", "supabase.ts.tmpl", base, SourceAuth, SourceDatabase)
		r.file(".env.example", "env.example.tmpl", base, SourceAuth, SourceDatabase)
	}
	r.file("src/pages/NotFound.tsx", "NotFound.tsx.tmpl", base, SourceScaffold)

	if r.err != nil {
		return nil, r.err
	}
	return fs.files, nil
}

// renderer executes named templates into a fileSet and keeps the first error.
type renderer struct {
	tmpl *template.Template
	fs   *fileSet
	err  error
}

func (r *renderer) file(path, name string, data any, sources ...string) {
	if r.err != nil {
		return
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		r.err = fmt.Errorf("templates: render %s: %w", path, err)
		return
	}
	r.fs.add(path, strings.TrimLeft(buf.String(), "\n"), sources...)
}

func importsFor(p pagePlan) pageImports {
	var im pageImports
	switch p.Kind {
	case "about", "features", "team":
		im.Card = true
	case "contact":
		im.Card, im.Form = true, true
	case "pricing":
		im.Card, im.Faq = true, true
	case "blog", "dashboard":
		im.Card, im.Effect = true, true
	case "faq":
		im.Faq = true
	}
	for _, sec := range p.Sections {
		switch sec.Kind {
		case "card", "pricing":
			im.Card = true
		case "form":
			im.Form = true
		case "faq":
			im.Faq = true
		}
	}
	return im
}

func navLinks(items []schema.NavItem) []link {
	out := make([]link, 0, len(items))
	for _, it := range items {
		if !strings.HasPrefix(it.Path, "/") {
			continue
		}
		out = append(out, link{Label: firstNonEmpty(it.Label, humanize(it.ID)), Path: it.Path})
	}
	return out
}

// socialProviders drops password-style providers, leaving OAuth ones.
func socialProviders(providers []string) []string {
	var out []string
	for _, p := range providers {
		switch strings.ToLower(p) {
		case "", "email", "password", "magic-link", "magiclink", "phone":
			continue
		}
		out = append(out, strings.ToLower(p))
	}
	return out
}
