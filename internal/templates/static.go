package templates

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/p-blackswan/appforge/internal/schema"
)

var staticTmpl = template.Must(template.New("static").ParseFS(tmplFS, "tmpl/static/*.html"))

type navLink struct {
	Label  string
	Href   string
	Active bool
}

type staticPage struct {
	Site        *site
	Page        pagePlan
	Nav         []navLink
	Description string
	HasFooter   bool
}

// Static generates a plain HTML site: index.html, one .html file per other
// page, styles.css from the design tokens and a shared script.js.
func Static(in *schema.AppSchema) ([]schema.GeneratedFile, error) {
	s := normalize(in)
	st := plan(s)
	fs := newFileSet()

	hrefs := make(map[string]string, len(st.Pages))
	for _, p := range st.Pages {
		hrefs[p.Path] = p.Slug + ".html"
	}

	for _, p := range st.Pages {
		data := staticPage{
			Site:        st,
			Page:        p,
			Nav:         staticNav(st.Nav, hrefs, p.Path),
			Description: firstNonEmpty(p.Description, st.Description),
		}
		for _, sec := range p.Sections {
			if sec.Kind == "footer" {
				data.HasFooter = true
			}
		}
		var buf bytes.Buffer
		if err := staticTmpl.ExecuteTemplate(&buf, "page", data); err != nil {
			return nil, fmt.Errorf("templates: render %s.html: %w", p.Slug, err)
		}
		sources := append([]string{SourceNavigation, SourcePages, "design.typography"}, p.Sources...)
		fs.add(p.Slug+".html", buf.String(), sources...)
	}

	css, err := tmplFS.ReadFile("tmpl/static/styles.css")
	if err != nil {
		return nil, fmt.Errorf("templates: read styles.css: %w", err)
	}
	fs.add("styles.css", cssVariables(s.Design)+"\n"+string(css), SourceDesign)

	js, err := tmplFS.ReadFile("tmpl/static/script.js")
	if err != nil {
		return nil, fmt.Errorf("templates: read script.js: %w", err)
	}
	fs.add("script.js", string(js), SourceScaffold)

	return fs.files, nil
}

// staticNav resolves navigation paths to page files. Anchors and absolute
// URLs pass through; paths with no page become "#".
func staticNav(items []schema.NavItem, hrefs map[string]string, current string) []navLink {
	out := make([]navLink, 0, len(items))
	for _, it := range items {
		href := it.Path
		switch {
		case strings.HasPrefix(href, "#"), strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		case hrefs[href] != "":
			href = hrefs[href]
		default:
			href = "#"
		}
		out = append(out, navLink{Label: firstNonEmpty(it.Label, humanize(it.ID)), Href: href, Active: it.Path == current})
	}
	return out
}
