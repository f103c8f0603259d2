package templates

import (
	"fmt"
	"strings"

	"github.com/p-blackswan/appforge/internal/schema"
)

// pageKinds maps a normalized substring of the page name to a dedicated page
// template. First match wins.
var pageKinds = []struct{ keyword, kind string }{
	{"about", "about"},
	{"contact", "contact"},
	{"pricing", "pricing"},
	{"blog", "blog"},
	{"dashboard", "dashboard"},
	{"features", "features"},
	{"faq", "faq"},
	{"team", "team"},
}

// PageKind returns the page template chosen for a page name, or "default".
func PageKind(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, pk := range pageKinds {
		if strings.Contains(n, pk.keyword) {
			return pk.kind
		}
	}
	return "default"
}

// componentKinds is checked in order against the lowercased component type.
var componentKinds = []string{"hero", "cta", "pricing", "testimonial", "faq", "footer", "form", "card"}

func componentKind(typ string) string {
	t := strings.ToLower(strings.TrimSpace(typ))
	for _, k := range componentKinds {
		if t == k {
			return k
		}
	}
	for _, k := range componentKinds {
		if strings.Contains(t, k) {
			return k
		}
	}
	return "default"
}

type item struct {
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	Meta      string   `json:"meta,omitempty"`
	Price     string   `json:"price,omitempty"`
	Features  []string `json:"features,omitempty"`
	Highlight bool     `json:"highlight,omitempty"`
}

type formField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// section is the platform-neutral view of one component instance on a page.
type section struct {
	Kind    string
	ID      string
	Ident   string
	Heading string
	Text    string
	CTA     string
	Href    string
	Items   []item
	Fields  []formField
}

// pagePlan is a page with its resolved file stem and identifier.
type pagePlan struct {
	schema.Page
	Slug      string
	Ident     string
	Kind      string
	Home      bool
	Protected bool
	Sections  []section
	Sources   []string
}

type site struct {
	Name        string
	Description string
	Version     string
	Package     string
	Pages       []pagePlan
	Nav         []schema.NavItem
	NavType     string
	Auth        bool
	Database    bool
	Providers   []string
	MinPassword int
	FontURL     string
}

// plan resolves every page of a normalized schema. Home is the page at "/",
// or the first page when none is. reserved identifiers are never assigned
// to pages.
func plan(s *schema.AppSchema, reserved ...string) *site {
	st := &site{
		Name:        s.Meta.Name,
		Description: s.Meta.Description,
		Version:     s.Meta.Version,
		Package:     slugify(s.Meta.Name),
		Nav:         s.Structure.Navigation.Items,
		NavType:     s.Structure.Navigation.Type,
		Auth:        s.AuthEnabled(),
		Database:    s.HasDatabase(),
		MinPassword: 8,
		FontURL:     fontImportURL(s.Design.Typography),
	}
	if st.Package == "" {
		st.Package = "app"
	}
	if st.Description == "" {
		st.Description = st.Name + " helps you get more done with less effort."
	}
	if st.Auth {
		a := s.Features.Auth
		st.Providers = a.Providers
		if a.PasswordMinLength > st.MinPassword {
			st.MinPassword = a.PasswordMinLength
		}
	}

	home := 0
	for i, p := range s.Structure.Pages {
		if p.Path == "/" {
			home = i
			break
		}
	}

	slugs := map[string]bool{"index": true}
	idents := map[string]bool{}
	for _, r := range reserved {
		idents[strings.ToLower(r)] = true
	}
	for i, p := range s.Structure.Pages {
		pp := pagePlan{
			Page:      p,
			Kind:      PageKind(p.Name),
			Home:      i == home,
			Protected: p.Type == "protected",
		}
		if pp.Home {
			pp.Slug = "index"
			pp.Ident = "Index"
			pp.Kind = "index"
		} else {
			base := slugify(strings.Trim(p.Path, "/"))
			if base == "" {
				base = slugify(p.Name)
			}
			if base == "" {
				base = "page"
			}
			pp.Slug = uniqueSlug(base, slugs)
			pp.Ident = uniqueName(identifier(p.Name, "Page"), idents)
		}
		pp.Sections = sections(s, st, p)
		pp.Sources = append([]string{PageSource(p.ID), SourceMeta}, componentSources(p)...)
		st.Pages = append(st.Pages, pp)
	}
	return st
}

func componentSources(p schema.Page) []string {
	out := make([]string, 0, len(p.Components))
	for _, id := range p.Components {
		out = append(out, ComponentSource(id))
	}
	return out
}

// sections builds the section list for a page. Unknown component ids and
// types fall through to a labeled placeholder section.
func sections(s *schema.AppSchema, st *site, p schema.Page) []section {
	if len(p.Components) == 0 {
		return []section{{
			Kind:    "hero",
			ID:      p.ID + "-intro",
			Ident:   "Intro",
			Heading: p.Title,
			Text:    firstNonEmpty(p.Description, st.Description),
			CTA:     "Get started",
			Href:    "#",
		}}
	}
	out := make([]section, 0, len(p.Components))
	for _, id := range p.Components {
		c, ok := s.Component(id)
		if !ok {
			c = schema.Component{ID: id, Name: humanize(id), Type: "section"}
		}
		out = append(out, buildSection(c, p, st))
	}
	// Calls to action point at the page's first form when there is one.
	for _, sec := range out {
		if sec.Kind != "form" {
			continue
		}
		for i := range out {
			if out[i].Href != "" {
				out[i].Href = "#" + sec.ID
			}
		}
		break
	}
	return out
}

func buildSection(c schema.Component, p schema.Page, st *site) section {
	sec := section{
		Kind:    componentKind(c.Type),
		ID:      slugify(c.ID),
		Ident:   identifier(c.Name, "Section"),
		Heading: humanize(c.Name),
	}
	if sec.ID == "" {
		sec.ID = "section"
	}
	switch sec.Kind {
	case "hero":
		sec.Heading = firstNonEmpty(p.Title, st.Name)
		sec.Text = firstNonEmpty(p.Description, st.Description)
		sec.CTA = "Get started"
		sec.Href = "#"
	case "cta":
		sec.Heading = fmt.Sprintf("Ready to get started with %s?", st.Name)
		sec.Text = "Join thousands of people who already rely on it every day."
		sec.CTA = "Start now"
		sec.Href = "#"
	case "card":
		sec.Items = cardItems(c)
	case "form":
		sec.Text = "Fill in the form and we will get back to you within one business day."
		sec.Fields = formFields(c)
		sec.CTA = "Send"
	case "pricing":
		sec.Heading = firstNonEmpty(sec.Heading, "Pricing")
		sec.Items = pricingPlans
	case "testimonial":
		sec.Items = testimonials
	case "faq":
		sec.Heading = "Frequently asked questions"
		sec.Items = faqItems(st.Name)
	case "footer":
		sec.Text = fmt.Sprintf("© %s. All rights reserved.", st.Name)
	default:
		sec.Text = fmt.Sprintf("%s for %s.", humanize(c.Name), st.Name)
	}
	return sec
}

func cardItems(c schema.Component) []item {
	if len(c.Props) > 0 {
		out := make([]item, 0, len(c.Props))
		for _, pr := range c.Props {
			out = append(out, item{
				Title: humanize(pr.Name),
				Text:  fmt.Sprintf("Everything you need to know about %s.", strings.ToLower(humanize(pr.Name))),
			})
		}
		return out
	}
	return []item{
		{Title: "Thoughtful design", Text: "Every screen is built around what people actually need to do.", Meta: "01"},
		{Title: "Fast by default", Text: "Pages load in under a second on a typical mobile connection.", Meta: "02"},
		{Title: "Built to last", Text: "Accessible markup and clean structure that is easy to extend.", Meta: "03"},
	}
}

func formFields(c schema.Component) []formField {
	if len(c.Props) == 0 {
		return []formField{
			{Name: "name", Label: "Name", Type: "text", Required: true},
			{Name: "email", Label: "Email", Type: "email", Required: true},
			{Name: "message", Label: "Message", Type: "textarea", Required: true},
		}
	}
	out := make([]formField, 0, len(c.Props))
	for _, pr := range c.Props {
		typ := "text"
		n := strings.ToLower(pr.Name)
		switch {
		case strings.Contains(n, "email") || pr.Type == "email":
			typ = "email"
		case strings.Contains(n, "message") || strings.Contains(n, "comment") || pr.Type == "textarea":
			typ = "textarea"
		case strings.Contains(n, "phone"):
			typ = "tel"
		case pr.Type == "number":
			typ = "number"
		}
		out = append(out, formField{Name: slugify(pr.Name), Label: humanize(pr.Name), Type: typ, Required: pr.Required})
	}
	return out
}

var pricingPlans = []item{
	{Title: "Starter", Price: "$0", Text: "For individuals trying things out.", Features: []string{"1 project", "Community support", "Basic analytics"}},
	{Title: "Pro", Price: "$19", Text: "For professionals who ship every week.", Features: []string{"Unlimited projects", "Priority support", "Advanced analytics", "Custom domain"}, Highlight: true},
	{Title: "Team", Price: "$49", Text: "For teams that collaborate daily.", Features: []string{"Everything in Pro", "5 seats included", "Shared workspaces", "SSO"}},
}

var testimonials = []item{
	{Title: "Maya Chen", Meta: "Product Designer, Lumen", Text: "It took us an afternoon to launch something we had been planning for months."},
	{Title: "Daniel Okafor", Meta: "Founder, Northwind", Text: "Our customers noticed the difference the first week. Support tickets dropped by a third."},
	{Title: "Sofia Ramirez", Meta: "Engineering Lead, Atlas", Text: "Clean, fast and easy to extend. Exactly what we needed."},
}

func faqItems(app string) []item {
	return []item{
		{Title: fmt.Sprintf("What is %s?", app), Text: fmt.Sprintf("%s is a simple way to get your work organized and shared.", app)},
		{Title: "Is there a free plan?", Text: "Yes. The Starter plan is free forever and includes everything you need to get going."},
		{Title: "Can I cancel anytime?", Text: "Absolutely. There are no contracts and you can cancel from your account settings."},
		{Title: "How do I get support?", Text: "Email our team any time and expect a reply within one business day."},
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
