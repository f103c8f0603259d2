// Package schematest provides schema fixtures for tests.
package schematest

import "github.com/p-blackswan/appforge/internal/schema"

// Colors returns a palette that passes validation.
func Colors() *schema.Colors {
	return &schema.Colors{
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
}

// Portfolio returns a complete, validator-clean schema for platform.
func Portfolio(platform schema.Platform) *schema.AppSchema {
	return &schema.AppSchema{
		Meta: &schema.Meta{
			Name:        "Folio",
			Description: "A one-page portfolio for a product designer",
			Platform:    platform,
			Version:     "1.0.0",
		},
		Design: &schema.Design{
			Theme:  "light",
			Colors: Colors(),
			Typography: &schema.Typography{
				HeadingFont:  "Inter",
				BodyFont:     "Inter",
				BaseFontSize: 16,
				LineHeight:   1.6,
			},
			Spacing:      "normal",
			BorderRadius: "md",
			Shadows:      true,
		},
		Structure: &schema.Structure{
			Pages: []schema.Page{
				{
					ID:         "home",
					Name:       "Home",
					Path:       "/",
					Type:       "static",
					Title:      "Folio",
					Components: []string{"hero", "work", "contact-form"},
				},
			},
			Navigation: &schema.Navigation{
				Type:  "header",
				Items: []schema.NavItem{{ID: "nav-home", Label: "Home", Path: "/"}},
			},
		},
		Components: []schema.Component{
			{ID: "hero", Name: "Hero", Type: "hero"},
			{ID: "work", Name: "WorkGrid", Type: "card"},
			{ID: "contact-form", Name: "ContactForm", Type: "form"},
		},
	}
}

// WithPages returns Portfolio plus one extra page per name. Page ids and
// paths are derived from the lowercased name.
func WithPages(platform schema.Platform, names ...string) *schema.AppSchema {
	s := Portfolio(platform)
	for _, n := range names {
		id := slug(n)
		s.Structure.Pages = append(s.Structure.Pages, schema.Page{
			ID:         id,
			Name:       n,
			Path:       "/" + id,
			Type:       "static",
			Title:      n,
			Components: []string{"hero"},
		})
		s.Structure.Navigation.Items = append(s.Structure.Navigation.Items,
			schema.NavItem{ID: "nav-" + id, Label: n, Path: "/" + id})
	}
	return s
}

// WithAuth enables auth with the given providers.
func WithAuth(s *schema.AppSchema, providers ...string) *schema.AppSchema {
	if s.Features == nil {
		s.Features = &schema.Features{}
	}
	s.Features.Auth = &schema.Auth{
		Enabled:           true,
		Providers:         providers,
		PasswordMinLength: 8,
	}
	return s
}

func slug(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+'a'-'A')
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		case c == ' ' || c == '-' || c == '_':
			out = append(out, '-')
		}
	}
	return string(out)
}
