package incremental

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/appforge/internal/schema"
	"github.com/p-blackswan/appforge/internal/schema/schematest"
	"github.com/p-blackswan/appforge/internal/templates"
)

func generate(t *testing.T, s *schema.AppSchema) []schema.GeneratedFile {
	t.Helper()
	files, err := templates.Generate(s)
	require.NoError(t, err)
	return files
}

func byPath(files []schema.GeneratedFile) map[string]schema.GeneratedFile {
	out := make(map[string]schema.GeneratedFile, len(files))
	for _, f := range files {
		out[f.Path] = f
	}
	return out
}

func TestDiffSchemas_Identical(t *testing.T) {
	s := schematest.WithPages(schema.PlatformWebApp, "About")
	d := DiffSchemas(s, s.Clone())
	assert.True(t, d.Empty())
	assert.Empty(t, d.ChangedKeys())
}

func TestDiffSchemas_NilPrevious(t *testing.T) {
	d := DiffSchemas(nil, schematest.Portfolio(schema.PlatformWebsite))
	assert.True(t, d.PlatformChanged)
	assert.Equal(t, []string{"home"}, d.AddedPages)
	assert.Contains(t, d.ChangedKeys(), "meta.platform")
}

func TestDiffSchemas_Sections(t *testing.T) {
	prev := schematest.WithPages(schema.PlatformWebApp, "About", "Pricing")
	next := prev.Clone()
	next.Meta.Name = "Folio Studio"
	next.Design.Colors.Primary = "#111111"
	next.Design.Typography.HeadingFont = "Playfair Display"
	next.Structure.Pages[1].Title = "About the studio"
	next.Structure.Pages = next.Structure.Pages[:2]
	next.Structure.Navigation.Items = next.Structure.Navigation.Items[:2]
	next.Components[1].Name = "Portfolio"
	schematest.WithAuth(next, "email")

	d := DiffSchemas(prev, next)
	assert.False(t, d.PlatformChanged)
	assert.Equal(t, []string{"meta.name"}, d.MetaChanged)
	assert.Equal(t, []string{"design.colors.primary", "design.typography.headingFont"}, d.ChangedDesignKeys)
	assert.Equal(t, []string{"about"}, d.ChangedPages)
	assert.Equal(t, []string{"pricing"}, d.RemovedPages)
	assert.Empty(t, d.AddedPages)
	assert.Equal(t, []string{"work"}, d.ChangedComponents)
	assert.Equal(t, []string{templates.SourceAuth}, d.FeaturesChanged)
	assert.True(t, d.NavigationChanged)
	assert.True(t, d.RoutesChanged)
	assert.False(t, d.LayoutsChanged)

	assert.Equal(t, []string{
		"meta.name",
		"design.colors.primary",
		"design.typography.headingFont",
		templates.SourcePages,
		templates.SourceNavigation,
		"page:about",
		"page:pricing",
		"component:work",
		templates.SourceAuth,
	}, d.ChangedKeys())
}

func TestDiffSchemas_ContentEditIsNotARouteChange(t *testing.T) {
	prev := schematest.WithPages(schema.PlatformWebsite, "About")
	next := prev.Clone()
	next.Structure.Pages[1].Description = "Who we are"

	d := DiffSchemas(prev, next)
	assert.False(t, d.RoutesChanged)
	assert.Equal(t, []string{"page:about"}, d.ChangedKeys())
}

func TestDiffSchemas_Reorder(t *testing.T) {
	prev := schematest.WithPages(schema.PlatformWebApp, "About", "Pricing")
	next := prev.Clone()
	p := next.Structure.Pages
	p[1], p[2] = p[2], p[1]

	d := DiffSchemas(prev, next)
	assert.True(t, d.RoutesChanged)
	assert.Empty(t, d.ChangedPages)
}

func TestDiffSchemas_DerivedNavigationFollowsPages(t *testing.T) {
	prev := schematest.WithPages(schema.PlatformWebApp, "About")
	prev.Structure.Navigation.Items = nil
	next := prev.Clone()
	next.Structure.Pages[1].Name = "About Us"

	d := DiffSchemas(prev, next)
	assert.True(t, d.NavigationChanged, "items derived from page names changed")

	described := prev.Clone()
	described.Structure.Pages[1].Description = "Who we are"
	assert.False(t, DiffSchemas(prev, described).NavigationChanged)
}

func TestKeyMatch(t *testing.T) {
	tests := []struct {
		source, key string
		want        bool
	}{
		{"design", "design.colors.primary", true},
		{"design.colors", "design.colors.primary", true},
		{"design.colors.primary", "design", true},
		{"design.typography", "design.colors.primary", false},
		{"design", "designer", false},
		{"page:home", "page:home", true},
		{"page:home", "page:homepage", false},
		{anyPage, "page:about", true},
		{anyPage, "component:hero", false},
		{anyComponent, "component:hero", true},
		{"features", "features.auth", true},
		{"features.database", "features.auth", false},
	}
	for _, tt := range tests {
		t.Run(tt.source+"~"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, keyMatch(tt.source, tt.key))
		})
	}
}

func TestApply_PrimaryColorIsMinimal(t *testing.T) {
	tests := map[schema.Platform][]string{
		schema.PlatformWebsite: {"styles.css"},
		schema.PlatformWebApp:  {"src/index.css"},
		schema.PlatformMobile:  {"app.json", "constants/Colors.ts"},
	}
	for platform, want := range tests {
		t.Run(string(platform), func(t *testing.T) {
			prev := schematest.WithPages(platform, "About", "Pricing")
			oldFiles := generate(t, prev)
			next := prev.Clone()
			next.Design.Colors.Primary = "#ff0000"

			res, err := Apply(prev, next, oldFiles)
			require.NoError(t, err)
			assert.ElementsMatch(t, want, res.Plan.FilesToRegenerate)
			assert.ElementsMatch(t, want, res.Regenerated)
			assert.Empty(t, res.Deleted)
			assert.Len(t, res.Files, len(oldFiles))

			old := byPath(oldFiles)
			fresh := byPath(generate(t, next))
			for _, p := range res.Plan.FilesToKeep {
				assert.Equal(t, old[p].Content, fresh[p].Content, "kept file %s would have changed", p)
			}
			palette := want[len(want)-1]
			for _, f := range res.Files {
				if f.Path == palette {
					assert.NotEqual(t, old[f.Path].Content, f.Content)
					assert.Contains(t, f.Content, "ff0000")
				}
			}
		})
	}
}

func TestApply_AddPage(t *testing.T) {
	prev := schematest.WithPages(schema.PlatformWebsite, "About")
	oldFiles := generate(t, prev)
	next := schematest.WithPages(schema.PlatformWebsite, "About", "Pricing")

	res, err := Apply(prev, next, oldFiles)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"index.html", "about.html", "pricing.html"}, res.Regenerated)
	assert.ElementsMatch(t, []string{"styles.css", "script.js"}, res.Plan.FilesToKeep)
	assert.Empty(t, res.Deleted)
	assert.Contains(t, byPath(res.Files), "pricing.html")
}

func TestApply_RemovePage(t *testing.T) {
	prev := schematest.WithPages(schema.PlatformWebApp, "About")
	oldFiles := generate(t, prev)
	next := schematest.Portfolio(schema.PlatformWebApp)

	res, err := Apply(prev, next, oldFiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/pages/About.tsx"}, res.Deleted)
	assert.NotContains(t, byPath(res.Files), "src/pages/About.tsx")
	assert.Contains(t, res.Regenerated, "src/App.tsx")
	assert.NotContains(t, res.Regenerated, "src/index.css")
}

func TestApply_ComponentChange(t *testing.T) {
	prev := schematest.WithPages(schema.PlatformWebsite, "About")
	oldFiles := generate(t, prev)
	next := prev.Clone()
	next.Components[1].Name = "SelectedWork"

	res, err := Apply(prev, next, oldFiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html"}, res.Regenerated, "only the page using the component changes")
}

func TestApply_InfersSourcesForUntaggedFiles(t *testing.T) {
	prev := schematest.WithPages(schema.PlatformWebsite, "About")
	oldFiles := generate(t, prev)
	for i := range oldFiles {
		oldFiles[i].Sources = nil
	}
	oldFiles = append(oldFiles, schema.GeneratedFile{Path: "README.md", Content: "notes", Language: "plaintext"})
	next := prev.Clone()
	next.Design.Colors.Primary = "#ff0000"

	res, err := Apply(prev, next, oldFiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"styles.css"}, res.Plan.FilesToRegenerate)
	assert.Contains(t, res.Plan.FilesToKeep, "README.md")
	assert.Equal(t, "notes", byPath(res.Files)["README.md"].Content, "unknown files are carried over")
	assert.Empty(t, res.Deleted)
}

func TestApply_PlatformChange(t *testing.T) {
	prev := schematest.Portfolio(schema.PlatformWebsite)
	oldFiles := generate(t, prev)
	next := schematest.Portfolio(schema.PlatformWebApp)

	res, err := Apply(prev, next, oldFiles)
	require.NoError(t, err)
	assert.True(t, res.Diff.PlatformChanged)
	assert.Len(t, res.Plan.FilesToRegenerate, len(oldFiles))
	assert.Empty(t, res.Plan.FilesToKeep)
	assert.ElementsMatch(t, []string{"styles.css", "script.js"}, res.Deleted, "index.html is produced by both generators")
	assert.Len(t, res.Regenerated, len(res.Files))
}

func TestApply_RejectsUnknownPlatform(t *testing.T) {
	next := schematest.Portfolio("desktop")
	_, err := Apply(nil, next, nil)
	assert.ErrorIs(t, err, templates.ErrUnknownPlatform)
}

func TestInferSources(t *testing.T) {
	assert.Equal(t, []string{templates.SourceDesign}, InferSources("src/index.css"))
	assert.Equal(t, []string{templates.SourceFeatures}, InferSources("src/pages/Login.tsx"))
	assert.Contains(t, InferSources("app/(tabs)/_layout.tsx"), templates.SourcePages)
	assert.Contains(t, InferSources("src/pages/About.tsx"), anyPage)
	assert.Nil(t, InferSources("docs/notes.md"))
}

func features(s *schema.AppSchema) *schema.Features {
	if s.Features == nil {
		s.Features = &schema.Features{}
	}
	return s.Features
}

// schemaMutations are single edits a refinement can make, one per schema
// area the generators read.
var schemaMutations = map[string]func(s *schema.AppSchema){
	"meta/name":        func(s *schema.AppSchema) { s.Meta.Name = "Folio Studio" },
	"meta/description": func(s *schema.AppSchema) { s.Meta.Description = "Selected work and writing" },
	"meta/version":     func(s *schema.AppSchema) { s.Meta.Version = "1.1.0" },

	"design/theme":        func(s *schema.AppSchema) { s.Design.Theme = "dark" },
	"design/primary":      func(s *schema.AppSchema) { s.Design.Colors.Primary = "#ff0000" },
	"design/background":   func(s *schema.AppSchema) { s.Design.Colors.Background = "#fafafa" },
	"design/headingFont":  func(s *schema.AppSchema) { s.Design.Typography.HeadingFont = "Playfair Display" },
	"design/bodyFont":     func(s *schema.AppSchema) { s.Design.Typography.BodyFont = "Source Sans 3" },
	"design/baseFontSize": func(s *schema.AppSchema) { s.Design.Typography.BaseFontSize = 18 },
	"design/lineHeight":   func(s *schema.AppSchema) { s.Design.Typography.LineHeight = 1.8 },
	"design/spacing":      func(s *schema.AppSchema) { s.Design.Spacing = "spacious" },
	"design/borderRadius": func(s *schema.AppSchema) { s.Design.BorderRadius = "lg" },
	"design/shadows":      func(s *schema.AppSchema) { s.Design.Shadows = false },

	"pages/title":       func(s *schema.AppSchema) { s.Structure.Pages[1].Title = "About the studio" },
	"pages/description": func(s *schema.AppSchema) { s.Structure.Pages[1].Description = "Who we are" },
	"pages/name":        func(s *schema.AppSchema) { s.Structure.Pages[1].Name = "About Us" },
	"pages/path":        func(s *schema.AppSchema) { s.Structure.Pages[2].Path = "/plans" },
	"pages/components": func(s *schema.AppSchema) {
		p := &s.Structure.Pages[1]
		p.Components = append(p.Components, "contact-form")
	},
	"pages/protect": func(s *schema.AppSchema) { s.Structure.Pages[2].Type = "protected" },
	"pages/layout":  func(s *schema.AppSchema) { s.Structure.Pages[1].Layout = "main" },
	"pages/add": func(s *schema.AppSchema) {
		s.Structure.Pages = append(s.Structure.Pages, schema.Page{
			ID: "team", Name: "Team", Path: "/team", Type: "static", Title: "Team", Components: []string{"hero"},
		})
	},
	"pages/remove": func(s *schema.AppSchema) {
		s.Structure.Pages = append(s.Structure.Pages[:2], s.Structure.Pages[3:]...)
	},
	"pages/reorder": func(s *schema.AppSchema) {
		p := s.Structure.Pages
		p[1], p[2] = p[2], p[1]
	},

	"components/name": func(s *schema.AppSchema) { s.Components[1].Name = "SelectedWork" },
	"components/type": func(s *schema.AppSchema) { s.Components[1].Type = "testimonial" },
	"components/props": func(s *schema.AppSchema) {
		s.Components[0].Props = append(s.Components[0].Props, schema.Prop{Name: "subtitle", Type: "string"})
	},
	"components/add": func(s *schema.AppSchema) {
		s.Components = append(s.Components, schema.Component{ID: "faq", Name: "Questions", Type: "faq"})
	},
	"components/remove": func(s *schema.AppSchema) {
		s.Components = append(s.Components[:1], s.Components[2:]...)
	},

	"navigation/type": func(s *schema.AppSchema) {
		if s.Structure.Navigation.Type == "tabs" {
			s.Structure.Navigation.Type = "stack"
		} else {
			s.Structure.Navigation.Type = "tabs"
		}
	},
	"navigation/label": func(s *schema.AppSchema) {
		if items := s.Structure.Navigation.Items; len(items) > 1 {
			items[1].Label = "Studio"
		}
	},

	"features/auth": func(s *schema.AppSchema) { schematest.WithAuth(s, "email", "google") },
	"features/database": func(s *schema.AppSchema) {
		features(s).Database = &schema.Database{
			Provider: "supabase",
			Tables:   []schema.Table{{Name: "projects", Fields: []schema.Field{{Name: "title", Type: "string"}}}},
		}
	},
	"features/api":     func(s *schema.AppSchema) { features(s).API = &schema.API{Enabled: true, Type: "rest"} },
	"features/pwa":     func(s *schema.AppSchema) { features(s).PWA = &schema.PWA{Enabled: true, Offline: true} },
	"features/storage": func(s *schema.AppSchema) { features(s).Storage = &schema.Storage{Enabled: true, Buckets: []string{"media"}} },

	"layouts": func(s *schema.AppSchema) {
		s.Structure.Layouts = []schema.Layout{{ID: "main", Name: "Main", Header: true, Footer: true}}
	},
}

// Whatever Apply keeps or regenerates, the merged project must match a
// fresh generation of the new schema file for file.
func TestApply_MatchesFreshGeneration(t *testing.T) {
	variants := []struct {
		platform schema.Platform
		nav      string
		derived  bool
	}{
		{schema.PlatformWebsite, "header", false},
		{schema.PlatformWebsite, "header", true},
		{schema.PlatformWebApp, "header", false},
		{schema.PlatformWebApp, "sidebar", true},
		{schema.PlatformMobile, "tabs", false},
		{schema.PlatformMobile, "tabs", true},
		{schema.PlatformMobile, "stack", false},
		{schema.PlatformMobile, "stack", true},
	}
	base := func(platform schema.Platform, nav string, derived bool) *schema.AppSchema {
		s := schematest.WithPages(platform, "About", "Pricing")
		s.Structure.Pages = append(s.Structure.Pages, schema.Page{
			ID: "dashboard", Name: "Dashboard", Path: "/dashboard", Type: "protected", Title: "Dashboard", Components: []string{"work"},
		})
		s.Structure.Navigation.Type = nav
		if derived {
			s.Structure.Navigation.Items = nil
		}
		return s
	}

	for _, v := range variants {
		name := string(v.platform) + "/" + v.nav
		if v.derived {
			name += "/derived"
		}
		t.Run(name, func(t *testing.T) {
			for mutation, mutate := range schemaMutations {
				t.Run(mutation, func(t *testing.T) {
					prev := base(v.platform, v.nav, v.derived)
					oldFiles := generate(t, prev)
					next := prev.Clone()
					mutate(next)

					res, err := Apply(prev, next, oldFiles)
					require.NoError(t, err)
					fresh := generate(t, next)

					want := make(map[string]string, len(fresh))
					for _, f := range fresh {
						want[f.Path] = f.Content
					}
					got := make(map[string]string, len(res.Files))
					for _, f := range res.Files {
						got[f.Path] = f.Content
					}
					for _, p := range res.Plan.FilesToKeep {
						if content, ok := want[p]; ok {
							assert.Equal(t, content, got[p], "kept stale file %s", p)
						}
					}
					assert.Equal(t, want, got)

					deleted := []string{}
					for _, f := range oldFiles {
						if _, ok := want[f.Path]; !ok {
							deleted = append(deleted, f.Path)
						}
					}
					assert.ElementsMatch(t, deleted, res.Deleted)
				})
			}
		})
	}
}
