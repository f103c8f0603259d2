// Package incremental computes what changed between two schemas and which
// previously generated files that change makes stale, so a refinement only
// rewrites the files it has to.
package incremental

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/p-blackswan/appforge/internal/schema"
	"github.com/p-blackswan/appforge/internal/templates"
)

// Diff is the structural difference between two schemas. Slices hold page
// ids, component ids or dotted schema keys and are sorted.
type Diff struct {
	ChangedPages      []string `json:"changedPages"`
	AddedPages        []string `json:"addedPages"`
	RemovedPages      []string `json:"removedPages"`
	ChangedComponents []string `json:"changedComponents"`
	ChangedDesignKeys []string `json:"changedDesignKeys"`
	MetaChanged       []string `json:"metaChanged"`
	FeaturesChanged   []string `json:"featuresChanged"`
	NavigationChanged bool     `json:"navigationChanged"`
	LayoutsChanged    bool     `json:"layoutsChanged"`
	// RoutesChanged is set when pages were added, removed, reordered or had
	// their path, name or type changed.
	RoutesChanged   bool `json:"routesChanged"`
	PlatformChanged bool `json:"platformChanged"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.ChangedKeys()) == 0
}

// ChangedKeys flattens the diff into source keys comparable with
// schema.GeneratedFile.Sources.
func (d Diff) ChangedKeys() []string {
	var keys []string
	if d.PlatformChanged {
		keys = append(keys, "meta.platform")
	}
	keys = append(keys, d.MetaChanged...)
	keys = append(keys, d.ChangedDesignKeys...)
	if d.RoutesChanged {
		keys = append(keys, templates.SourcePages)
	}
	if d.NavigationChanged {
		keys = append(keys, templates.SourceNavigation)
	}
	if d.LayoutsChanged {
		keys = append(keys, "layouts")
	}
	pages := slices.Concat(d.ChangedPages, d.AddedPages, d.RemovedPages)
	slices.Sort(pages)
	for _, id := range slices.Compact(pages) {
		keys = append(keys, templates.PageSource(id))
	}
	for _, id := range d.ChangedComponents {
		keys = append(keys, templates.ComponentSource(id))
	}
	keys = append(keys, d.FeaturesChanged...)
	return keys
}

// DiffSchemas compares prev and next. A nil prev schema, or one for another
// platform, yields PlatformChanged so callers regenerate everything.
func DiffSchemas(prev, next *schema.AppSchema) Diff {
	var d Diff
	if prev.Platform() != next.Platform() {
		d.PlatformChanged = true
	}
	if prev == nil {
		prev = &schema.AppSchema{}
	}
	if next == nil {
		next = &schema.AppSchema{}
	}

	d.MetaChanged = diffMeta(prev.Meta, next.Meta)
	d.ChangedDesignKeys = diffDesign(prev.Design, next.Design)
	diffPages(&d, prev.Pages(), next.Pages())
	d.ChangedComponents = diffComponents(prev.Components, next.Components)
	d.NavigationChanged = !jsonEqual(templates.Navigation(prev), templates.Navigation(next))
	d.LayoutsChanged = !jsonEqual(layouts(prev), layouts(next))
	d.FeaturesChanged = diffFeatures(prev.Features, next.Features)
	return d
}

func diffMeta(a, b *schema.Meta) []string {
	if a == nil {
		a = &schema.Meta{}
	}
	if b == nil {
		b = &schema.Meta{}
	}
	var out []string
	if a.Name != b.Name {
		out = append(out, "meta.name")
	}
	if a.Description != b.Description {
		out = append(out, "meta.description")
	}
	if a.Version != b.Version {
		out = append(out, "meta.version")
	}
	return out
}

func diffDesign(a, b *schema.Design) []string {
	if a == nil {
		a = &schema.Design{}
	}
	if b == nil {
		b = &schema.Design{}
	}
	var out []string
	if a.Theme != b.Theme {
		out = append(out, "design.theme")
	}

	ac, bc := a.Colors, b.Colors
	if ac == nil {
		ac = &schema.Colors{}
	}
	if bc == nil {
		bc = &schema.Colors{}
	}
	an, bn := ac.Named(), bc.Named()
	for i := range an {
		if an[i][1] != bn[i][1] {
			out = append(out, "design.colors."+an[i][0])
		}
	}

	at, bt := a.Typography, b.Typography
	if at == nil {
		at = &schema.Typography{}
	}
	if bt == nil {
		bt = &schema.Typography{}
	}
	if at.HeadingFont != bt.HeadingFont {
		out = append(out, "design.typography.headingFont")
	}
	if at.BodyFont != bt.BodyFont {
		out = append(out, "design.typography.bodyFont")
	}
	if at.BaseFontSize != bt.BaseFontSize {
		out = append(out, "design.typography.baseFontSize")
	}
	if at.LineHeight != bt.LineHeight {
		out = append(out, "design.typography.lineHeight")
	}

	if a.Spacing != b.Spacing {
		out = append(out, "design.spacing")
	}
	if a.BorderRadius != b.BorderRadius {
		out = append(out, "design.borderRadius")
	}
	if a.Shadows != b.Shadows {
		out = append(out, "design.shadows")
	}
	slices.Sort(out)
	return out
}

func diffPages(d *Diff, a, b []schema.Page) {
	oldByID := make(map[string]schema.Page, len(a))
	for _, p := range a {
		oldByID[p.ID] = p
	}
	newByID := make(map[string]bool, len(b))
	for _, p := range b {
		newByID[p.ID] = true
		prev, ok := oldByID[p.ID]
		if !ok {
			d.AddedPages = append(d.AddedPages, p.ID)
			d.RoutesChanged = true
			continue
		}
		if prev.Path != p.Path || prev.Name != p.Name || prev.Type != p.Type {
			d.RoutesChanged = true
		}
		if !jsonEqual(prev, p) {
			d.ChangedPages = append(d.ChangedPages, p.ID)
		}
	}
	for _, p := range a {
		if !newByID[p.ID] {
			d.RemovedPages = append(d.RemovedPages, p.ID)
			d.RoutesChanged = true
		}
	}
	if !d.RoutesChanged && !slices.Equal(pageIDs(a), pageIDs(b)) {
		d.RoutesChanged = true
	}
	slices.Sort(d.ChangedPages)
	slices.Sort(d.AddedPages)
	slices.Sort(d.RemovedPages)
}

func pageIDs(pages []schema.Page) []string {
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	return ids
}

// diffComponents reports added, removed and modified component ids.
func diffComponents(a, b []schema.Component) []string {
	oldByID := make(map[string]schema.Component, len(a))
	for _, c := range a {
		oldByID[c.ID] = c
	}
	seen := make(map[string]bool, len(b))
	var out []string
	for _, c := range b {
		seen[c.ID] = true
		prev, ok := oldByID[c.ID]
		if !ok || prev.Name != c.Name || prev.Type != c.Type || !slices.Equal(prev.Props, c.Props) {
			out = append(out, c.ID)
		}
	}
	for _, c := range a {
		if !seen[c.ID] {
			out = append(out, c.ID)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func diffFeatures(a, b *schema.Features) []string {
	if a == nil {
		a = &schema.Features{}
	}
	if b == nil {
		b = &schema.Features{}
	}
	var out []string
	if !jsonEqual(a.Auth, b.Auth) {
		out = append(out, templates.SourceAuth)
	}
	if !jsonEqual(a.Database, b.Database) {
		out = append(out, templates.SourceDatabase)
	}
	if !jsonEqual(a.API, b.API) {
		out = append(out, "features.api")
	}
	if !jsonEqual(a.PWA, b.PWA) {
		out = append(out, "features.pwa")
	}
	if !jsonEqual(a.Storage, b.Storage) {
		out = append(out, "features.storage")
	}
	slices.Sort(out)
	return out
}

func layouts(s *schema.AppSchema) []schema.Layout {
	if s.Structure == nil || len(s.Structure.Layouts) == 0 {
		return nil
	}
	return s.Structure.Layouts
}

// jsonEqual compares two values by their wire encoding, which treats nil
// and empty omitempty fields alike.
func jsonEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
