// Package schema defines the Unified App Schema: the structured description of
// an application that the planner produces and the code generators consume.
//
// Every section is optional on the wire so a partially planned schema
// round-trips through JSON without loss.
package schema

import "encoding/json"

// Platform is the generation target.
type Platform string

const (
	PlatformWebsite Platform = "website"
	PlatformWebApp  Platform = "webapp"
	PlatformMobile  Platform = "mobile"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWebsite, PlatformWebApp, PlatformMobile:
		return true
	}
	return false
}

// AppSchema is the Unified App Schema.
type AppSchema struct {
	Meta       *Meta       `json:"meta,omitempty"`
	Design     *Design     `json:"design,omitempty"`
	Structure  *Structure  `json:"structure,omitempty"`
	Features   *Features   `json:"features,omitempty"`
	Components []Component `json:"components,omitempty"`
}

type Meta struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Platform    Platform `json:"platform"`
	Version     string   `json:"version,omitempty"`
}

type Design struct {
	Theme        string      `json:"theme,omitempty"`
	Colors       *Colors     `json:"colors,omitempty"`
	Typography   *Typography `json:"typography,omitempty"`
	Spacing      string      `json:"spacing,omitempty"`
	BorderRadius string      `json:"borderRadius,omitempty"`
	Shadows      bool        `json:"shadows,omitempty"`
}

// Colors holds the ten design palette entries as hex strings.
type Colors struct {
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
}

// Named returns the palette as (name, value) pairs in a fixed order.
func (c *Colors) Named() [][2]string {
	return [][2]string{
		{"primary", c.Primary},
		{"secondary", c.Secondary},
		{"accent", c.Accent},
		{"background", c.Background},
		{"foreground", c.Foreground},
		{"muted", c.Muted},
		{"border", c.Border},
		{"error", c.Error},
		{"success", c.Success},
		{"warning", c.Warning},
	}
}

type Typography struct {
	HeadingFont  string  `json:"headingFont,omitempty"`
	BodyFont     string  `json:"bodyFont,omitempty"`
	BaseFontSize int     `json:"baseFontSize,omitempty"`
	LineHeight   float64 `json:"lineHeight,omitempty"`
}

type Structure struct {
	Pages      []Page      `json:"pages"`
	Navigation *Navigation `json:"navigation,omitempty"`
	Layouts    []Layout    `json:"layouts,omitempty"`
}

// Page is one routable screen. Components lists component ids.
type Page struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Type        string   `json:"type,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Components  []string `json:"components,omitempty"`
	Layout      string   `json:"layout,omitempty"`
}

type Navigation struct {
	Type  string    `json:"type"`
	Items []NavItem `json:"items,omitempty"`
}

type NavItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Path  string `json:"path"`
	Icon  string `json:"icon,omitempty"`
}

type Layout struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Header  bool   `json:"header,omitempty"`
	Footer  bool   `json:"footer,omitempty"`
	Sidebar bool   `json:"sidebar,omitempty"`
}

type Features struct {
	Auth     *Auth     `json:"auth,omitempty"`
	Database *Database `json:"database,omitempty"`
	API      *API      `json:"api,omitempty"`
	Storage  *Storage  `json:"storage,omitempty"`
	PWA      *PWA      `json:"pwa,omitempty"`
}

type Auth struct {
	Enabled                  bool     `json:"enabled"`
	Providers                []string `json:"providers"`
	RequireEmailVerification bool     `json:"requireEmailVerification,omitempty"`
	PasswordMinLength        int      `json:"passwordMinLength,omitempty"`
}

type Database struct {
	Provider string  `json:"provider,omitempty"`
	Tables   []Table `json:"tables,omitempty"`
}

type Table struct {
	Name       string  `json:"name"`
	Fields     []Field `json:"fields,omitempty"`
	Timestamps bool    `json:"timestamps,omitempty"`
}

type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Unique   bool   `json:"unique,omitempty"`
}

type API struct {
	Enabled   bool     `json:"enabled"`
	Type      string   `json:"type,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
}

type Storage struct {
	Enabled  bool     `json:"enabled"`
	Provider string   `json:"provider,omitempty"`
	Buckets  []string `json:"buckets,omitempty"`
}

type PWA struct {
	Enabled     bool `json:"enabled"`
	Offline     bool `json:"offline,omitempty"`
	Installable bool `json:"installable,omitempty"`
}

type Component struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Props []Prop `json:"props,omitempty"`
}

type Prop struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// GeneratedFile is one emitted source file. Sources lists the schema
// fragment keys the content was derived from, e.g. "design.colors" or
// "page:home"; it is empty for files synthesized by a model.
type GeneratedFile struct {
	Path     string   `json:"path"`
	Content  string   `json:"content"`
	Language string   `json:"language"`
	Sources  []string `json:"sources,omitempty"`
}

// Parse decodes a schema from JSON.
func Parse(data []byte) (*AppSchema, error) {
	var s AppSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Clone returns a deep copy via a JSON round trip. Downstream stages work on
// clones so the caller's schema is never mutated.
func (s *AppSchema) Clone() *AppSchema {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	out, err := Parse(data)
	if err != nil {
		return nil
	}
	return out
}

// Platform returns meta.platform or "" when meta is missing.
func (s *AppSchema) Platform() Platform {
	if s == nil || s.Meta == nil {
		return ""
	}
	return s.Meta.Platform
}

// Pages returns structure.pages or nil.
func (s *AppSchema) Pages() []Page {
	if s == nil || s.Structure == nil {
		return nil
	}
	return s.Structure.Pages
}

// Component looks up a component by id.
func (s *AppSchema) Component(id string) (Component, bool) {
	if s == nil {
		return Component{}, false
	}
	for _, c := range s.Components {
		if c.ID == id {
			return c, true
		}
	}
	return Component{}, false
}

// AuthEnabled reports whether features.auth.enabled is set.
func (s *AppSchema) AuthEnabled() bool {
	return s != nil && s.Features != nil && s.Features.Auth != nil && s.Features.Auth.Enabled
}

// HasDatabase reports whether a database feature is configured.
func (s *AppSchema) HasDatabase() bool {
	return s != nil && s.Features != nil && s.Features.Database != nil &&
		(s.Features.Database.Provider != "" || len(s.Features.Database.Tables) > 0)
}

// IsComplete reports whether the schema carries enough to generate code:
// a name, a platform, design colors and at least one page.
func IsComplete(s *AppSchema) bool {
	return len(Missing(s)) == 0
}

// Missing names the parts that keep the schema from being complete.
func Missing(s *AppSchema) []string {
	var missing []string
	if s == nil || s.Meta == nil || s.Meta.Name == "" {
		missing = append(missing, "meta.name")
	}
	if s == nil || s.Meta == nil || s.Meta.Platform == "" {
		missing = append(missing, "meta.platform")
	}
	if s == nil || s.Design == nil || s.Design.Colors == nil {
		missing = append(missing, "design.colors")
	}
	if len(s.Pages()) == 0 {
		missing = append(missing, "structure.pages")
	}
	return missing
}
