package templates

import (
	"fmt"
	"strings"

	"github.com/p-blackswan/appforge/internal/schema"
)

var (
	spacingScale = map[string]string{"compact": "0.75rem", "normal": "1rem", "spacious": "1.5rem"}
	radiusScale  = map[string]string{"none": "0", "sm": "0.25rem", "md": "0.5rem", "lg": "1rem", "full": "9999px"}
)

// cssVariables renders the :root custom properties for the design tokens.
// Static styles.css and the web index.css share it.
func cssVariables(d *schema.Design) string {
	var b strings.Builder
	b.WriteString(":root {\n")
	for _, nv := range d.Colors.Named() {
		fmt.Fprintf(&b, "  --color-%s: %s;\n", nv[0], nv[1])
	}
	t := d.Typography
	fmt.Fprintf(&b, "  --font-heading: %s;\n", fontStack(t.HeadingFont))
	fmt.Fprintf(&b, "  --font-body: %s;\n", fontStack(t.BodyFont))
	fmt.Fprintf(&b, "  --font-size-base: %dpx;\n", t.BaseFontSize)
	fmt.Fprintf(&b, "  --line-height: %s;\n", trimFloat(t.LineHeight))
	fmt.Fprintf(&b, "  --space: %s;\n", spacingScale[d.Spacing])
	fmt.Fprintf(&b, "  --radius: %s;\n", radiusScale[d.BorderRadius])
	if d.Shadows {
		b.WriteString("  --shadow: 0 1px 3px rgba(15, 23, 42, 0.08), 0 8px 24px rgba(15, 23, 42, 0.06);\n")
	} else {
		b.WriteString("  --shadow: none;\n")
	}
	b.WriteString("}\n")

	if d.Theme == "dark" || d.Theme == "system" {
		dark := darkPalette(d.Colors)
		selector := "[data-theme=\"dark\"]"
		indent := ""
		if d.Theme == "system" {
			b.WriteString("\n@media (prefers-color-scheme: dark) {\n")
			selector = ":root"
			indent = "  "
		} else {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s%s {\n", indent, selector)
		for _, nv := range dark.Named() {
			fmt.Fprintf(&b, "%s  --color-%s: %s;\n", indent, nv[0], nv[1])
		}
		fmt.Fprintf(&b, "%s}\n", indent)
		if d.Theme == "system" {
			b.WriteString("}\n")
		}
	}
	return b.String()
}

func fontStack(font string) string {
	if font == "" {
		font = "Inter"
	}
	if strings.ContainsAny(font, " ") {
		font = `"` + font + `"`
	}
	return font + ", system-ui, -apple-system, sans-serif"
}

func trimFloat(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

// darkPalette derives a dark variant by swapping background and foreground
// and pulling muted and border toward the new background.
func darkPalette(c *schema.Colors) *schema.Colors {
	d := *c
	d.Background = darken(c.Foreground)
	d.Foreground = c.Background
	d.Muted = mix(c.Muted, d.Foreground, 0.35)
	d.Border = mix(d.Background, d.Foreground, 0.18)
	return &d
}

func darken(hex string) string {
	return mix(hex, "#000000", 0.2)
}

// mix blends a toward b by t in [0,1]. Unparseable input is returned as-is.
func mix(a, b string, t float64) string {
	ar, ag, ab, ok1 := schema.ParseHex(a)
	br, bg, bb, ok2 := schema.ParseHex(b)
	if !ok1 || !ok2 {
		return a
	}
	ch := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	return fmt.Sprintf("#%02x%02x%02x", ch(ar, br), ch(ag, bg), ch(ab, bb))
}

// fontImportURL returns a Google Fonts stylesheet URL for the heading and
// body fonts, or "" for system fonts.
func fontImportURL(t *schema.Typography) string {
	var families []string
	seen := map[string]bool{}
	for _, f := range []string{t.HeadingFont, t.BodyFont} {
		if f == "" || seen[f] || systemFonts[strings.ToLower(f)] {
			continue
		}
		seen[f] = true
		families = append(families, "family="+strings.ReplaceAll(f, " ", "+")+":wght@400;600;700")
	}
	if len(families) == 0 {
		return ""
	}
	return "https://fonts.googleapis.com/css2?" + strings.Join(families, "&") + "&display=swap"
}

var systemFonts = map[string]bool{
	"system-ui": true, "sans-serif": true, "serif": true, "monospace": true,
	"arial": true, "helvetica": true, "georgia": true,
}
