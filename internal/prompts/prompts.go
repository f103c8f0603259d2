// Package prompts holds the system prompts for the planning, code generation
// and review stages. The rules themselves are configuration: an embedded
// rules.yaml, optionally overridden by a file on disk. Values may reference
// environment variables as ${VAR}.
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/appforge/internal/schema"
)

//go:embed rules.yaml
var embedded []byte

// Rulebook is the prompt material for one pipeline stage.
type Rulebook struct {
	Role   string   `yaml:"role"`
	Rules  []string `yaml:"rules"`
	Update string   `yaml:"update"`
	Output string   `yaml:"output"`
}

// PlatformGuide describes the target stack for one platform.
type PlatformGuide struct {
	Stack       string   `yaml:"stack"`
	Conventions []string `yaml:"conventions"`
}

// Config is the parsed rules file.
type Config struct {
	Product   string                   `yaml:"product"`
	Planner   Rulebook                 `yaml:"planner"`
	CodeGen   Rulebook                 `yaml:"codegen"`
	Reviewer  Rulebook                 `yaml:"reviewer"`
	Platforms map[string]PlatformGuide `yaml:"platforms"`
	Clarify   string                   `yaml:"clarify"`
}

// Default returns the embedded rules.
func Default() *Config {
	cfg, err := parse(embedded)
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded rules.yaml: %v", err))
	}
	return cfg
}

// Load returns the embedded rules with path layered on top. Keys present in
// the file replace the embedded ones; absent keys keep their defaults. An
// empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	cfg, err := LoadBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("prompts: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadBytes layers data over the embedded rules.
func LoadBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(cfg.Planner.Rules) == 0 || len(cfg.CodeGen.Rules) == 0 {
		return nil, fmt.Errorf("parse: planner and codegen rules must not be empty")
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, err
	}
	if cfg.Product == "" {
		cfg.Product = "AppForge"
	}
	return &cfg, nil
}

// envVarPattern only matches the braced form so dollar amounts in prompt
// text pass through.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} with its environment value. Missing vars
// become the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// PlannerSystem builds the planning system prompt. When existing is non-nil
// the prompt switches to update mode and embeds the current schema.
func (c *Config) PlannerSystem(platform schema.Platform, existing *schema.AppSchema) string {
	var b strings.Builder
	writeRulebook(&b, c.Product, c.Planner)
	if g, ok := c.Platforms[string(platform)]; ok {
		fmt.Fprintf(&b, "\nTarget platform: %s (%s)\n", platform, g.Stack)
	}
	if existing != nil {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(c.Planner.Update))
		b.WriteString("\n\nCurrent schema:\n")
		data, err := json.MarshalIndent(existing, "", "  ")
		if err == nil {
			b.Write(data)
		}
		b.WriteString("\n")
	}
	writeOutput(&b, c.Planner.Output)
	return b.String()
}

// CodeGenSystem builds the code generation system prompt for platform.
func (c *Config) CodeGenSystem(platform schema.Platform, update bool) string {
	var b strings.Builder
	writeRulebook(&b, c.Product, c.CodeGen)
	if g, ok := c.Platforms[string(platform)]; ok {
		fmt.Fprintf(&b, "\nTarget platform: %s\nStack: %s\n", platform, g.Stack)
		for _, conv := range g.Conventions {
			fmt.Fprintf(&b, "- %s\n", conv)
		}
	}
	if update && c.CodeGen.Update != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(c.CodeGen.Update))
		b.WriteString("\n")
	}
	writeOutput(&b, c.CodeGen.Output)
	return b.String()
}

// ReviewerSystem builds the review system prompt.
func (c *Config) ReviewerSystem(platform schema.Platform) string {
	var b strings.Builder
	writeRulebook(&b, c.Product, c.Reviewer)
	if g, ok := c.Platforms[string(platform)]; ok {
		fmt.Fprintf(&b, "\nThe project targets %s (%s).\n", platform, g.Stack)
	}
	writeOutput(&b, c.Reviewer.Output)
	return b.String()
}

var missingPhrases = map[string]string{
	"meta.name":       "what the app is called",
	"meta.platform":   "where it should run (website, web app or mobile)",
	"design.colors":   "the look and feel you have in mind",
	"structure.pages": "which pages or screens it needs",
}

// ClarifyMessage is the assistant reply sent when planning produced an
// incomplete schema. missing comes from schema.Missing.
func (c *Config) ClarifyMessage(missing []string) string {
	parts := make([]string, 0, len(missing))
	for _, m := range missing {
		if p, ok := missingPhrases[m]; ok {
			parts = append(parts, p)
		} else {
			parts = append(parts, m)
		}
	}
	what := "your app"
	switch len(parts) {
	case 0:
	case 1:
		what = parts[0]
	default:
		what = strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
	return strings.TrimSpace(strings.ReplaceAll(c.Clarify, "{{missing}}", what))
}

func writeRulebook(b *strings.Builder, product string, rb Rulebook) {
	fmt.Fprintf(b, "%s\n", strings.TrimSpace(strings.ReplaceAll(rb.Role, "app builder", product+", an app builder")))
	if len(rb.Rules) > 0 {
		b.WriteString("\nRules:\n")
		for i, r := range rb.Rules {
			fmt.Fprintf(b, "%d. %s\n", i+1, r)
		}
	}
}

func writeOutput(b *strings.Builder, output string) {
	if output == "" {
		return
	}
	b.WriteString("\nRespond in exactly this shape:\n")
	b.WriteString(output)
	b.WriteString("\n")
}
