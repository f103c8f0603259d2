package incremental

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/p-blackswan/appforge/internal/schema"
	"github.com/p-blackswan/appforge/internal/templates"
)

// Plan partitions previously generated files by path.
type Plan struct {
	FilesToRegenerate []string `json:"filesToRegenerate"`
	FilesToKeep       []string `json:"filesToKeep"`
}

// Wildcard source keys produced by path inference.
const (
	anyPage      = "page:*"
	anyComponent = "component:*"
)

// GenerateIncremental decides which of oldFiles are stale under diff. A
// file is stale when one of its sources and one of the changed keys are
// equal or one is a dotted prefix of the other, so "design" is stale for
// "design.colors.primary" and "design.colors.primary" is stale for
// "design". Files without recorded sources are classified by path; files
// whose path says nothing are kept. A platform change makes every file
// stale.
func GenerateIncremental(diff Diff, oldFiles []schema.GeneratedFile) Plan {
	plan := Plan{FilesToRegenerate: []string{}, FilesToKeep: []string{}}
	changed := diff.ChangedKeys()
	for _, f := range oldFiles {
		if diff.PlatformChanged || stale(sourcesOf(f), changed) {
			plan.FilesToRegenerate = append(plan.FilesToRegenerate, f.Path)
		} else {
			plan.FilesToKeep = append(plan.FilesToKeep, f.Path)
		}
	}
	return plan
}

func sourcesOf(f schema.GeneratedFile) []string {
	if len(f.Sources) > 0 {
		return f.Sources
	}
	return InferSources(f.Path)
}

func stale(sources, changed []string) bool {
	for _, s := range sources {
		for _, k := range changed {
			if keyMatch(s, k) {
				return true
			}
		}
	}
	return false
}

func keyMatch(source, key string) bool {
	switch source {
	case anyPage:
		return strings.HasPrefix(key, "page:")
	case anyComponent:
		return strings.HasPrefix(key, "component:")
	}
	return source == key ||
		strings.HasPrefix(key, source+".") ||
		strings.HasPrefix(source, key+".")
}

// InferSources guesses the source keys of a file from its path, for files
// generated before provenance was recorded or edited outside the
// generators. It returns nil when the path is not recognized.
func InferSources(p string) []string {
	base := path.Base(p)
	lower := strings.ToLower(base)
	ext := path.Ext(base)

	switch {
	case base == "package.json":
		return []string{templates.SourceMeta, templates.SourceFeatures}
	case base == "app.json":
		return []string{templates.SourceMeta, templates.SourceDesign}
	case base == "styles.css", base == "index.css", base == "Colors.ts",
		strings.HasPrefix(base, "tailwind.config"):
		return []string{templates.SourceDesign}
	case strings.Contains(lower, "login"), strings.Contains(lower, "signup"),
		strings.Contains(lower, "auth"), strings.Contains(lower, "supabase"),
		base == ".env.example":
		return []string{templates.SourceFeatures}
	case base == "App.tsx", base == "_layout.tsx":
		return []string{templates.SourcePages, templates.SourceNavigation, templates.SourceAuth}
	case strings.Contains(p, "/layout/"):
		return []string{templates.SourceNavigation, templates.SourceMeta}
	case ext == ".html":
		return []string{templates.SourcePages, templates.SourceNavigation, templates.SourceMeta, anyPage, anyComponent}
	case ext == ".tsx" && (strings.HasPrefix(p, "src/pages/") || strings.HasPrefix(p, "app/")):
		return []string{templates.SourceMeta, anyPage, anyComponent}
	}
	return nil
}

// Result is the merged output of Apply.
type Result struct {
	Files []schema.GeneratedFile `json:"files"`
	Diff  Diff                   `json:"diff"`
	Plan  Plan                   `json:"plan"`
	// Regenerated lists paths whose content came from the fresh run,
	// including files that did not exist before.
	Regenerated []string `json:"regenerated"`
	// Deleted lists previously generated paths the new schema no longer
	// produces, such as the files of removed pages.
	Deleted []string `json:"deleted"`
}

// Apply regenerates next with the template generators and merges the
// output with oldFiles: stale and new files come from the fresh run, kept
// files are returned exactly as they were. Old files with provenance that
// the fresh run no longer produces are reported as deleted; old files
// without any recognizable provenance are carried over untouched.
func Apply(prev, next *schema.AppSchema, oldFiles []schema.GeneratedFile) (*Result, error) {
	fresh, err := templates.Generate(next)
	if err != nil {
		return nil, fmt.Errorf("incremental: regenerate: %w", err)
	}
	diff := DiffSchemas(prev, next)
	plan := GenerateIncremental(diff, oldFiles)

	keep := make(map[string]bool, len(plan.FilesToKeep))
	for _, p := range plan.FilesToKeep {
		keep[p] = true
	}
	oldByPath := make(map[string]schema.GeneratedFile, len(oldFiles))
	for _, f := range oldFiles {
		oldByPath[f.Path] = f
	}

	res := &Result{Diff: diff, Plan: plan, Regenerated: []string{}, Deleted: []string{}}
	produced := make(map[string]bool, len(fresh))
	for _, f := range fresh {
		produced[f.Path] = true
		if old, ok := oldByPath[f.Path]; ok && keep[f.Path] {
			res.Files = append(res.Files, old)
			continue
		}
		res.Files = append(res.Files, f)
		res.Regenerated = append(res.Regenerated, f.Path)
	}

	for _, f := range oldFiles {
		if produced[f.Path] {
			continue
		}
		if diff.PlatformChanged || len(sourcesOf(f)) > 0 {
			res.Deleted = append(res.Deleted, f.Path)
			continue
		}
		res.Files = append(res.Files, f)
	}
	slices.Sort(res.Deleted)
	return res, nil
}
