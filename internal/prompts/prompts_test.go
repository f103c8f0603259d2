package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/appforge/internal/schema"
	"github.com/p-blackswan/appforge/internal/schema/schematest"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "AppForge", cfg.Product)
	assert.NotEmpty(t, cfg.Planner.Rules)
	assert.NotEmpty(t, cfg.CodeGen.Rules)
	assert.NotEmpty(t, cfg.Reviewer.Rules)
	assert.Contains(t, cfg.Platforms, "website")
	assert.Contains(t, cfg.Platforms, "webapp")
	assert.Contains(t, cfg.Platforms, "mobile")
}

func TestPlannerSystem(t *testing.T) {
	cfg := Default()

	fresh := cfg.PlannerSystem(schema.PlatformWebApp, nil)
	assert.Contains(t, fresh, "AppForge, an app builder")
	assert.Contains(t, fresh, "single JSON object")
	assert.Contains(t, fresh, "Target platform: webapp")
	assert.NotContains(t, fresh, "Current schema:")

	update := cfg.PlannerSystem(schema.PlatformWebApp, schematest.Portfolio(schema.PlatformWebApp))
	assert.Contains(t, update, "Current schema:")
	assert.Contains(t, update, `"name": "Folio"`)
}

func TestCodeGenSystem(t *testing.T) {
	cfg := Default()
	p := cfg.CodeGenSystem(schema.PlatformMobile, false)
	assert.Contains(t, p, "Expo")
	assert.Contains(t, p, "TODO")
	assert.Contains(t, p, "loading, error and empty states")
	assert.NotContains(t, p, "already exists")

	assert.Contains(t, cfg.CodeGenSystem(schema.PlatformMobile, true), "already exists")
}

func TestReviewerSystem(t *testing.T) {
	p := Default().ReviewerSystem(schema.PlatformWebsite)
	assert.Contains(t, p, `"passed"`)
	assert.Contains(t, p, "HTML5")
}

func TestClarifyMessage(t *testing.T) {
	cfg := Default()
	msg := cfg.ClarifyMessage([]string{"meta.name", "structure.pages"})
	assert.Contains(t, msg, "what the app is called and which pages or screens it needs")
	assert.NotContains(t, msg, "{{missing}}")

	assert.Contains(t, cfg.ClarifyMessage(nil), "your app")
}

func TestLoad_OverrideAndExpand(t *testing.T) {
	t.Setenv("APPFORGE_TEST_PRODUCT", "Shipyard")
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
product: ${APPFORGE_TEST_PRODUCT}
reviewer:
  role: You review code for an app builder.
  rules:
    - Be strict. Plans cost $20 a month.
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Shipyard", cfg.Product)
	assert.Equal(t, []string{"Be strict. Plans cost $20 a month."}, cfg.Reviewer.Rules)
	assert.NotEmpty(t, cfg.Planner.Rules, "planner keeps the embedded rules")
	assert.Contains(t, cfg.ReviewerSystem(schema.PlatformWebsite), "Shipyard, an app builder")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadBytes([]byte("planner: [not, a, map]"))
	require.Error(t, err)

	_, err = LoadBytes([]byte("planner:\n  rules: []\n"))
	require.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Planner.Rules)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PROMPTS_X", "value")
	assert.Equal(t, "a value b", expandEnvVars("a ${PROMPTS_X} b"))
	assert.Equal(t, "costs $5", expandEnvVars("costs $5"))
	assert.Equal(t, "", expandEnvVars("${PROMPTS_UNSET_VAR}"))
}
