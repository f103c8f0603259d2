package reviewer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/llm/llmtest"
	"github.com/p-blackswan/appforge/internal/schema"
)

var sampleFiles = []schema.GeneratedFile{
	{Path: "index.html", Content: "<html></html>", Language: "html"},
	{Path: "styles.css", Content: "body{}", Language: "css"},
}

func TestScore(t *testing.T) {
	assert.Equal(t, 100, Score(nil))
	assert.Equal(t, 64, Score([]Issue{
		{Severity: SeverityCritical},
		{Severity: SeverityError},
		{Severity: SeverityWarning},
		{Severity: SeverityInfo},
	}))
	assert.Equal(t, 99, Score([]Issue{{Severity: "nit"}}))
	assert.Equal(t, 0, Score([]Issue{
		{Severity: SeverityCritical}, {Severity: SeverityCritical}, {Severity: SeverityCritical},
		{Severity: SeverityCritical}, {Severity: SeverityCritical}, {Severity: SeverityCritical},
	}))
}

func TestReview_ParsesIssues(t *testing.T) {
	provider := llmtest.Text("```json\n" + `{
  "issues": [
    {"severity": "ERROR", "file": "index.html", "line": 3, "message": "Missing lang attribute"},
    {"severity": "warning", "message": "No alt text"},
    {"severity": "info", "message": ""}
  ],
  "summary": "Mostly fine.",
  "improvements": ["Add alt text"]
}` + "\n```")
	r := New(provider)

	res := r.Review(context.Background(), sampleFiles, schema.PlatformWebsite)
	require.Len(t, res.Issues, 2)
	assert.Equal(t, SeverityError, res.Issues[0].Severity)
	assert.Equal(t, 85, res.Score)
	assert.True(t, res.Passed, "score above the pass threshold")
	assert.Equal(t, "Mostly fine.", res.Summary)
	assert.Equal(t, []string{"Add alt text"}, res.Improvements)

	call := provider.Calls()[0]
	require.NotNil(t, call.Temperature)
	assert.InDelta(t, llm.ReviewTemperature, *call.Temperature, 1e-9)
	assert.Contains(t, call.Messages[0].Content, "// path: styles.css")
}

func TestReview_ExplicitPassedWins(t *testing.T) {
	r := New(llmtest.Text(`{"passed": false, "issues": [], "summary": "Incomplete"}`))
	res := r.Review(context.Background(), sampleFiles, schema.PlatformWebsite)
	assert.False(t, res.Passed)
	assert.Equal(t, 100, res.Score)
}

func TestReview_LowScoreFails(t *testing.T) {
	r := New(llmtest.Text(`{"issues": [
		{"severity": "critical", "message": "a"},
		{"severity": "critical", "message": "b"},
		{"severity": "error", "message": "c"}
	]}`))
	res := r.Review(context.Background(), sampleFiles, schema.PlatformWebsite)
	assert.Equal(t, 50, res.Score)
	assert.False(t, res.Passed)
	assert.Equal(t, "Found 3 issue(s).", res.Summary)
}

func TestReview_Degrades(t *testing.T) {
	tests := map[string]*llmtest.Provider{
		"upstream error": llmtest.New(llmtest.Reply{Err: errors.New("boom")}),
		"unparseable":    llmtest.Text("Looks good to me!"),
	}
	for name, provider := range tests {
		t.Run(name, func(t *testing.T) {
			res := New(provider).Review(context.Background(), sampleFiles, schema.PlatformWebApp)
			assert.Equal(t, Unavailable(), res)
			assert.True(t, res.Passed)
			assert.Equal(t, 70, res.Score)
			assert.Equal(t, UnavailableSummary, res.Summary)
		})
	}

	assert.Equal(t, Unavailable(), New(nil).Review(context.Background(), sampleFiles, schema.PlatformWebApp))
}

func TestRender_Truncates(t *testing.T) {
	r := New(nil, WithLimits(10, 30))
	out := r.render([]schema.GeneratedFile{
		{Path: "a.ts", Content: strings.Repeat("a", 40)},
		{Path: "b.ts", Content: strings.Repeat("b", 40)},
		{Path: "c.ts", Content: strings.Repeat("c", 40)},
	})
	assert.Contains(t, out, strings.Repeat("a", 10)+"\n...(truncated)")
	assert.NotContains(t, out, strings.Repeat("a", 11))
	assert.Contains(t, out, "// path: b.ts")
	assert.NotContains(t, out, "// path: c.ts")
	assert.Contains(t, out, "1 more file(s) omitted")
}
