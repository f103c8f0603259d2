// Package reviewer asks the model to critique generated files. A review is
// advisory: Review never fails, it degrades to a neutral result instead.
package reviewer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/appforge/internal/extract"
	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/prompts"
	"github.com/p-blackswan/appforge/internal/schema"
)

// Severity of a review issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

var penalties = map[Severity]int{
	SeverityCritical: 20,
	SeverityError:    10,
	SeverityWarning:  5,
	SeverityInfo:     1,
}

// PassScore is the lowest score that passes when the model does not say.
const PassScore = 60

// Defaults for the content sent to the model.
const (
	DefaultMaxTokens    = 4096
	DefaultMaxFileBytes = 8000
	DefaultMaxTotal     = 100000
)

// UnavailableSummary is the summary of a degraded review.
const UnavailableSummary = "Automated review unavailable; manual review recommended"

// Issue is one problem found by the reviewer.
type Issue struct {
	Severity   Severity `json:"severity"`
	File       string   `json:"file,omitempty"`
	Line       int      `json:"line,omitempty"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Result is a code review.
type Result struct {
	Passed       bool     `json:"passed"`
	Score        int      `json:"score"`
	Issues       []Issue  `json:"issues"`
	Summary      string   `json:"summary"`
	Improvements []string `json:"improvements,omitempty"`
}

// Unavailable is the result used when the model cannot be reached or its
// answer cannot be read.
func Unavailable() Result {
	return Result{Passed: true, Score: 70, Issues: []Issue{}, Summary: UnavailableSummary}
}

// Score computes 100 minus the per-severity penalties, floored at 0.
// Unknown severities count as info.
func Score(issues []Issue) int {
	score := 100
	for _, is := range issues {
		p, ok := penalties[is.Severity]
		if !ok {
			p = penalties[SeverityInfo]
		}
		score -= p
	}
	if score < 0 {
		return 0
	}
	return score
}

// Reviewer reviews generated files.
type Reviewer struct {
	provider     llm.Provider
	prompts      *prompts.Config
	logger       zerolog.Logger
	model        string
	maxTokens    int
	maxFileBytes int
	maxTotal     int
}

// Option configures a Reviewer.
type Option func(*Reviewer)

// WithPrompts overrides the embedded prompt rules.
func WithPrompts(p *prompts.Config) Option {
	return func(r *Reviewer) { r.prompts = p }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reviewer) { r.logger = l }
}

// WithModel pins the model instead of the provider default.
func WithModel(model string) Option {
	return func(r *Reviewer) { r.model = model }
}

// WithLimits sets the per-file and total byte budgets for file content.
func WithLimits(perFile, total int) Option {
	return func(r *Reviewer) {
		if perFile > 0 {
			r.maxFileBytes = perFile
		}
		if total > 0 {
			r.maxTotal = total
		}
	}
}

// New creates a Reviewer.
func New(provider llm.Provider, opts ...Option) *Reviewer {
	r := &Reviewer{
		provider:     provider,
		logger:       zerolog.Nop(),
		maxTokens:    DefaultMaxTokens,
		maxFileBytes: DefaultMaxFileBytes,
		maxTotal:     DefaultMaxTotal,
	}
	for _, o := range opts {
		o(r)
	}
	if r.prompts == nil {
		r.prompts = prompts.Default()
	}
	r.logger = r.logger.With().Str("component", "reviewer").Logger()
	return r
}

type response struct {
	Passed       *bool    `json:"passed"`
	Issues       []Issue  `json:"issues"`
	Summary      string   `json:"summary"`
	Improvements []string `json:"improvements"`
}

// Review critiques files. It never returns an error.
func (r *Reviewer) Review(ctx context.Context, files []schema.GeneratedFile, platform schema.Platform) Result {
	if r.provider == nil || len(files) == 0 {
		return Unavailable()
	}
	res, err := r.provider.Chat(ctx, llm.ChatOptions{
		Model:       r.model,
		System:      r.prompts.ReviewerSystem(platform),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: r.render(files)}},
		Temperature: llm.Temp(llm.ReviewTemperature),
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("review request failed")
		return Unavailable()
	}

	var resp response
	if _, err := extract.Into(res.Content, &resp); err != nil {
		r.logger.Warn().Err(err).Int("length", len(res.Content)).Msg("unparseable review response")
		return Unavailable()
	}

	issues := make([]Issue, 0, len(resp.Issues))
	for _, is := range resp.Issues {
		is.Severity = Severity(strings.ToLower(string(is.Severity)))
		if strings.TrimSpace(is.Message) == "" {
			continue
		}
		issues = append(issues, is)
	}
	out := Result{
		Score:        Score(issues),
		Issues:       issues,
		Summary:      resp.Summary,
		Improvements: resp.Improvements,
	}
	if resp.Passed != nil {
		out.Passed = *resp.Passed
	} else {
		out.Passed = out.Score >= PassScore
	}
	if out.Summary == "" {
		out.Summary = fmt.Sprintf("Found %d issue(s).", len(issues))
	}
	r.logger.Debug().Int("score", out.Score).Bool("passed", out.Passed).Int("issues", len(issues)).Msg("review complete")
	return out
}

// render lists the files for the model, truncating each file and stopping
// once the total budget is spent.
func (r *Reviewer) render(files []schema.GeneratedFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review these %d generated files.\n", len(files))
	budget := r.maxTotal
	omitted := 0
	for _, f := range files {
		if budget <= 0 {
			omitted++
			continue
		}
		content := f.Content
		if len(content) > r.maxFileBytes {
			content = content[:r.maxFileBytes] + "\n...(truncated)"
		}
		if len(content) > budget {
			content = content[:budget] + "\n...(truncated)"
		}
		budget -= len(content)
		fmt.Fprintf(&b, "\n// path: %s\n```%s\n%s\n```\n", f.Path, f.Language, content)
	}
	if omitted > 0 {
		fmt.Fprintf(&b, "\n%d more file(s) omitted for length.\n", omitted)
	}
	return b.String()
}
