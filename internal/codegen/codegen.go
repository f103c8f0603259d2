// Package codegen turns a validated schema into project files, either with
// the deterministic template generators or by asking the model.
package codegen

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/extract"
	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/prompts"
	"github.com/p-blackswan/appforge/internal/schema"
	"github.com/p-blackswan/appforge/internal/templates"
)

const (
	// DefaultMaxTokens bounds an LLM code generation response.
	DefaultMaxTokens = 32000
	maxLoggedRaw     = 2000
	// progressEvery is how many streamed bytes pass between progress events.
	progressEvery = 4096
	// maxExistingContext caps the existing file content sent in update mode.
	maxExistingContext = 60000
)

// Request is the input to Generate and StreamGenerate.
type Request struct {
	Schema *schema.AppSchema
	// Platform overrides meta.platform when set.
	Platform      schema.Platform
	ExistingFiles []schema.GeneratedFile
	UseLLM        bool
}

// Result is a generated project.
type Result struct {
	Files        []schema.GeneratedFile `json:"files"`
	Dependencies map[string]string      `json:"dependencies,omitempty"`
	Scripts      map[string]string      `json:"scripts,omitempty"`
}

// EventType tags an Event.
type EventType string

const (
	EventGenerating EventType = "generating"
	EventFile       EventType = "file"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Event is emitted by StreamGenerate.
type Event struct {
	Type     EventType
	Message  string
	Progress int
	Total    int
	File     *schema.GeneratedFile
	Result   *Result
	Err      error
}

// Generator produces project files.
type Generator struct {
	provider  llm.Provider
	prompts   *prompts.Config
	logger    zerolog.Logger
	model     string
	maxTokens int
}

// Option configures a Generator.
type Option func(*Generator)

// WithPrompts overrides the embedded prompt rules.
func WithPrompts(p *prompts.Config) Option {
	return func(g *Generator) { g.prompts = p }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithModel pins the model instead of the provider default.
func WithModel(model string) Option {
	return func(g *Generator) { g.model = model }
}

// WithMaxTokens sets the response token limit.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// New creates a Generator. provider may be nil when only the template path
// is used.
func New(provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		provider:  provider,
		logger:    zerolog.Nop(),
		maxTokens: DefaultMaxTokens,
	}
	for _, o := range opts {
		o(g)
	}
	if g.prompts == nil {
		g.prompts = prompts.Default()
	}
	g.logger = g.logger.With().Str("component", "codegen").Logger()
	return g
}

// prepare returns a private copy of the schema with the platform pinned, or
// an error when the schema cannot be generated from.
func (g *Generator) prepare(req Request) (*schema.AppSchema, error) {
	if req.Schema == nil {
		return nil, &perrors.CodeGenError{Message: "no schema to generate from", Code: "invalid_input", Err: perrors.ErrInvalidInput}
	}
	s := req.Schema.Clone()
	if s.Meta == nil {
		s.Meta = &schema.Meta{}
	}
	if req.Platform != "" {
		s.Meta.Platform = req.Platform
	}
	if res := schema.Validate(s); !res.Valid {
		first := res.Errors[0]
		return nil, &perrors.CodeGenError{
			Message: fmt.Sprintf("schema is invalid: %s: %s", first.Field, first.Message),
			Code:    "invalid_schema",
			Err:     perrors.ErrInvalidInput,
		}
	}
	if req.UseLLM && g.provider == nil {
		return nil, &perrors.CodeGenError{Message: "no model configured for LLM generation", Code: "no_provider", Err: perrors.ErrInvalidInput}
	}
	return s, nil
}

// Generate produces the project in one call.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	s, err := g.prepare(req)
	if err != nil {
		return nil, err
	}
	if !req.UseLLM {
		return g.fromTemplates(s)
	}
	res, err := g.provider.Chat(ctx, g.options(s, req.ExistingFiles))
	if err != nil {
		g.logger.Error().Err(err).Msg("code generation request failed")
		return nil, perrors.NewCodeGenError("the model request failed", err)
	}
	return g.parse(res.Content)
}

// StreamGenerate produces the project and reports each file as an event, in
// generation order, followed by complete. Failures end the stream with a
// single error event. The channel is closed when generation ends or ctx is
// done.
func (g *Generator) StreamGenerate(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			send(Event{Type: EventError, Message: perrors.UserMessage(err), Err: err})
		}

		s, err := g.prepare(req)
		if err != nil {
			fail(err)
			return
		}

		var result *Result
		if req.UseLLM {
			if !send(Event{Type: EventGenerating, Message: "Writing code with AI"}) {
				return
			}
			result, err = g.streamLLM(ctx, s, req.ExistingFiles, send)
		} else {
			if !send(Event{Type: EventGenerating, Message: "Generating project from templates"}) {
				return
			}
			result, err = g.fromTemplates(s)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			fail(err)
			return
		}

		total := len(result.Files)
		for i := range result.Files {
			f := result.Files[i]
			if !send(Event{Type: EventFile, File: &f, Progress: i + 1, Total: total}) {
				return
			}
		}
		send(Event{Type: EventComplete, Result: result, Total: total})
	}()
	return out
}

func (g *Generator) streamLLM(ctx context.Context, s *schema.AppSchema, existing []schema.GeneratedFile, send func(Event) bool) (*Result, error) {
	stream, err := g.provider.StreamChat(ctx, g.options(s, existing))
	if err != nil {
		g.logger.Error().Err(err).Msg("code generation stream failed to open")
		return nil, perrors.NewCodeGenError("the model request failed", err)
	}
	var b strings.Builder
	next := progressEvery
	for chunk := range stream {
		switch chunk.Type {
		case llm.ChunkContent:
			b.WriteString(chunk.Content)
			if b.Len() >= next {
				next = b.Len() + progressEvery
				if !send(Event{Type: EventGenerating, Message: fmt.Sprintf("Writing code (%d KB)", b.Len()/1024)}) {
					return nil, ctx.Err()
				}
			}
		case llm.ChunkError:
			g.logger.Error().Err(chunk.Err).Int("received", b.Len()).Msg("code generation stream failed")
			return nil, perrors.NewCodeGenError("the model stream failed", chunk.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.parse(b.String())
}

func (g *Generator) fromTemplates(s *schema.AppSchema) (*Result, error) {
	files, err := templates.Generate(s)
	if err != nil {
		g.logger.Error().Err(err).Str("platform", string(s.Platform())).Msg("template generation failed")
		return nil, perrors.NewCodeGenError("template generation failed", err)
	}
	res := &Result{Files: files}
	res.Dependencies, res.Scripts = Manifest(files)
	g.logger.Debug().Int("files", len(files)).Str("platform", string(s.Platform())).Msg("generated from templates")
	return res, nil
}

// Manifest reads dependencies and scripts back out of a generated
// package.json so both generation paths report them the same way.
func Manifest(files []schema.GeneratedFile) (deps, scripts map[string]string) {
	for _, f := range files {
		if f.Path != "package.json" {
			continue
		}
		var pkg struct {
			Dependencies    map[string]string `json:"dependencies"`
			DevDependencies map[string]string `json:"devDependencies"`
			Scripts         map[string]string `json:"scripts"`
		}
		if err := json.Unmarshal([]byte(f.Content), &pkg); err != nil {
			return nil, nil
		}
		deps = make(map[string]string, len(pkg.Dependencies)+len(pkg.DevDependencies))
		for k, v := range pkg.Dependencies {
			deps[k] = v
		}
		for k, v := range pkg.DevDependencies {
			deps[k] = v
		}
		return deps, pkg.Scripts
	}
	return nil, nil
}

func (g *Generator) options(s *schema.AppSchema, existing []schema.GeneratedFile) llm.ChatOptions {
	data, _ := json.MarshalIndent(s, "", "  ")
	var b strings.Builder
	fmt.Fprintf(&b, "Generate the complete %s project for this app schema.\n\n```json\n%s\n```\n", s.Platform(), data)
	if len(existing) > 0 {
		b.WriteString("\nCurrent project files:\n")
		budget := maxExistingContext
		for _, f := range existing {
			if budget <= 0 {
				fmt.Fprintf(&b, "- %s (content omitted)\n", f.Path)
				continue
			}
			content := f.Content
			if len(content) > budget {
				content = content[:budget] + "\n...(truncated)"
			}
			budget -= len(content)
			fmt.Fprintf(&b, "\n// path: %s\n```\n%s\n```\n", f.Path, content)
		}
	}
	return llm.ChatOptions{
		Model:       g.model,
		System:      g.prompts.CodeGenSystem(s.Platform(), len(existing) > 0),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Temperature: llm.Temp(llm.DefaultTemperature),
		MaxTokens:   g.maxTokens,
	}
}

// response is the model's JSON shape.
type response struct {
	Files []struct {
		Path     string `json:"path"`
		Content  string `json:"content"`
		Language string `json:"language"`
	} `json:"files"`
	Dependencies looseMap `json:"dependencies"`
	Scripts      looseMap `json:"scripts"`
}

// parse recovers files from model output: the JSON shape first, then fenced
// blocks headed by a path comment. Duplicate paths keep the position of the
// first occurrence and the content of the last.
func (g *Generator) parse(content string) (*Result, error) {
	var resp response
	tier, err := extract.Into(content, &resp)
	res := &Result{}
	if err == nil && len(resp.Files) > 0 {
		for _, f := range resp.Files {
			res.Files = append(res.Files, schema.GeneratedFile{Path: f.Path, Content: f.Content, Language: f.Language})
		}
		res.Dependencies = resp.Dependencies
		res.Scripts = resp.Scripts
	} else {
		for _, f := range extract.Files(content) {
			res.Files = append(res.Files, schema.GeneratedFile{Path: f.Path, Content: f.Content, Language: f.Language})
		}
		tier = extract.TierNone
	}

	res.Files = collapse(res.Files)
	if len(res.Files) == 0 {
		if err == nil {
			err = perrors.ErrUnparseable
		}
		raw := content
		if len(raw) > maxLoggedRaw {
			raw = raw[:maxLoggedRaw] + "...(truncated)"
		}
		g.logger.Warn().Err(err).Str("raw", raw).Msg("no files in code generation response")
		return nil, perrors.NewCodeGenError("the model response did not contain any files", perrors.ErrUnparseable)
	}
	g.logger.Debug().Str("tier", tier.String()).Int("files", len(res.Files)).Msg("code generation parsed")
	return res, nil
}

func collapse(files []schema.GeneratedFile) []schema.GeneratedFile {
	index := make(map[string]int, len(files))
	out := make([]schema.GeneratedFile, 0, len(files))
	for _, f := range files {
		f.Path = cleanPath(f.Path)
		if f.Path == "" {
			continue
		}
		if f.Language == "" {
			f.Language = extract.LanguageFor(f.Path)
		}
		if i, ok := index[f.Path]; ok {
			out[i] = f
			continue
		}
		index[f.Path] = len(out)
		out = append(out, f)
	}
	return out
}

// cleanPath makes model-supplied paths relative to the project root.
func cleanPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// looseMap accepts {"name": "version"}, non-string values, or a bare list
// of names.
type looseMap map[string]string

func (m *looseMap) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		out := make(looseMap, len(list))
		for _, name := range list {
			out[name] = "latest"
		}
		*m = out
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(looseMap, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	*m = out
	return nil
}
