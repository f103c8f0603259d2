// Package orchestrator drives one generation session: it picks the entry
// stage, plans, validates, generates and reviews, and reports every step
// as an ordered stream of events.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/p-blackswan/appforge/internal/cache"
	"github.com/p-blackswan/appforge/internal/codegen"
	"github.com/p-blackswan/appforge/internal/controller"
	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/events"
	"github.com/p-blackswan/appforge/internal/incremental"
	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/persist"
	"github.com/p-blackswan/appforge/internal/prompts"
	"github.com/p-blackswan/appforge/internal/requestid"
	"github.com/p-blackswan/appforge/internal/reviewer"
	"github.com/p-blackswan/appforge/internal/schema"
	"github.com/p-blackswan/appforge/internal/telemetry"
)

// SchemaPath is where the accepted schema is stored next to the project files.
const SchemaPath = ".appforge/schema.json"

// Planner turns a prompt into a schema.
type Planner interface {
	StreamPlan(ctx context.Context, req controller.PlanRequest) <-chan controller.PlanEvent
}

// Generator turns a schema into files.
type Generator interface {
	Generate(ctx context.Context, req codegen.Request) (*codegen.Result, error)
	StreamGenerate(ctx context.Context, req codegen.Request) <-chan codegen.Event
}

// Reviewer critiques generated files. It never fails.
type Reviewer interface {
	Review(ctx context.Context, files []schema.GeneratedFile, platform schema.Platform) reviewer.Result
}

// Observer receives session metrics.
type Observer interface {
	GenerationStarted()
	GenerationFinished()
	RecordGeneration(mode, status string)
	ObserveStage(stage string, d time.Duration)
	RecordError(module, errType string)
}

type nopObserver struct{}

func (nopObserver) GenerationStarted()                 {}
func (nopObserver) GenerationFinished()                {}
func (nopObserver) RecordGeneration(string, string)    {}
func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) RecordError(string, string)         {}

// Request is one generation session.
type Request struct {
	ProjectID string
	Prompt    string
	// Platform is fixed for the whole session. When empty the existing
	// schema's platform is used.
	Platform schema.Platform
	Mode     Mode
	// Schema and Files describe the project as it stands. Both present
	// switches template generation to the incremental path.
	Schema  *schema.AppSchema
	Files   []schema.GeneratedFile
	History []llm.Message
	// Review overrides the orchestrator default when set.
	Review *bool
	UseLLM bool
}

// Orchestrator runs generation sessions. It is safe for concurrent use.
type Orchestrator struct {
	planner   Planner
	generator Generator
	reviewer  Reviewer
	cache     *cache.Cache
	store     persist.Store
	prompts   *prompts.Config
	observer  Observer
	logger    zerolog.Logger
	review    bool
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReviewer enables the review stage.
func WithReviewer(r Reviewer) Option {
	return func(o *Orchestrator) { o.reviewer = r }
}

// WithReviewDefault sets whether sessions are reviewed when the request
// does not say.
func WithReviewDefault(enabled bool) Option {
	return func(o *Orchestrator) { o.review = enabled }
}

// WithCache memoizes planning and template generation.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithStore persists results. Store failures never fail a session.
func WithStore(s persist.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithPrompts overrides the embedded prompt rules.
func WithPrompts(p *prompts.Config) Option {
	return func(o *Orchestrator) { o.prompts = p }
}

// WithObserver installs a metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(planner Planner, generator Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:   planner,
		generator: generator,
		logger:    zerolog.Nop(),
		observer:  nopObserver{},
		review:    true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.prompts == nil {
		o.prompts = prompts.Default()
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Logger()
	failures, _ := o.observer.(persist.FailureObserver)
	o.store = persist.NewBestEffort(o.store, o.logger, failures)
	return o
}

// Run starts a session. The channel carries the events in pipeline order
// and always ends with a complete event, after an error event on failure.
// It is closed when the session ends. Once ctx is done nothing more is
// sent.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan events.Event {
	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		o.observer.GenerationStarted()
		defer o.observer.GenerationFinished()

		s := &session{
			o:        o,
			req:      req,
			ctx:      ctx,
			out:      out,
			logger:   requestid.Logger(ctx, o.logger).With().Str("project_id", req.ProjectID).Logger(),
			state:    StateIdle,
			mode:     req.Mode,
			platform: req.Platform,
			start:    o.now(),
		}
		if s.platform == "" {
			s.platform = req.Schema.Platform()
		}
		s.run()
	}()
	return out
}

// session is the state of one Run.
type session struct {
	o        *Orchestrator
	req      Request
	ctx      context.Context
	out      chan<- events.Event
	logger   zerolog.Logger
	state    State
	mode     Mode
	platform schema.Platform
	start    time.Time
}

// generation is the outcome of the generating stage.
type generation struct {
	files        []schema.GeneratedFile
	written      []string
	deleted      []string
	dependencies map[string]string
}

func (s *session) send(e events.Event) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.out <- e:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// advance moves the state machine and announces the new state.
func (s *session) advance(to State, message string) bool {
	if !CanTransition(s.state, to) {
		s.logger.Error().Str("from", string(s.state)).Str("to", string(to)).Msg("illegal state transition")
	}
	s.logger.Debug().Str("from", string(s.state)).Str("to", string(to)).Msg("state transition")
	s.state = to
	return s.send(events.Planning{Phase: string(to), Message: message})
}

// stage opens a span and a timer for one pipeline stage.
func (s *session) stage(name string) (context.Context, func(error)) {
	started := s.o.now()
	ctx, end := telemetry.StartStage(s.ctx, name, attribute.String("appforge.platform", string(s.platform)))
	return ctx, func(err error) {
		s.o.observer.ObserveStage(name, s.o.now().Sub(started))
		end(err)
	}
}

func (s *session) elapsed() int64 {
	return s.o.now().Sub(s.start).Milliseconds()
}

func (s *session) run() {
	ctx, end := telemetry.StartStage(s.ctx, "session",
		attribute.String("appforge.project", s.req.ProjectID),
		attribute.String("appforge.platform", string(s.platform)))
	s.ctx = ctx
	var runErr error
	defer func() { end(runErr) }()

	if s.req.Prompt != "" {
		s.o.store.AppendMessage(s.ctx, s.req.ProjectID, llm.RoleUser, s.req.Prompt)
	}

	if !s.advance(StateDetermining, "Understanding your request") {
		return
	}
	messages := append(slices.Clone(s.req.History), llm.Message{Role: llm.RoleUser, Content: s.req.Prompt})
	s.mode = DetermineMode(messages, s.req.Schema, s.req.Mode)
	if s.mode == ModeCodeGen && !schema.IsComplete(s.req.Schema) {
		s.logger.Info().Strs("missing", schema.Missing(s.req.Schema)).Msg("no complete schema to generate from, planning first")
		s.mode = ModeController
	}
	s.logger.Info().Str("mode", string(s.mode)).Str("platform", string(s.platform)).Msg("generation started")

	var plan *controller.PlanResult
	target := s.req.Schema
	if s.mode == ModeController {
		if !s.advance(StatePlanning, "Planning your app") {
			return
		}
		var err error
		plan, err = s.plan()
		if err != nil {
			runErr = err
			s.fail(err)
			return
		}
		target = plan.Schema
	}
	target = s.pin(target)
	if s.mode == ModeController {
		if !s.send(events.Schema{Schema: target, Complete: schema.IsComplete(target)}) {
			return
		}
	}

	if !s.advance(StateValidating, "Checking the app structure") {
		return
	}
	validation := schema.Validate(target)
	s.logger.Debug().Int("score", validation.Score).Int("errors", len(validation.Errors)).
		Int("warnings", len(validation.Warnings)).Msg("schema validated")

	if !s.advance(StateTransition, "Getting ready to build") {
		return
	}
	if !schema.IsComplete(target) {
		s.incomplete(target, plan)
		return
	}
	if !validation.Valid {
		first := validation.Errors[0]
		runErr = &perrors.CodeGenError{
			Message: fmt.Sprintf("schema is invalid: %s: %s", first.Field, first.Message),
			Code:    "invalid_schema",
			Err:     perrors.ErrInvalidInput,
		}
		s.fail(runErr)
		return
	}

	if !s.advance(StateGenerating, "Generating your app") {
		return
	}
	gen, err := s.generate(target)
	if err != nil {
		runErr = err
		s.fail(err)
		return
	}
	s.persistSchema(target)

	var review *reviewer.Result
	if s.reviewEnabled() {
		if !s.advance(StateReviewing, "Reviewing the generated code") {
			return
		}
		ctx, end := s.stage("review")
		r := s.o.reviewer.Review(ctx, gen.files, s.platform)
		end(nil)
		review = &r
	}

	s.state = StateComplete
	summary := fmt.Sprintf("Generated %d files for %s.", len(gen.written), appName(target))
	if len(gen.deleted) > 0 {
		summary = fmt.Sprintf("Updated %d files and removed %d for %s.", len(gen.written), len(gen.deleted), appName(target))
	}
	s.o.store.AppendMessage(s.ctx, s.req.ProjectID, llm.RoleAssistant, summary)
	s.record(persist.StatusSuccess, summary, gen.written)
	s.logger.Info().Int("files", len(gen.files)).Int("written", len(gen.written)).Int("deleted", len(gen.deleted)).
		Int64("duration_ms", s.elapsed()).Msg("generation complete")

	complete := events.Complete{
		Schema:       target,
		Files:        gen.files,
		Dependencies: gen.dependencies,
		Review:       review,
		Duration:     s.elapsed(),
	}
	if plan != nil {
		complete.Reasoning = plan.Reasoning
		complete.Suggestions = plan.Suggestions
	}
	s.send(complete)
}

// pin returns a private copy of sch carrying the session platform.
func (s *session) pin(sch *schema.AppSchema) *schema.AppSchema {
	out := sch.Clone()
	if out == nil {
		out = &schema.AppSchema{}
	}
	if s.platform == "" {
		s.platform = out.Platform()
	}
	if s.platform != "" {
		if out.Meta == nil {
			out.Meta = &schema.Meta{}
		}
		out.Meta.Platform = s.platform
	}
	return out
}

func (s *session) reviewEnabled() bool {
	if s.o.reviewer == nil {
		return false
	}
	if s.req.Review != nil {
		return *s.req.Review
	}
	return s.o.review
}

// plan runs the planner through the schema cache. Sessions with chat
// history are never cached because the fingerprint does not cover it.
func (s *session) plan() (*controller.PlanResult, error) {
	ctx, end := s.stage("planning")
	preq := controller.PlanRequest{
		Prompt:   s.req.Prompt,
		Platform: s.platform,
		Existing: s.req.Schema,
		History:  s.req.History,
	}
	compute := func(ctx context.Context) (*controller.PlanResult, error) {
		for ev := range s.o.planner.StreamPlan(ctx, preq) {
			switch ev.Type {
			case controller.PlanPlanning:
				if !s.send(events.Planning{Phase: string(StatePlanning), Message: ev.Message}) {
					return nil, context.Canceled
				}
			case controller.PlanComplete:
				if ev.Result == nil || ev.Result.Schema == nil {
					return nil, perrors.NewPlanningError("planning returned no schema", perrors.ErrEmptyResponse)
				}
				return ev.Result, nil
			case controller.PlanError:
				return nil, ev.Err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, perrors.NewPlanningError("planning ended without a result", perrors.ErrEmptyResponse)
	}

	c := s.o.cache
	if len(s.req.History) > 0 {
		c = nil
	}
	key := "plan:" + cache.Fingerprint(s.req.Prompt, s.platform, s.req.Schema)
	res, cached, err := cache.WithSchemaCache(ctx, c, key, compute)
	end(err)
	if err != nil {
		return nil, err
	}
	if cached {
		s.logger.Debug().Msg("reusing cached plan")
		if !s.send(events.Planning{Phase: string(StatePlanning), Message: "Reusing a recent plan"}) {
			return nil, context.Canceled
		}
	}
	return res, nil
}

// generate picks the incremental, template or model path.
func (s *session) generate(target *schema.AppSchema) (*generation, error) {
	ctx, end := s.stage("codegen")
	var (
		gen *generation
		err error
	)
	switch {
	case s.req.UseLLM:
		gen, err = s.generateLLM(ctx, target)
	case s.req.Schema != nil && len(s.req.Files) > 0:
		gen, err = s.generateIncremental(target)
	default:
		gen, err = s.generateTemplates(ctx, target)
	}
	end(err)
	return gen, err
}

func (s *session) generateTemplates(ctx context.Context, target *schema.AppSchema) (*generation, error) {
	key := "files:" + cache.Fingerprint("", s.platform, target)
	entry, cached, err := cache.WithSchemaCache(ctx, s.o.cache, key, func(ctx context.Context) (cache.Entry, error) {
		res, err := s.o.generator.Generate(ctx, codegen.Request{Schema: target, Platform: s.platform})
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.Entry{
			Kind:         cache.KindFiles,
			Files:        res.Files,
			Dependencies: res.Dependencies,
			Scripts:      res.Scripts,
			CreatedAt:    s.o.now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	message := "Generating project from templates"
	if cached {
		message = "Reusing a recent build of this app"
	}
	total := len(entry.Files)
	if !s.send(events.Generating{Message: message, Total: total}) {
		return nil, context.Canceled
	}
	gen := &generation{files: entry.Files, dependencies: entry.Dependencies}
	for i, f := range entry.Files {
		if !s.emitFile(f, i+1, total) {
			return nil, context.Canceled
		}
		gen.written = append(gen.written, f.Path)
	}
	return gen, nil
}

func (s *session) generateIncremental(target *schema.AppSchema) (*generation, error) {
	res, err := incremental.Apply(s.req.Schema, target, s.req.Files)
	if err != nil {
		return nil, perrors.NewCodeGenError("incremental generation failed", err)
	}
	s.logger.Debug().Strs("changed", res.Diff.ChangedKeys()).Int("regenerate", len(res.Regenerated)).
		Int("keep", len(res.Plan.FilesToKeep)).Int("delete", len(res.Deleted)).Msg("incremental plan")

	total := len(res.Regenerated)
	message := fmt.Sprintf("Updating %d of %d files", total, len(res.Files))
	if !s.send(events.Generating{Message: message, Total: total}) {
		return nil, context.Canceled
	}
	byPath := make(map[string]schema.GeneratedFile, len(res.Files))
	for _, f := range res.Files {
		byPath[f.Path] = f
	}
	gen := &generation{files: res.Files, deleted: res.Deleted}
	gen.dependencies, _ = codegen.Manifest(res.Files)
	for i, p := range res.Regenerated {
		if !s.emitFile(byPath[p], i+1, total) {
			return nil, context.Canceled
		}
		gen.written = append(gen.written, p)
	}
	for _, p := range res.Deleted {
		if !s.send(events.Actions{Actions: []events.Action{{Type: events.ActionDelete, Path: p}}}) {
			return nil, context.Canceled
		}
		s.o.store.DeleteFile(s.ctx, s.req.ProjectID, p)
	}
	return gen, nil
}

func (s *session) generateLLM(ctx context.Context, target *schema.AppSchema) (*generation, error) {
	stream := s.o.generator.StreamGenerate(ctx, codegen.Request{
		Schema:        target,
		Platform:      s.platform,
		ExistingFiles: s.req.Files,
		UseLLM:        true,
	})
	gen := &generation{}
	for ev := range stream {
		switch ev.Type {
		case codegen.EventGenerating:
			if !s.send(events.Generating{Message: ev.Message, Progress: ev.Progress, Total: ev.Total}) {
				return nil, context.Canceled
			}
		case codegen.EventFile:
			if ev.File == nil {
				continue
			}
			if !s.emitFile(*ev.File, ev.Progress, ev.Total) {
				return nil, context.Canceled
			}
			gen.written = append(gen.written, ev.File.Path)
		case codegen.EventComplete:
			if ev.Result != nil {
				gen.files = ev.Result.Files
				gen.dependencies = ev.Result.Dependencies
			}
			return gen, nil
		case codegen.EventError:
			return nil, ev.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, perrors.NewCodeGenError("code generation ended without a result", perrors.ErrEmptyResponse)
}

// emitFile sends a file event and its action, then persists the file.
func (s *session) emitFile(f schema.GeneratedFile, progress, total int) bool {
	if !s.send(events.FileEvent(f)) {
		return false
	}
	if !s.send(events.Actions{Actions: []events.Action{{Type: events.ActionCreateOrUpdate, Path: f.Path, Content: f.Content}}}) {
		return false
	}
	s.o.store.UpsertFile(s.ctx, s.req.ProjectID, f.Path, f.Content, f.Language)
	s.logger.Debug().Str("path", f.Path).Int("progress", progress).Int("total", total).Msg("file emitted")
	return true
}

func (s *session) persistSchema(target *schema.AppSchema) {
	data, err := json.MarshalIndent(target, "", "  ")
	if err != nil {
		s.logger.Warn().Err(err).Msg("schema not encodable, not persisted")
		return
	}
	s.o.store.UpsertFile(s.ctx, s.req.ProjectID, SchemaPath, string(data), "json")
}

// incomplete ends a session whose plan cannot be built yet.
func (s *session) incomplete(target *schema.AppSchema, plan *controller.PlanResult) {
	missing := schema.Missing(target)
	message := s.o.prompts.ClarifyMessage(missing)
	s.logger.Info().Strs("missing", missing).Msg("schema incomplete, asking for details")

	s.state = StateComplete
	s.o.store.AppendMessage(s.ctx, s.req.ProjectID, llm.RoleAssistant, message)
	s.record(persist.StatusIncomplete, message, nil)

	if !s.send(events.Content{Content: message}) {
		return
	}
	complete := events.Complete{Schema: target, Incomplete: true, Duration: s.elapsed()}
	if plan != nil {
		complete.Reasoning = plan.Reasoning
		complete.Suggestions = plan.Suggestions
	}
	s.send(complete)
}

// fail reports err and ends the session.
func (s *session) fail(err error) {
	failed := s.state
	s.logger.Error().Err(err).Str("state", string(failed)).Msg("generation failed")
	s.o.observer.RecordError("orchestrator", string(failed))
	s.state = StateError
	s.record(persist.StatusError, perrors.UserMessage(err), nil)

	if s.send(events.NewError(err)) {
		s.send(events.Complete{Duration: s.elapsed()})
	}
}

func (s *session) record(status, output string, files []string) {
	mode := string(s.mode)
	if mode == "" {
		mode = string(ModeAuto)
	}
	s.o.observer.RecordGeneration(mode, status)
	s.o.store.AppendGenerationHistory(s.ctx, persist.HistoryRecord{
		ProjectID:      s.req.ProjectID,
		Mode:           mode,
		InputPrompt:    s.req.Prompt,
		Output:         output,
		FilesGenerated: files,
		Status:         status,
		DurationMS:     s.elapsed(),
		CreatedAt:      s.o.now().UTC(),
	})
}

func appName(s *schema.AppSchema) string {
	if s != nil && s.Meta != nil && s.Meta.Name != "" {
		return s.Meta.Name
	}
	return "your app"
}
