package server

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/appforge/internal/codegen"
	"github.com/p-blackswan/appforge/internal/events"
	"github.com/p-blackswan/appforge/internal/incremental"
	"github.com/p-blackswan/appforge/internal/intent"
	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/orchestrator"
	"github.com/p-blackswan/appforge/internal/persist"
	"github.com/p-blackswan/appforge/internal/requestid"
	"github.com/p-blackswan/appforge/internal/schema"
	"github.com/p-blackswan/appforge/internal/templates"
)

// Runner starts generation sessions.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) <-chan events.Event
}

// FileLister lists the stored files of a project.
type FileLister interface {
	Files(ctx context.Context, projectID string) ([]persist.File, error)
}

// Handlers implements the API routes.
type Handlers struct {
	runner Runner
	files  FileLister
	logger zerolog.Logger
}

// NewHandlers creates the route handlers. files may be nil when the
// configured store cannot list files.
func NewHandlers(runner Runner, files FileLister, logger zerolog.Logger) *Handlers {
	return &Handlers{
		runner: runner,
		files:  files,
		logger: logger.With().Str("component", "http_handlers").Logger(),
	}
}

// GenerateRequest is the payload for POST /api/v1/generate.
type GenerateRequest struct {
	ProjectID string                 `json:"projectId"`
	Prompt    string                 `json:"prompt"`
	Platform  schema.Platform        `json:"platform"`
	Mode      string                 `json:"mode,omitempty"`
	Schema    *schema.AppSchema      `json:"schema,omitempty"`
	Files     []schema.GeneratedFile `json:"files,omitempty"`
	History   []llm.Message          `json:"history,omitempty"`
	Review    *bool                  `json:"review,omitempty"`
	UseLLM    bool                   `json:"useLLM,omitempty"`
}

// Generate handles POST /api/v1/generate. The response is a server-sent
// event stream that ends with a complete event.
func (h *Handlers) Generate(c *fiber.Ctx) error {
	var body GenerateRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	body.ProjectID = strings.TrimSpace(body.ProjectID)
	if body.ProjectID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_project_id", "Bad Request",
			"projectId is required")
	}
	if strings.TrimSpace(body.Prompt) == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_prompt", "Bad Request",
			"prompt is required")
	}
	if body.Platform != "" && !body.Platform.Valid() {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_platform", "Bad Request",
			"Unknown platform: "+string(body.Platform))
	}
	if body.Platform == "" && body.Schema.Platform() == "" {
		body.Platform = schema.PlatformWebsite
	}
	mode, err := orchestrator.ParseMode(body.Mode)
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_mode", "Bad Request",
			err.Error())
	}

	// The session outlives the handler, so it must not hang off the
	// request context that fiber recycles.
	ctx, cancel := context.WithCancel(requestid.WithRequestID(context.Background(), requestid.Get(c)))
	stream := h.runner.Run(ctx, orchestrator.Request{
		ProjectID: body.ProjectID,
		Prompt:    body.Prompt,
		Platform:  body.Platform,
		Mode:      mode,
		Schema:    body.Schema,
		Files:     body.Files,
		History:   body.History,
		Review:    body.Review,
		UseLLM:    body.UseLLM,
	})
	logger := requestid.Logger(ctx, h.logger)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		sent := 0
		for e := range stream {
			if err := events.WriteSSE(w, e); err != nil {
				logger.Warn().Err(err).Int("sent", sent).Msg("event stream write failed")
				break
			}
			if err := w.Flush(); err != nil {
				logger.Info().Err(err).Int("sent", sent).Msg("client went away, cancelling generation")
				break
			}
			sent++
		}
		cancel()
		for range stream {
		}
	})
	return nil
}

// IntentRequest is the payload for POST /api/v1/chat/intent.
type IntentRequest struct {
	Message string `json:"message"`
}

// ChatIntent handles POST /api/v1/chat/intent.
func (h *Handlers) ChatIntent(c *fiber.Ctx) error {
	var body IntentRequest
	if err := c.BodyParser(&body); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	return c.JSON(intent.Classify(body.Message))
}

// ValidateSchema handles POST /api/v1/schema/validate. The body is the
// schema itself.
func (h *Handlers) ValidateSchema(c *fiber.Ctx) error {
	s, err := schema.Parse(c.Body())
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_schema_json", "Bad Request",
			"Schema is not valid JSON: "+err.Error())
	}
	return c.JSON(schema.Validate(s))
}

// DiffRequest is the payload for POST /api/v1/schema/diff.
type DiffRequest struct {
	Old   *schema.AppSchema      `json:"old"`
	New   *schema.AppSchema      `json:"new"`
	Files []schema.GeneratedFile `json:"files,omitempty"`
}

// DiffResponse is the answer of POST /api/v1/schema/diff.
type DiffResponse struct {
	Diff incremental.Diff `json:"diff"`
	Plan incremental.Plan `json:"plan"`
}

// DiffSchemas handles POST /api/v1/schema/diff. Without files the plan is
// computed against the template output of the old schema.
func (h *Handlers) DiffSchemas(c *fiber.Ctx) error {
	var body DiffRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if body.Old == nil || body.New == nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_schema", "Bad Request",
			"Both old and new schemas are required")
	}

	files := body.Files
	if len(files) == 0 && schema.IsComplete(body.Old) {
		generated, err := templates.Generate(body.Old)
		if err != nil {
			return problemResponse(c, fiber.StatusUnprocessableEntity,
				"template_failed", "Unprocessable Entity",
				err.Error())
		}
		files = generated
	}

	diff := incremental.DiffSchemas(body.Old, body.New)
	return c.JSON(DiffResponse{Diff: diff, Plan: incremental.GenerateIncremental(diff, files)})
}

// TemplatesResponse is the answer of POST /api/v1/templates/generate.
type TemplatesResponse struct {
	Files        []schema.GeneratedFile `json:"files"`
	Dependencies map[string]string      `json:"dependencies,omitempty"`
	Scripts      map[string]string      `json:"scripts,omitempty"`
}

// GenerateTemplates handles POST /api/v1/templates/generate. The body is a
// complete schema.
func (h *Handlers) GenerateTemplates(c *fiber.Ctx) error {
	s, err := schema.Parse(c.Body())
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_schema_json", "Bad Request",
			"Schema is not valid JSON: "+err.Error())
	}
	if missing := schema.Missing(s); len(missing) > 0 {
		return problemResponse(c, fiber.StatusUnprocessableEntity,
			"incomplete_schema", "Unprocessable Entity",
			"Schema is missing "+strings.Join(missing, ", "))
	}
	if v := schema.Validate(s); !v.Valid {
		return problemResponse(c, fiber.StatusUnprocessableEntity,
			"invalid_schema", "Unprocessable Entity",
			v.Errors[0].Field+": "+v.Errors[0].Message)
	}

	files, err := templates.Generate(s)
	if err != nil {
		return problemResponse(c, fiber.StatusUnprocessableEntity,
			"template_failed", "Unprocessable Entity",
			err.Error())
	}
	deps, scripts := codegen.Manifest(files)
	return c.JSON(TemplatesResponse{Files: files, Dependencies: deps, Scripts: scripts})
}

// ProjectFiles handles GET /api/v1/projects/:id/files.
func (h *Handlers) ProjectFiles(c *fiber.Ctx) error {
	if h.files == nil {
		return problemResponse(c, fiber.StatusNotImplemented,
			"files_unavailable", "Not Implemented",
			"The configured store cannot list project files")
	}
	id := c.Params("id")
	files, err := h.files.Files(c.UserContext(), id)
	if err != nil {
		return err
	}
	if files == nil {
		files = []persist.File{}
	}
	return c.JSON(fiber.Map{"projectId": id, "files": files})
}
