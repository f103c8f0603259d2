// Package events defines the generation event stream the orchestrator
// produces and the UI consumes.
//
// Event is a closed union: only the types in this package implement it.
// Every event encodes as a flat JSON object whose "type" field names the
// variant, e.g. {"type":"file","path":"index.html",...}.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/reviewer"
	"github.com/p-blackswan/appforge/internal/schema"
)

// Type names an event variant on the wire.
type Type string

const (
	TypePlanning   Type = "planning"
	TypeSchema     Type = "schema"
	TypeGenerating Type = "generating"
	TypeFile       Type = "file"
	TypeActions    Type = "actions"
	TypeContent    Type = "content"
	TypeError      Type = "error"
	TypeComplete   Type = "complete"
)

// Event is one item of a generation stream.
type Event interface {
	Type() Type
	event()
}

// Planning reports a stage transition before the stage does any work.
type Planning struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// Schema carries the planned schema.
type Schema struct {
	Schema   *schema.AppSchema `json:"schema"`
	Complete bool              `json:"complete"`
}

// Generating reports code generation progress.
type Generating struct {
	Message  string `json:"message"`
	Progress int    `json:"progress,omitempty"`
	Total    int    `json:"total,omitempty"`
}

// File carries one generated file.
type File struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

// ActionType is a workspace mutation the UI should apply.
type ActionType string

const (
	ActionCreateOrUpdate ActionType = "create_or_update_file"
	ActionDelete         ActionType = "delete_file"
)

type Action struct {
	Type    ActionType `json:"type"`
	Path    string     `json:"path"`
	Content string     `json:"content,omitempty"`
}

// Actions lists workspace mutations.
type Actions struct {
	Actions []Action `json:"actions"`
}

// Content is assistant prose shown in the chat.
type Content struct {
	Content string `json:"content"`
}

// Error reports a failure. It is always followed by Complete.
type Error struct {
	Message   string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// Complete is the terminal event of every stream. Duration is in
// milliseconds.
type Complete struct {
	Schema       *schema.AppSchema      `json:"schema,omitempty"`
	Files        []schema.GeneratedFile `json:"files,omitempty"`
	Dependencies map[string]string      `json:"dependencies,omitempty"`
	Reasoning    string                 `json:"reasoning,omitempty"`
	Suggestions  []string               `json:"suggestions,omitempty"`
	Review       *reviewer.Result       `json:"review,omitempty"`
	Incomplete   bool                   `json:"incomplete,omitempty"`
	Duration     int64                  `json:"duration"`
}

func (Planning) Type() Type   { return TypePlanning }
func (Schema) Type() Type     { return TypeSchema }
func (Generating) Type() Type { return TypeGenerating }
func (File) Type() Type       { return TypeFile }
func (Actions) Type() Type    { return TypeActions }
func (Content) Type() Type    { return TypeContent }
func (Error) Type() Type      { return TypeError }
func (Complete) Type() Type   { return TypeComplete }

func (Planning) event()   {}
func (Schema) event()     {}
func (Generating) event() {}
func (File) event()       {}
func (Actions) event()    {}
func (Content) event()    {}
func (Error) event()      {}
func (Complete) event()   {}

// NewError converts err into an Error event with a user-facing message.
func NewError(err error) Error {
	return Error{Message: perrors.UserMessage(err), Retryable: perrors.IsTransient(err)}
}

// FileEvent converts a generated file.
func FileEvent(f schema.GeneratedFile) File {
	return File{Path: f.Path, Content: f.Content, Language: f.Language}
}

// Marshal encodes e with its type tag.
func Marshal(e Event) ([]byte, error) {
	if e == nil {
		return nil, errors.New("events: nil event")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", e.Type(), err)
	}
	tag, _ := json.Marshal(string(e.Type()))

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a tagged event.
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("events: decode: %w", err)
	}

	var (
		e   Event
		err error
	)
	switch head.Type {
	case TypePlanning:
		e, err = decode[Planning](data)
	case TypeSchema:
		e, err = decode[Schema](data)
	case TypeGenerating:
		e, err = decode[Generating](data)
	case TypeFile:
		e, err = decode[File](data)
	case TypeActions:
		e, err = decode[Actions](data)
	case TypeContent:
		e, err = decode[Content](data)
	case TypeError:
		e, err = decode[Error](data)
	case TypeComplete:
		e, err = decode[Complete](data)
	default:
		return nil, fmt.Errorf("events: unknown type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("events: decode %s: %w", head.Type, err)
	}
	return e, nil
}

func decode[T Event](data []byte) (Event, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
