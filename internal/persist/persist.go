// Package persist defines how generation results reach the project store.
//
// Persistence is best effort: the pipeline never fails because a write
// failed. Implementations report errors; BestEffort logs and drops them.
package persist

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Generation history statuses.
const (
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusIncomplete = "incomplete"
)

// HistoryRecord is one finished generation run.
type HistoryRecord struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"projectId"`
	Mode           string    `json:"mode"`
	InputPrompt    string    `json:"inputPrompt"`
	Output         string    `json:"output"`
	FilesGenerated []string  `json:"filesGenerated"`
	Status         string    `json:"status"`
	DurationMS     int64     `json:"durationMs"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store is the project store contract. File writes upsert by
// (projectID, path); the last write wins.
type Store interface {
	UpsertFile(ctx context.Context, projectID, path, content, language string) error
	DeleteFile(ctx context.Context, projectID, path string) error
	AppendMessage(ctx context.Context, projectID, role, content string) error
	AppendGenerationHistory(ctx context.Context, rec HistoryRecord) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) UpsertFile(context.Context, string, string, string, string) error { return nil }
func (Nop) DeleteFile(context.Context, string, string) error                 { return nil }
func (Nop) AppendMessage(context.Context, string, string, string) error      { return nil }
func (Nop) AppendGenerationHistory(context.Context, HistoryRecord) error     { return nil }

// FailureObserver is told about every swallowed error.
type FailureObserver interface {
	PersistFailure(op string)
}

// BestEffort wraps a Store so that no call ever returns an error. Failures
// are logged with the project id and operation.
type BestEffort struct {
	inner    Store
	logger   zerolog.Logger
	observer FailureObserver
}

// NewBestEffort wraps inner. A nil inner behaves like Nop.
func NewBestEffort(inner Store, logger zerolog.Logger, observer FailureObserver) *BestEffort {
	if inner == nil {
		inner = Nop{}
	}
	return &BestEffort{
		inner:    inner,
		logger:   logger.With().Str("component", "persist").Logger(),
		observer: observer,
	}
}

func (b *BestEffort) report(op, projectID string, err error) {
	if err == nil {
		return
	}
	b.logger.Warn().Err(err).Str("op", op).Str("project_id", projectID).Msg("persistence failed, continuing")
	if b.observer != nil {
		b.observer.PersistFailure(op)
	}
}

func (b *BestEffort) UpsertFile(ctx context.Context, projectID, path, content, language string) error {
	b.report("upsert_file", projectID, b.inner.UpsertFile(ctx, projectID, path, content, language))
	return nil
}

func (b *BestEffort) DeleteFile(ctx context.Context, projectID, path string) error {
	b.report("delete_file", projectID, b.inner.DeleteFile(ctx, projectID, path))
	return nil
}

func (b *BestEffort) AppendMessage(ctx context.Context, projectID, role, content string) error {
	b.report("append_message", projectID, b.inner.AppendMessage(ctx, projectID, role, content))
	return nil
}

func (b *BestEffort) AppendGenerationHistory(ctx context.Context, rec HistoryRecord) error {
	b.report("append_history", rec.ProjectID, b.inner.AppendGenerationHistory(ctx, rec))
	return nil
}

// Message is a stored chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// File is a stored project file.
type File struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

// Memory is an in-process Store. It is used in tests and when no database
// is configured but callers still want to read back results.
type Memory struct {
	mu       sync.Mutex
	files    map[string]map[string]File
	messages map[string][]Message
	history  []HistoryRecord
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		files:    make(map[string]map[string]File),
		messages: make(map[string][]Message),
	}
}

func (m *Memory) UpsertFile(_ context.Context, projectID, path, content, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[projectID] == nil {
		m.files[projectID] = make(map[string]File)
	}
	m.files[projectID][path] = File{Path: path, Content: content, Language: language}
	return nil
}

func (m *Memory) DeleteFile(_ context.Context, projectID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files[projectID], path)
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, projectID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[projectID] = append(m.messages[projectID], Message{Role: role, Content: content})
	return nil
}

func (m *Memory) AppendGenerationHistory(_ context.Context, rec HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.FilesGenerated = slices.Clone(rec.FilesGenerated)
	m.history = append(m.history, rec)
	return nil
}

// Files returns the stored files of a project sorted by path.
func (m *Memory) Files(_ context.Context, projectID string) ([]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]File, 0, len(m.files[projectID]))
	for _, f := range m.files[projectID] {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b File) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// Messages returns the stored chat of a project.
func (m *Memory) Messages(projectID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages[projectID])
}

// History returns every recorded generation.
func (m *Memory) History() []HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}
