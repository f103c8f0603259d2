package persist

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	p := NewPostgres(db)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	return p, mock
}

func TestPostgres_EnsureSchema(t *testing.T) {
	p, mock := newMock(t)
	for _, table := range []string{"project_files", "project_messages", "generation_history"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, p.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertFile(t *testing.T) {
	p, mock := newMock(t)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO project_files")).
			WithArgs("proj-1", "index.html", "<html></html>", "html", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		require.NoError(t, p.UpsertFile(ctx, "proj-1", "index.html", "<html></html>", "html"))
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO project_files")).
			WillReturnError(errors.New("db error"))
		err := p.UpsertFile(ctx, "proj-1", "index.html", "x", "html")
		assert.ErrorContains(t, err, "index.html")
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteAndMessages(t *testing.T) {
	p, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM project_files WHERE project_id = $1 AND path = $2")).
		WithArgs("proj-1", "about.html").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO project_messages")).
		WithArgs("proj-1", "assistant", "Done.", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, p.DeleteFile(ctx, "proj-1", "about.html"))
	require.NoError(t, p.AppendMessage(ctx, "proj-1", "assistant", "Done."))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendGenerationHistory(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO generation_history")).
		WithArgs(sqlmock.AnyArg(), "proj-1", "controller", "build a blog", "3 files",
			sqlmock.AnyArg(), StatusSuccess, int64(950), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := p.AppendGenerationHistory(context.Background(), HistoryRecord{
		ProjectID:      "proj-1",
		Mode:           "controller",
		InputPrompt:    "build a blog",
		Output:         "3 files",
		FilesGenerated: []string{"index.html", "styles.css", "script.js"},
		Status:         StatusSuccess,
		DurationMS:     950,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Files(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT path, content, language FROM project_files")).
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"path", "content", "language"}).
			AddRow("index.html", "<html></html>", "html").
			AddRow("styles.css", "body{}", "css"))

	files, err := p.Files(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, File{Path: "styles.css", Content: "body{}", Language: "css"}, files[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectPostgres(t *testing.T) {
	_, err := ConnectPostgres(context.Background(), "")
	require.Error(t, err)

	orig := sqlOpen
	t.Cleanup(func() { sqlOpen = orig })

	sqlOpen = func(string, string) (*sql.DB, error) { return nil, errors.New("open failed") }
	_, err = ConnectPostgres(context.Background(), "postgres://localhost/appforge")
	assert.ErrorContains(t, err, "open failed")

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()
	sqlOpen = func(string, string) (*sql.DB, error) { return db, nil }
	p, err := ConnectPostgres(context.Background(), "postgres://localhost/appforge")
	require.NoError(t, err)
	assert.NotNil(t, p.DB)
}

type flakyStore struct {
	Nop
	err error
}

func (f flakyStore) UpsertFile(context.Context, string, string, string, string) error { return f.err }
func (f flakyStore) AppendGenerationHistory(context.Context, HistoryRecord) error     { return f.err }

type opCounter map[string]int

func (o opCounter) PersistFailure(op string) { o[op]++ }

func TestBestEffort_SwallowsErrors(t *testing.T) {
	failures := opCounter{}
	b := NewBestEffort(flakyStore{err: errors.New("disk full")}, zerolog.Nop(), failures)
	ctx := context.Background()

	assert.NoError(t, b.UpsertFile(ctx, "p", "a.txt", "x", "plaintext"))
	assert.NoError(t, b.AppendGenerationHistory(ctx, HistoryRecord{ProjectID: "p"}))
	assert.NoError(t, b.DeleteFile(ctx, "p", "a.txt"))
	assert.Equal(t, opCounter{"upsert_file": 1, "append_history": 1}, failures)

	assert.NoError(t, NewBestEffort(nil, zerolog.Nop(), nil).AppendMessage(ctx, "p", "user", "hi"))
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.UpsertFile(ctx, "p", "b.css", "1", "css"))
	require.NoError(t, m.UpsertFile(ctx, "p", "a.html", "1", "html"))
	require.NoError(t, m.UpsertFile(ctx, "p", "b.css", "2", "css"))
	require.NoError(t, m.DeleteFile(ctx, "p", "missing"))
	require.NoError(t, m.AppendMessage(ctx, "p", "assistant", "hello"))
	require.NoError(t, m.AppendGenerationHistory(ctx, HistoryRecord{ProjectID: "p", Status: StatusSuccess}))

	files, err := m.Files(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []File{
		{Path: "a.html", Content: "1", Language: "html"},
		{Path: "b.css", Content: "2", Language: "css"},
	}, files)
	assert.Equal(t, []Message{{Role: "assistant", Content: "hello"}}, m.Messages("p"))
	assert.Len(t, m.History(), 1)

	require.NoError(t, m.DeleteFile(ctx, "p", "a.html"))
	files, _ = m.Files(ctx, "p")
	assert.Len(t, files, 1)
}
