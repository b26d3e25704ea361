package projects

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lumen/pkg/observability"
	"github.com/platinummonkey/lumen/pkg/storage/postgres"
)

const (
	projectID  = "6f1c1f0e-3c5e-4d8a-9a43-2f1d1b0c9e11"
	publicBase = "https://ref.supabase.co/storage/v1/object/public"
)

var projectColumns = []string{"id", "user_id", "input_image_url", "output_image_url", "prompt", "model", "status", "created_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(postgres.FromDB(db)), mock
}

func TestPostgresStore_Create(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now()

	mock.ExpectQuery("INSERT INTO projects").
		WithArgs(sqlmock.AnyArg(), "user-1", "in", "out", "make it blue", "google/nano-banana", "completed").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	project := &ProjectRecord{UserID: "user-1", InputImageURL: "in", OutputImageURL: "out", Prompt: "make it blue", Model: "google/nano-banana"}
	require.NoError(t, store.Create(context.Background(), project))

	assert.Len(t, project.ID, 36)
	assert.Equal(t, StatusCompleted, project.Status)
	assert.Equal(t, created, project.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT (.+) FROM projects WHERE id = \\$1 AND user_id = \\$2").
			WithArgs(projectID, "user-1").
			WillReturnRows(sqlmock.NewRows(projectColumns).AddRow(projectID, "user-1", "in", "out", "p", "m", "completed", time.Now()))

		p, err := store.Get(context.Background(), projectID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "out", p.OutputImageURL)
	})

	t.Run("other owner", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT (.+) FROM projects").
			WithArgs(projectID, "user-2").
			WillReturnRows(sqlmock.NewRows(projectColumns))

		_, err := store.Get(context.Background(), projectID, "user-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("malformed id", func(t *testing.T) {
		store, mock := newMockStore(t)
		_, err := store.Get(context.Background(), "not-a-uuid", "user-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_ListByUser(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM projects WHERE user_id = \\$1 ORDER BY created_at DESC LIMIT \\$2").
		WithArgs("user-1", 10).
		WillReturnRows(sqlmock.NewRows(projectColumns).
			AddRow("b", "user-1", "in2", "out2", "p2", "m", "completed", now).
			AddRow("a", "user-1", "in1", "out1", "p1", "m", "completed", now.Add(-time.Hour)))

	list, err := store.ListByUser(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
}

func TestPostgresStore_ListByUser_Empty(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM projects").
		WithArgs("user-1", 50).
		WillReturnRows(sqlmock.NewRows(projectColumns))

	list, err := store.ListByUser(context.Background(), "user-1", 50)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

type fakeStore struct {
	project   *ProjectRecord
	getErr    error
	deleteErr error
	deleted   bool
}

func (f *fakeStore) Create(context.Context, *ProjectRecord) error { return nil }
func (f *fakeStore) ListByUser(context.Context, string, int) ([]*ProjectRecord, error) {
	return nil, nil
}

func (f *fakeStore) Get(_ context.Context, id, userID string) (*ProjectRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.project == nil || f.project.ID != id || f.project.UserID != userID {
		return nil, ErrNotFound
	}
	return f.project, nil
}

func (f *fakeStore) Delete(context.Context, string, string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = true
	return nil
}

type fakeObjects struct {
	mu      sync.Mutex
	deleted map[string]string
	err     error
}

func (f *fakeObjects) Put(context.Context, string, string, []byte, string) (string, error) {
	return "", nil
}

func (f *fakeObjects) Delete(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted == nil {
		f.deleted = map[string]string{}
	}
	f.deleted[bucket] = key
	return f.err
}

func TestDeleter_RemovesRowAndObjects(t *testing.T) {
	store := &fakeStore{project: &ProjectRecord{
		ID:             projectID,
		UserID:         "user-1",
		InputImageURL:  publicBase + "/input-images/input/1-cat.png",
		OutputImageURL: publicBase + "/output-images/output/2-generated.jpg",
	}}
	objs := &fakeObjects{}

	deleter := NewDeleter(store, objs, "input-images", "output-images", nil)
	require.NoError(t, deleter.Delete(context.Background(), "user-1", projectID))

	assert.True(t, store.deleted)
	assert.Equal(t, map[string]string{
		"input-images":  "input/1-cat.png",
		"output-images": "output/2-generated.jpg",
	}, objs.deleted)
}

func TestDeleter_SkipsForeignAndMissingURLs(t *testing.T) {
	store := &fakeStore{project: &ProjectRecord{
		ID:     projectID,
		UserID: "user-1",
		// output fell back to the provider URL, input upload stored nothing
		OutputImageURL: "https://replicate.delivery/abc/out.webp",
	}}
	objs := &fakeObjects{}

	deleter := NewDeleter(store, objs, "input-images", "output-images", nil)
	require.NoError(t, deleter.Delete(context.Background(), "user-1", projectID))

	assert.True(t, store.deleted)
	assert.Empty(t, objs.deleted)
}

func TestDeleter_OutputStoredInInputBucket(t *testing.T) {
	store := &fakeStore{project: &ProjectRecord{
		ID:             projectID,
		UserID:         "user-1",
		OutputImageURL: publicBase + "/input-images/output/2-generated.png",
	}}
	objs := &fakeObjects{}

	require.NoError(t, NewDeleter(store, objs, "input-images", "output-images", nil).Delete(context.Background(), "user-1", projectID))
	assert.Equal(t, map[string]string{"input-images": "output/2-generated.png"}, objs.deleted)
}

func TestDeleter_StorageFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	store := &fakeStore{project: &ProjectRecord{
		ID:            projectID,
		UserID:        "user-1",
		InputImageURL: publicBase + "/input-images/input/1-cat.png",
	}}
	objs := &fakeObjects{err: errors.New("access denied")}

	deleter := NewDeleter(store, objs, "input-images", "output-images", observability.NewLogger(observability.InfoLevel, &buf))
	require.NoError(t, deleter.Delete(context.Background(), "user-1", projectID))
	assert.Contains(t, buf.String(), "access denied")
}

func TestDeleter_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		deleter := NewDeleter(&fakeStore{}, &fakeObjects{}, "input-images", "output-images", nil)
		assert.ErrorIs(t, deleter.Delete(context.Background(), "user-1", projectID), ErrNotFound)
	})

	t.Run("row delete fails", func(t *testing.T) {
		store := &fakeStore{
			project:   &ProjectRecord{ID: projectID, UserID: "user-1", InputImageURL: publicBase + "/input-images/input/1.png"},
			deleteErr: errors.New("deadlock"),
		}
		objs := &fakeObjects{}
		err := NewDeleter(store, objs, "input-images", "output-images", nil).Delete(context.Background(), "user-1", projectID)
		assert.ErrorIs(t, err, ErrDeleteFailed)
		assert.Empty(t, objs.deleted, "objects must survive when the row does")
	})

	t.Run("persistence not configured", func(t *testing.T) {
		store := NewPostgresStore(postgres.NewSource(postgres.ConnectionConfig{}))
		err := NewDeleter(store, nil, "input-images", "output-images", nil).Delete(context.Background(), "user-1", projectID)
		assert.ErrorIs(t, err, postgres.ErrNotConfigured)
	})
}
