package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uploadkit/uploadkit/internal/db"
	"github.com/uploadkit/uploadkit/internal/model"
	"github.com/uploadkit/uploadkit/internal/repository"
	"github.com/uploadkit/uploadkit/internal/storage"
)

func newFileMux(t *testing.T) (*http.ServeMux, storage.Storage, repository.UploadRepository) {
	t.Helper()

	database, err := db.Init("sqlite", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))

	store := storage.NewLocal(afero.NewMemMapFs(), storage.LocalConfig{
		SignedURLPath: "/temporary",
		SigningSecret: "test-secret",
	})
	uploads := repository.NewUploadRepository(database, func(string) storage.Storage { return store })
	h := NewFileHandler(store, uploads, 5*time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /temporary/{path...}", h.ServeTemporary)
	mux.HandleFunc("GET /uploads/{id}/link", h.TemporaryLink)
	return mux, store, uploads
}

func TestServeTemporaryStreamsFile(t *testing.T) {
	mux, store, _ := newFileMux(t)

	content := append([]byte{0xff, 0xd8, 0xff, 0xe0}, bytes.Repeat([]byte{0}, 64)...)
	path, err := store.Put(context.Background(), bytes.NewReader(content), "posts/p1", "a.jpg", storage.PutOptions{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/temporary/"+path, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, content, rec.Body.Bytes())
}

func TestServeTemporaryMissingFile(t *testing.T) {
	mux, _, _ := newFileMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/temporary/does/not/exist.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTemporaryLinkIssuesSignedURL(t *testing.T) {
	mux, store, uploads := newFileMux(t)
	ctx := context.Background()

	path, err := store.Put(ctx, bytes.NewReader([]byte("x")), "posts/p1", "a.jpg", storage.PutOptions{})
	require.NoError(t, err)

	upload := &model.Upload{
		ID: uuid.NewString(), OwnerType: "posts", OwnerID: "p1",
		Name: "a.jpg", OriginalName: "a.jpg", Extension: "jpg",
		Size: 1, Type: "image/jpeg", Path: path,
	}
	require.NoError(t, uploads.Create(ctx, upload))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/uploads/"+upload.ID+"/link", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["url"], "/temporary/posts/p1/a.jpg?token=")

	// The issued link actually serves the file
	served := httptest.NewRecorder()
	mux.ServeHTTP(served, httptest.NewRequest("GET", body["url"], nil))
	assert.Equal(t, http.StatusOK, served.Code)
}

// captureURLStore records the response options forwarded to TemporaryURL.
type captureURLStore struct {
	storage.Storage
	opts storage.URLOptions
}

func (c *captureURLStore) TemporaryURL(ctx context.Context, p string, expiry time.Duration, opts storage.URLOptions) (string, error) {
	c.opts = opts
	return c.Storage.TemporaryURL(ctx, p, expiry, opts)
}

func TestTemporaryLinkForwardsResponseOptions(t *testing.T) {
	database, err := db.Init("sqlite", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))

	st := &captureURLStore{Storage: storage.NewLocal(afero.NewMemMapFs(), storage.LocalConfig{
		SignedURLPath: "/temporary",
		SigningSecret: "test-secret",
	})}
	uploads := repository.NewUploadRepository(database, func(string) storage.Storage { return st })
	h := NewFileHandler(st, uploads, 5*time.Minute)

	ctx := context.Background()
	path, err := st.Put(ctx, bytes.NewReader([]byte("x")), "posts/p1", "a.jpg", storage.PutOptions{})
	require.NoError(t, err)

	upload := &model.Upload{
		ID: uuid.NewString(), OwnerType: "posts", OwnerID: "p1",
		Name: "a.jpg", OriginalName: "photo.jpg", Extension: "jpg",
		Size: 1, Type: "image/jpeg", Path: path,
	}
	require.NoError(t, uploads.Create(ctx, upload))

	req := httptest.NewRequest("GET", "/uploads/"+upload.ID+"/link", nil)
	req.SetPathValue("id", upload.ID)
	rec := httptest.NewRecorder()
	h.TemporaryLink(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", st.opts.ContentType)
	assert.Equal(t, `inline; filename="photo.jpg"`, st.opts.ContentDisposition)
}

func TestTemporaryLinkUnknownUpload(t *testing.T) {
	mux, _, _ := newFileMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/uploads/missing/link", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
